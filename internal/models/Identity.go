package models

import "time"

// Identity is a principal known to the identity provider. Email identities carry a password
// hash; phone identities are minted by one-time-code confirmation and are stable per phone.
type Identity struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	Email        string    `json:"email,omitempty" gorm:"index" firestore:"email,omitempty"`
	Phone        string    `json:"phone,omitempty" gorm:"index" firestore:"phone,omitempty"`
	PasswordHash string    `json:"-" firestore:"passwordHash,omitempty"`
	// Supersedes links a code-verified identity to the password-verified identity it replaced
	// during its most recent sign-in. It is a reference, never ownership.
	Supersedes *string   `json:"supersedes,omitempty" gorm:"size:64" firestore:"supersedes,omitempty"`
	Disabled   bool      `json:"disabled" firestore:"disabled"`
	CreatedAt  time.Time `json:"createdAt" firestore:"createdAt"`
}
