package models

import "time"

// Roles and account statuses stored on a User record.
const (
	RoleAdmin = "admin"

	StatusActive    = "active"
	StatusPending   = "pending"
	StatusSuspended = "suspended"
)

// User is the users/{identityId} document. Administrators and citizen submitters share the
// collection; only records with Role == RoleAdmin grant dashboard access.
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	Email       string    `json:"email" gorm:"index" firestore:"email"`
	FirstName   string    `json:"firstName" firestore:"firstName"`
	LastName    string    `json:"lastName" firestore:"lastName"`
	Phone       string    `json:"phone" firestore:"phone"`
	Status      string    `json:"status" firestore:"status"`
	Role        string    `json:"role" gorm:"index" firestore:"role"`
	Barangay    string    `json:"barangay,omitempty" firestore:"barangay,omitempty"`
	OriginalUID *string   `json:"originalUid,omitempty" gorm:"size:64" firestore:"originalUid,omitempty"`
	CreatedAt   time.Time `json:"createdAt" firestore:"createdAt"`
}

// IsAdmin reports whether the record grants dashboard authorization.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// EffectiveStatus treats a missing status as active.
func (u *User) EffectiveStatus() string {
	if u.Status == "" {
		return StatusActive
	}
	return u.Status
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// ValidStatus reports whether s is one of the account statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended:
		return true
	}
	return false
}

// UserPatch carries a partial update of the mutable profile fields. Nil fields are left untouched.
type UserPatch struct {
	Email     *string
	FirstName *string
	LastName  *string
	Phone     *string
	Status    *string
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil && p.Phone == nil && p.Status == nil
}
