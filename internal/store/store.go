// Package store holds the persistence interfaces consumed by the service and their backends:
// postgres (gorm + lib/pq), firestore, and an in-memory store for development and tests.
package store

import (
	"context"
	"errors"

	"gardian_admin/internal/models"
)

var (
	// ErrNotFound is returned when a point lookup or targeted write finds no record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("record already exists")
)

// UserStore reads and writes users/{id} documents.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]models.User, error)
	// WatchUsersByRole delivers the full matching roster on start and after every change,
	// blocking until ctx is done or the subscription fails.
	WatchUsersByRole(ctx context.Context, role string, fn func([]models.User)) error
	// PutUser creates the record or merges u's fields onto the existing one.
	PutUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) error
	DeleteUser(ctx context.Context, id string) error
}

// ReportStore reads and writes users/{uid}/uploads/{id} documents.
type ReportStore interface {
	// ListReports spans every submitter's uploads.
	ListReports(ctx context.Context) ([]models.Report, error)
	GetReport(ctx context.Context, userID, id string) (*models.Report, error)
	UpdateReportStatus(ctx context.Context, userID, id string, upd models.StatusUpdate) error
	// WatchReports delivers the full cross-user report set on start and after every change,
	// blocking until ctx is done or the subscription fails.
	WatchReports(ctx context.Context, fn func([]models.Report)) error
}

// IdentityStore persists the identity provider's principals.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	FindIdentityByPhone(ctx context.Context, phone string) (*models.Identity, error)
	CreateIdentity(ctx context.Context, ident *models.Identity) error
	SaveIdentity(ctx context.Context, ident *models.Identity) error
}

// Backend bundles the three stores served by one data backend.
type Backend interface {
	UserStore
	ReportStore
	IdentityStore
}
