// Package admins manages the administrator roster.
package admins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gardian_admin/internal/events"
	"gardian_admin/internal/identity"
	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

var (
	ErrMissingFields = errors.New("email, first name and last name are required")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrInvalidStatus = errors.New("status must be active, pending or suspended")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrEmailInUse    = errors.New("email already in use")
	ErrWeakPassword  = errors.New("password must be at least 6 characters")
	ErrNotFound      = errors.New("admin not found")
	ErrSelfDelete    = errors.New("you cannot delete your own account")
	ErrNothingToSave = errors.New("no changes to save")
)

// Provisioner is the part of the identity provider the roster needs.
type Provisioner interface {
	CreateIdentity(ctx context.Context, email, password string) (*models.Identity, *identity.Session, error)
	SignOut(ctx context.Context, sess *identity.Session) error
	DisableIdentity(ctx context.Context, id string) error
	SignOutIdentity(ctx context.Context, id string) error
}

// CreateInput is a new administrator. An empty Password means the configured throwaway one.
type CreateInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Status    string `json:"status"`
}

// EditInput carries the editable fields. Nil fields are left alone.
type EditInput struct {
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
	Status    *string `json:"status"`
}

// Query narrows the roster.
type Query struct {
	Search string
	// Status is an account status or "" / "all". A record without status counts as active.
	Status string
}

// Counts summarizes the roster by status.
type Counts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Suspended int `json:"suspended"`
}

// Service owns the live roster and its mutations.
type Service struct {
	users           store.UserStore
	provider        Provisioner
	events          events.Publisher
	initialPassword string
	now             func() time.Time

	mu     sync.RWMutex
	roster []models.User
}

// NewService wires the roster service.
func NewService(users store.UserStore, provider Provisioner, pub events.Publisher, initialPassword string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{users: users, provider: provider, events: pub, initialPassword: initialPassword, now: time.Now}
}

// Run keeps the roster current until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for {
		err := s.users.WatchUsersByRole(ctx, models.RoleAdmin, s.setRoster)
		if ctx.Err() != nil {
			return
		}
		logrus.WithError(err).Error("admin roster watch failed, resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *Service) setRoster(users []models.User) {
	sorted := make([]models.User, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	s.mu.Lock()
	s.roster = sorted
	s.mu.Unlock()
}

// Refresh loads the roster once, for callers that do not Run the watch.
func (s *Service) Refresh(ctx context.Context) error {
	users, err := s.users.ListUsersByRole(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	s.setRoster(users)
	return nil
}

// List returns the administrators matching q and the status counts of the whole roster.
func (s *Service) List(q Query) ([]models.User, Counts) {
	s.mu.RLock()
	roster := s.roster
	s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	status := strings.ToLower(q.Status)
	if status == "all" {
		status = ""
	}

	out := make([]models.User, 0, len(roster))
	var c Counts
	for i := range roster {
		u := &roster[i]
		c.Total++
		switch u.EffectiveStatus() {
		case models.StatusActive:
			c.Active++
		case models.StatusPending:
			c.Pending++
		case models.StatusSuspended:
			c.Suspended++
		}
		if status != "" && u.EffectiveStatus() != status {
			continue
		}
		if needle != "" && !containsFold(needle, u.Email, u.FirstName, u.LastName) {
			continue
		}
		out = append(out, *u)
	}
	return out, c
}

func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// Create provisions the identity, writes the administrator record under its id and signs out
// the session provisioning opened, leaving the acting administrator's session untouched.
func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.Email == "" || in.FirstName == "" || in.LastName == "" {
		return nil, ErrMissingFields
	}
	if !validEmail(in.Email) {
		return nil, ErrInvalidEmail
	}
	if in.Status == "" {
		in.Status = models.StatusActive
	}
	if !models.ValidStatus(in.Status) {
		return nil, ErrInvalidStatus
	}
	phone, err := cleanPhone(in.Phone)
	if err != nil {
		return nil, err
	}
	password := in.Password
	if password == "" {
		password = s.initialPassword
	}

	ident, sess, err := s.provider.CreateIdentity(ctx, in.Email, password)
	switch {
	case errors.Is(err, identity.ErrEmailInUse):
		return nil, ErrEmailInUse
	case errors.Is(err, identity.ErrWeakPassword):
		return nil, ErrWeakPassword
	case err != nil:
		return nil, fmt.Errorf("provision identity: %w", err)
	}

	u := &models.User{
		ID:        ident.ID,
		Email:     ident.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     phone,
		Status:    in.Status,
		Role:      models.RoleAdmin,
		CreatedAt: s.now(),
	}
	writeErr := s.users.PutUser(ctx, u)
	if err := s.provider.SignOut(ctx, sess); err != nil {
		logrus.WithError(err).WithField("identity_id", ident.ID).Error("signing out provisioned session failed")
	}
	if writeErr != nil {
		return nil, fmt.Errorf("write admin record: %w", writeErr)
	}

	logrus.WithFields(logrus.Fields{"admin_id": u.ID, "actor_id": actorID}).Info("admin created")
	events.Emit(ctx, s.events, events.SubjectAdminCreated, events.AdminChanged{AdminID: u.ID, Email: u.Email, ActorID: actorID})
	return u, nil
}

// Update applies a partial edit. The email is written only when it differs from the stored one.
func (s *Service) Update(ctx context.Context, actorID, id string, in EditInput) error {
	current, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !current.IsAdmin()) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load admin: %w", err)
	}

	var patch models.UserPatch
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if !validEmail(email) {
			return ErrInvalidEmail
		}
		if email != current.Email {
			patch.Email = &email
		}
	}
	if in.FirstName != nil {
		v := strings.TrimSpace(*in.FirstName)
		if v == "" {
			return ErrMissingFields
		}
		patch.FirstName = &v
	}
	if in.LastName != nil {
		v := strings.TrimSpace(*in.LastName)
		if v == "" {
			return ErrMissingFields
		}
		patch.LastName = &v
	}
	if in.Phone != nil {
		v, err := cleanPhone(*in.Phone)
		if err != nil {
			return err
		}
		patch.Phone = &v
	}
	if in.Status != nil {
		if !models.ValidStatus(*in.Status) {
			return ErrInvalidStatus
		}
		patch.Status = in.Status
	}
	if patch.Empty() {
		return ErrNothingToSave
	}

	if err := s.users.UpdateUser(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update admin: %w", err)
	}
	logrus.WithFields(logrus.Fields{"admin_id": id, "actor_id": actorID}).Info("admin updated")
	events.Emit(ctx, s.events, events.SubjectAdminUpdated, events.AdminChanged{AdminID: id, ActorID: actorID})
	return nil
}

// Delete removes the administrator record and the records merged from it at sign-in, then
// disables the password credential and ends the sessions of the merged identities.
func (s *Service) Delete(ctx context.Context, actor *models.User, id string) error {
	if actor != nil && (actor.ID == id || (actor.OriginalUID != nil && *actor.OriginalUID == id)) {
		return ErrSelfDelete
	}
	target, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !target.IsAdmin()) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load admin: %w", err)
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete admin: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{"admin_id": id, "actor_id": s.actorID(actor)})
	if err := s.provider.DisableIdentity(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Error("disabling deleted admin's credential failed")
	}
	linked, err := s.users.ListUsersByRole(ctx, models.RoleAdmin)
	if err != nil {
		log.WithError(err).Error("listing merged admin records failed")
	}
	for i := range linked {
		u := &linked[i]
		if u.OriginalUID == nil || *u.OriginalUID != id {
			continue
		}
		if err := s.users.DeleteUser(ctx, u.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("linked_id", u.ID).Error("deleting merged admin record failed")
		}
		if err := s.provider.SignOutIdentity(ctx, u.ID); err != nil {
			log.WithError(err).WithField("linked_id", u.ID).Error("signing out merged identity failed")
		}
	}

	log.Info("admin deleted")
	events.Emit(ctx, s.events, events.SubjectAdminDeleted, events.AdminChanged{AdminID: id, Email: target.Email, ActorID: s.actorID(actor)})
	return nil
}

func (s *Service) actorID(actor *models.User) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

// cleanPhone allows an empty phone; anything else must be a dialable number.
func cleanPhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	phone := identity.NormalizePhone(raw)
	if phone == "" {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
