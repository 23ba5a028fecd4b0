package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gardian_admin/internal/models"
)

// Memory is an in-process Backend for local development and tests. Watches are driven by
// writes made through the same value.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]models.User
	reports    map[string]models.Report
	identities map[string]models.Identity
	watchers   map[chan struct{}]struct{}
	now        func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]models.User),
		reports:    make(map[string]models.Report),
		identities: make(map[string]models.Identity),
		watchers:   make(map[chan struct{}]struct{}),
		now:        time.Now,
	}
}

// changed wakes every watcher; callers hold m.mu.
func (m *Memory) changed() {
	for ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) watch(ctx context.Context, deliver func()) error {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
	}()

	deliver()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			deliver()
		}
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) ListUsersByRole(_ context.Context, role string) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usersByRoleLocked(role), nil
}

func (m *Memory) usersByRoleLocked(role string) []models.User {
	users := make([]models.User, 0)
	for _, u := range m.users {
		if u.Role == role {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users
}

func (m *Memory) WatchUsersByRole(ctx context.Context, role string, fn func([]models.User)) error {
	return m.watch(ctx, func() {
		m.mu.RLock()
		users := m.usersByRoleLocked(role)
		m.mu.RUnlock()
		fn(users)
	})
}

func (m *Memory) PutUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := *u
	if existing, ok := m.users[u.ID]; ok {
		if merged.Barangay == "" {
			merged.Barangay = existing.Barangay
		}
		if merged.OriginalUID == nil {
			merged.OriginalUID = existing.OriginalUID
		}
	}
	m.users[u.ID] = merged
	m.changed()
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, id string, patch models.UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.Status != nil {
		u.Status = *patch.Status
	}
	m.users[id] = u
	m.changed()
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	m.changed()
	return nil
}

// PutReport stores a report as a citizen submission would.
func (m *Memory) PutReport(r models.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.Key()] = r
	m.changed()
}

func (m *Memory) ListReports(_ context.Context) ([]models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reportsLocked(), nil
}

func (m *Memory) reportsLocked() []models.Report {
	reports := make([]models.Report, 0, len(m.reports))
	for _, r := range m.reports {
		reports = append(reports, r)
	}
	return reports
}

func (m *Memory) GetReport(_ context.Context, userID, id string) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[userID+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) UpdateReportStatus(_ context.Context, userID, id string, upd models.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + id
	r, ok := m.reports[key]
	if !ok {
		return ErrNotFound
	}
	r.Status = upd.Status
	if upd.ResolvedImage != nil {
		img := *upd.ResolvedImage
		r.ResolvedImage = &img
	}
	if upd.StampResolvedAt {
		now := m.now()
		r.ResolvedAt = &now
	}
	m.reports[key] = r
	m.changed()
	return nil
}

func (m *Memory) WatchReports(ctx context.Context, fn func([]models.Report)) error {
	return m.watch(ctx, func() {
		m.mu.RLock()
		reports := m.reportsLocked()
		m.mu.RUnlock()
		fn(reports)
	})
}

func (m *Memory) GetIdentity(_ context.Context, id string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ident, nil
}

func (m *Memory) FindIdentityByEmail(_ context.Context, email string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ident := range m.identities {
		if ident.Email != "" && strings.EqualFold(ident.Email, email) {
			return &ident, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindIdentityByPhone(_ context.Context, phone string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ident := range m.identities {
		if ident.Phone != "" && ident.Phone == phone {
			return &ident, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateIdentity(_ context.Context, ident *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[ident.ID]; ok {
		return ErrConflict
	}
	m.identities[ident.ID] = *ident
	return nil
}

func (m *Memory) SaveIdentity(_ context.Context, ident *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[ident.ID] = *ident
	return nil
}
