// Package session tracks which sessions belong to administrators. It follows the identity
// provider's session-change stream for the life of the process.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gardian_admin/internal/identity"
	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

// ErrUnauthenticated is returned by Resolve for any session that does not grant access.
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider is the part of the identity provider the session store consumes.
type Provider interface {
	Subscribe() (<-chan identity.Event, func())
	Verify(ctx context.Context, token string) (*identity.Session, error)
	SignOut(ctx context.Context, sess *identity.Session) error
}

// State is the evaluated standing of one session.
type State struct {
	SessionID     string       `json:"sessionId"`
	IdentityID    string       `json:"identityId"`
	Authenticated bool         `json:"authenticated"`
	Admin         bool         `json:"admin"`
	User          *models.User `json:"user,omitempty"`
	EvaluatedAt   time.Time    `json:"evaluatedAt"`
}

// Store holds the evaluated state of every session seen on the stream.
type Store struct {
	provider Provider
	users    store.UserStore
	now      func() time.Time

	mu     sync.RWMutex
	states map[string]State
}

// NewStore returns a store that has not subscribed yet; call Run.
func NewStore(provider Provider, users store.UserStore) *Store {
	return &Store{
		provider: provider,
		users:    users,
		now:      time.Now,
		states:   make(map[string]State),
	}
}

// Run holds the single subscription to the session-change stream until ctx is done.
func (s *Store) Run(ctx context.Context) {
	events, cancel := s.provider.Subscribe()
	defer cancel()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Apply(ctx, ev)
		case <-prune.C:
			s.Prune(24 * time.Hour)
		}
	}
}

// Apply evaluates one session-change event.
func (s *Store) Apply(ctx context.Context, ev identity.Event) {
	if ev.Identity == nil {
		s.mu.Lock()
		delete(s.states, ev.SessionID)
		s.mu.Unlock()
		return
	}
	s.evaluate(ctx, ev.SessionID, ev.Identity.ID)
}

// evaluate looks up the administrator record behind a session and records the outcome.
// Sessions without an admin record are signed out. A failed lookup leaves the session
// unauthenticated until the next event for it; it is not retried.
func (s *Store) evaluate(ctx context.Context, sessionID, identityID string) State {
	st := State{SessionID: sessionID, IdentityID: identityID, EvaluatedAt: s.now()}
	log := logrus.WithFields(logrus.Fields{"session_id": sessionID, "identity_id": identityID})

	u, err := s.users.GetUser(ctx, identityID)
	switch {
	case err == nil && u.IsAdmin():
		st.Authenticated = true
		st.Admin = true
		st.User = u
	case err == nil || errors.Is(err, store.ErrNotFound):
		log.Warn("session without admin record, signing out")
		s.record(st)
		if err := s.provider.SignOut(ctx, &identity.Session{ID: sessionID, IdentityID: identityID}); err != nil {
			log.WithError(err).Error("forced sign-out failed")
		}
		return st
	default:
		log.WithError(err).Error("admin record lookup failed")
	}
	s.record(st)
	return st
}

func (s *Store) record(st State) {
	s.mu.Lock()
	s.states[st.SessionID] = st
	s.mu.Unlock()
}

// Lookup returns the recorded state of a session.
func (s *Store) Lookup(sessionID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sessionID]
	return st, ok
}

// Resolve validates token and returns its session state. A session the stream has not
// delivered yet is evaluated on the spot.
func (s *Store) Resolve(ctx context.Context, token string) (State, error) {
	if token == "" {
		return State{}, ErrUnauthenticated
	}
	sess, err := s.provider.Verify(ctx, token)
	if err != nil {
		return State{}, ErrUnauthenticated
	}
	st, ok := s.Lookup(sess.ID)
	if !ok {
		st = s.evaluate(ctx, sess.ID, sess.IdentityID)
	}
	if !st.Authenticated || !st.Admin {
		return st, ErrUnauthenticated
	}
	return st, nil
}

// SignOut ends the session behind token.
func (s *Store) SignOut(ctx context.Context, token string) error {
	sess, err := s.provider.Verify(ctx, token)
	if err != nil {
		return nil
	}
	if err := s.provider.SignOut(ctx, sess); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.states, sess.ID)
	s.mu.Unlock()
	return nil
}

// Prune drops states evaluated longer ago than maxAge. Their tokens are re-evaluated on use.
func (s *Store) Prune(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.states {
		if st.EvaluatedAt.Before(cutoff) {
			delete(s.states, id)
			n++
		}
	}
	return n
}
