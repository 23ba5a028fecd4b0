// Package identity is the identity provider: password sign-in, out-of-band phone code
// challenges, session tokens, revocation, and the session-change stream.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"gardian_admin/internal/models"
	"gardian_admin/internal/sms"
	"gardian_admin/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrIdentityDisabled   = errors.New("account disabled")
	ErrEmailInUse         = errors.New("email already in use")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrCodeExpired        = errors.New("verification code expired")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session signed out")
)

const (
	revokedKeyPrefix  = "session:revoked:"
	sessionsKeyPrefix = "identity:sessions:"
	minPasswordLength = 6
)

// Session is an established sign-in of one identity.
type Session struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identityId"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Event is one entry of the session-change stream. Identity is nil when the session ended.
type Event struct {
	SessionID string
	Identity  *models.Identity
}

// Options configures a Provider.
type Options struct {
	JWTSecret  string
	SessionTTL time.Duration
	CodeTTL    time.Duration
	Now        func() time.Time
}

// Provider implements the identity provider on an IdentityStore, redis and an SMS sender.
type Provider struct {
	identities store.IdentityStore
	rdb        *redis.Client
	codes      *codeStore
	sender     sms.Sender
	tokens     *TokenIssuer
	sessionTTL time.Duration
	now        func() time.Time

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewProvider wires a provider.
func NewProvider(identities store.IdentityStore, rdb *redis.Client, sender sms.Sender, opts Options) *Provider {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	return &Provider{
		identities: identities,
		rdb:        rdb,
		codes:      &codeStore{rdb: rdb, ttl: opts.CodeTTL},
		sender:     sender,
		tokens:     NewTokenIssuer(opts.JWTSecret, opts.SessionTTL),
		sessionTTL: opts.SessionTTL,
		now:        opts.Now,
		subs:       make(map[int]chan Event),
	}
}

// Subscribe opens a view of the session-change stream. The returned func closes it.
func (p *Provider) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan Event, 64)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

func (p *Provider) emit(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			logrus.WithField("session_id", ev.SessionID).Warn("session event subscriber full, dropping event")
		}
	}
}

// SignInWithPassword verifies an email/password pair and opens a session for it.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*Session, *models.Identity, error) {
	ident, err := p.identities.FindIdentityByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find identity: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if ident.Disabled {
		return nil, nil, ErrIdentityDisabled
	}
	sess, err := p.IssueSession(ctx, ident)
	if err != nil {
		return nil, nil, err
	}
	return sess, ident, nil
}

// CreateIdentity provisions an email/password identity and, like a fresh sign-up, opens a
// session for it.
func (p *Provider) CreateIdentity(ctx context.Context, email, password string) (*models.Identity, *Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < minPasswordLength {
		return nil, nil, ErrWeakPassword
	}
	if _, err := p.identities.FindIdentityByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailInUse
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("find identity: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	ident := &models.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now(),
	}
	if err := p.identities.CreateIdentity(ctx, ident); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, ErrEmailInUse
		}
		return nil, nil, fmt.Errorf("create identity: %w", err)
	}
	sess, err := p.IssueSession(ctx, ident)
	if err != nil {
		return nil, nil, err
	}
	return ident, sess, nil
}

// SendCode issues a one-time code to phone and returns the verification id of the challenge.
// A non-empty supersedes names an earlier challenge that stops being valid once the new code
// has been sent.
func (p *Provider) SendCode(ctx context.Context, phone, supersedes string) (string, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return "", ErrInvalidPhone
	}
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	verificationID := uuid.NewString()
	if err := p.codes.put(ctx, verificationID, phone, code); err != nil {
		return "", fmt.Errorf("store code challenge: %w", err)
	}
	msg := fmt.Sprintf("%s is your Gardian admin verification code.", code)
	if err := p.sender.Send(ctx, phone, msg); err != nil {
		p.codes.drop(ctx, verificationID)
		return "", fmt.Errorf("send code: %w", err)
	}
	if supersedes != "" {
		if err := p.codes.drop(ctx, supersedes); err != nil {
			logrus.WithError(err).WithField("verification_id", supersedes).Warn("dropping superseded code challenge failed")
		}
	}
	logrus.WithFields(logrus.Fields{"verification_id": verificationID, "phone": MaskPhone(phone)}).Info("verification code sent")
	return verificationID, nil
}

// ConfirmCode checks a code against its challenge and returns the phone identity it proves,
// creating that identity on first use. When predecessorID is set the identity is linked to it
// as the identity it supersedes. No session is opened; see IssueSession.
func (p *Provider) ConfirmCode(ctx context.Context, verificationID, code, predecessorID string) (*models.Identity, error) {
	phone, err := p.codes.check(ctx, verificationID, code)
	if err != nil {
		return nil, err
	}

	ident, err := p.identities.FindIdentityByPhone(ctx, phone)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ident = &models.Identity{ID: uuid.NewString(), Phone: phone, CreatedAt: p.now()}
		if predecessorID != "" {
			ident.Supersedes = &predecessorID
		}
		if err := p.identities.CreateIdentity(ctx, ident); err != nil {
			return nil, fmt.Errorf("create phone identity: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("find phone identity: %w", err)
	default:
		if ident.Disabled {
			return nil, ErrIdentityDisabled
		}
		if predecessorID != "" && (ident.Supersedes == nil || *ident.Supersedes != predecessorID) {
			ident.Supersedes = &predecessorID
			if err := p.identities.SaveIdentity(ctx, ident); err != nil {
				return nil, fmt.Errorf("link phone identity: %w", err)
			}
		}
	}
	return ident, nil
}

// IssueSession opens a session for ident and announces it on the session-change stream.
func (p *Provider) IssueSession(ctx context.Context, ident *models.Identity) (*Session, error) {
	sessionID := uuid.NewString()
	token, expires, err := p.tokens.Generate(ident.ID, sessionID, p.now())
	if err != nil {
		return nil, err
	}
	key := sessionsKeyPrefix + ident.ID
	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, p.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("track session: %w", err)
	}

	copyIdent := *ident
	p.emit(Event{SessionID: sessionID, Identity: &copyIdent})
	return &Session{ID: sessionID, IdentityID: ident.ID, Token: token, ExpiresAt: expires}, nil
}

// Verify validates a session token and checks it has not been signed out.
func (p *Provider) Verify(ctx context.Context, token string) (*Session, error) {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	revoked, err := p.rdb.Exists(ctx, revokedKeyPrefix+claims.SessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked > 0 {
		return nil, ErrSessionRevoked
	}
	return &Session{
		ID:         claims.SessionID,
		IdentityID: claims.Subject,
		Token:      token,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// SignOut ends one session.
func (p *Provider) SignOut(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	if err := p.rdb.Set(ctx, revokedKeyPrefix+sess.ID, 1, p.sessionTTL).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	p.rdb.SRem(ctx, sessionsKeyPrefix+sess.IdentityID, sess.ID)
	p.emit(Event{SessionID: sess.ID})
	return nil
}

// SignOutSession ends a session known only by id.
func (p *Provider) SignOutSession(ctx context.Context, identityID, sessionID string) error {
	return p.SignOut(ctx, &Session{ID: sessionID, IdentityID: identityID})
}

// DisableIdentity blocks further sign-ins for id and ends all of its sessions.
func (p *Provider) DisableIdentity(ctx context.Context, id string) error {
	ident, err := p.identities.GetIdentity(ctx, id)
	if err != nil {
		return err
	}
	ident.Disabled = true
	if err := p.identities.SaveIdentity(ctx, ident); err != nil {
		return fmt.Errorf("disable identity: %w", err)
	}
	return p.SignOutIdentity(ctx, id)
}

// SignOutIdentity ends every session of id without blocking new ones.
func (p *Provider) SignOutIdentity(ctx context.Context, id string) error {
	sessions, err := p.rdb.SMembers(ctx, sessionsKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, sid := range sessions {
		if err := p.SignOutSession(ctx, id, sid); err != nil {
			return err
		}
	}
	return nil
}

// NormalizePhone strips formatting from a phone number, keeping a leading plus.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(strings.TrimPrefix(out, "+")) < 7 {
		return ""
	}
	return out
}

// MaskPhone hides all but the last four digits for logs and messages.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
