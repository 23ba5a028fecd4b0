// Package loginflow runs the two-factor administrator sign-in: password, then a one-time code
// sent to the phone on the administrator record.
package loginflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gardian_admin/internal/captcha"
	"gardian_admin/internal/identity"
	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

// State of a login flow.
type State string

const (
	AwaitingCredentials State = "awaiting_credentials"
	AwaitingCode        State = "awaiting_code"
	Authenticated       State = "authenticated"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccessDenied       = errors.New("access denied")
	ErrNoPhone            = errors.New("no phone number is registered for this account, contact another administrator")
	ErrSendFailed         = errors.New("could not send the verification code, please try again")
	ErrIncompleteCode     = errors.New("enter the 6-digit code")
	ErrInvalidCode        = errors.New("invalid code")
	ErrCodeExpired        = errors.New("the code has expired, request a new one")
	ErrCooldown           = errors.New("please wait before requesting another code")
	ErrWrongState         = errors.New("action not available at this step")
	ErrCaptcha            = errors.New("please complete the verification challenge")
	ErrSignInFailed       = errors.New("sign-in failed, please try again")
)

// Provider is the part of the identity provider a login flow drives.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, *models.Identity, error)
	SendCode(ctx context.Context, phone, supersedes string) (string, error)
	ConfirmCode(ctx context.Context, verificationID, code, predecessorID string) (*models.Identity, error)
	IssueSession(ctx context.Context, ident *models.Identity) (*identity.Session, error)
	SignOut(ctx context.Context, sess *identity.Session) error
}

// Recorder receives completed sign-ins. Optional.
type Recorder interface {
	LoginSucceeded(ctx context.Context, adminID, originalID string)
}

// Flow is one sign-in attempt sequence. All methods are safe for concurrent use; submissions
// on the same flow are serialized.
type Flow struct {
	id       string
	provider Provider
	users    store.UserStore
	captcha  *captcha.Challenge
	recorder Recorder
	cooldown time.Duration
	now      func() time.Time

	mu             sync.Mutex
	state          State
	email          string
	pending        *identity.Session
	admin          *models.User
	phone          string
	verificationID string
	cooldownUntil  time.Time
	lastError      string
	session        *identity.Session
	lastActive     time.Time
}

// View is the client-facing snapshot of a flow.
type View struct {
	ID       string          `json:"id"`
	State    State           `json:"state"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Cooldown int             `json:"cooldown"`
	Error    string          `json:"error,omitempty"`
	Captcha  *captcha.Widget `json:"captcha,omitempty"`
}

// SanitizeCode keeps the digits of raw, at most six of them.
func SanitizeCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == 6 {
			break
		}
	}
	return b.String()
}

// ID returns the flow id.
func (f *Flow) ID() string { return f.id }

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError returns the message of the most recent failure, empty after a success.
func (f *Flow) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

// Cooldown returns the whole seconds left before a resend is allowed.
func (f *Flow) Cooldown() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldownLocked()
}

func (f *Flow) cooldownLocked() int {
	left := f.cooldownUntil.Sub(f.now())
	if left <= 0 {
		return 0
	}
	secs := left / time.Second
	if left%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// Session returns the established session once the flow is Authenticated.
func (f *Flow) Session() *identity.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Authenticated {
		return nil
	}
	return f.session
}

// View snapshots the flow for the login page.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{ID: f.id, State: f.state, Email: f.email, Cooldown: f.cooldownLocked(), Error: f.lastError}
	if f.phone != "" {
		v.Phone = identity.MaskPhone(f.phone)
	}
	if f.state == AwaitingCredentials {
		v.Captcha = f.captcha.Widget()
	}
	return v
}

func (f *Flow) touchLocked() {
	f.lastActive = f.now()
}

func (f *Flow) idleSince() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActive
}

// SubmitCredentials runs the password step. Only an administrator record with a phone number
// moves the flow on to AwaitingCode; every other outcome leaves it in AwaitingCredentials.
func (f *Flow) SubmitCredentials(ctx context.Context, email, password, captchaToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()
	if f.state != AwaitingCredentials {
		return ErrWrongState
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return f.failLocked(ctx, ErrMissingCredentials)
	}

	if err := f.captcha.Verify(ctx, captchaToken); err != nil {
		if errors.Is(err, captcha.ErrExpired) {
			return err
		}
		logrus.WithError(err).WithField("flow_id", f.id).Info("captcha verification failed")
		return f.failLocked(ctx, ErrCaptcha)
	}

	sess, ident, err := f.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) && !errors.Is(err, identity.ErrIdentityDisabled) {
			logrus.WithError(err).WithField("flow_id", f.id).Error("password sign-in failed")
			return f.failLocked(ctx, ErrSignInFailed)
		}
		return f.failLocked(ctx, ErrInvalidCredentials)
	}
	f.pending = sess
	f.email = email

	record, err := f.users.GetUser(ctx, ident.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logrus.WithError(err).WithField("identity_id", ident.ID).Error("admin record lookup failed")
	}
	if err != nil || !record.IsAdmin() {
		logrus.WithField("identity_id", ident.ID).Warn("password sign-in without admin record, access denied")
		return f.failLocked(ctx, ErrAccessDenied)
	}
	if strings.TrimSpace(record.Phone) == "" {
		return f.failLocked(ctx, ErrNoPhone)
	}

	vid, err := f.provider.SendCode(ctx, record.Phone, "")
	if err != nil {
		logrus.WithError(err).WithField("identity_id", ident.ID).Error("sending verification code failed")
		return f.failLocked(ctx, ErrSendFailed)
	}

	f.admin = record
	f.phone = record.Phone
	f.verificationID = vid
	f.state = AwaitingCode
	f.cooldownUntil = f.now().Add(f.cooldown)
	f.lastError = ""
	return nil
}

// SubmitCode runs the second step. A wrong code keeps the flow in AwaitingCode and leaves the
// resend cooldown alone.
func (f *Flow) SubmitCode(ctx context.Context, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()
	if f.state != AwaitingCode {
		return ErrWrongState
	}
	code := SanitizeCode(raw)
	if len(code) != 6 {
		f.lastError = ErrIncompleteCode.Error()
		return ErrIncompleteCode
	}

	predecessorID := f.pending.IdentityID
	ident, err := f.provider.ConfirmCode(ctx, f.verificationID, code, predecessorID)
	switch {
	case errors.Is(err, identity.ErrInvalidCode):
		f.lastError = ErrInvalidCode.Error()
		return ErrInvalidCode
	case errors.Is(err, identity.ErrCodeExpired):
		f.lastError = ErrCodeExpired.Error()
		return ErrCodeExpired
	case errors.Is(err, identity.ErrIdentityDisabled):
		return f.failLocked(ctx, ErrAccessDenied)
	case err != nil:
		logrus.WithError(err).WithField("flow_id", f.id).Error("code confirmation failed")
		f.lastError = ErrSignInFailed.Error()
		return ErrSignInFailed
	}

	// The session check keys off the active identity, so the admin record has to exist under
	// the code-verified id before its session is announced.
	profile := *f.admin
	profile.ID = ident.ID
	profile.OriginalUID = &predecessorID
	if err := f.users.PutUser(ctx, &profile); err != nil {
		logrus.WithError(err).WithField("identity_id", ident.ID).Error("merging admin record failed")
		return f.failLocked(ctx, ErrSignInFailed)
	}

	sess, err := f.provider.IssueSession(ctx, ident)
	if err != nil {
		logrus.WithError(err).WithField("identity_id", ident.ID).Error("issuing session failed")
		return f.failLocked(ctx, ErrSignInFailed)
	}
	f.signOutPendingLocked(ctx)

	f.session = sess
	f.state = Authenticated
	f.verificationID = ""
	f.lastError = ""
	f.captcha.Unmount()
	if f.recorder != nil {
		f.recorder.LoginSucceeded(ctx, ident.ID, predecessorID)
	}
	return nil
}

// Resend issues a fresh code to the stored phone number once the cooldown has run out.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()
	if f.state != AwaitingCode {
		return ErrWrongState
	}
	if f.cooldownLocked() > 0 {
		return ErrCooldown
	}
	vid, err := f.provider.SendCode(ctx, f.phone, f.verificationID)
	if err != nil {
		logrus.WithError(err).WithField("flow_id", f.id).Error("resending verification code failed")
		f.lastError = ErrSendFailed.Error()
		return ErrSendFailed
	}
	f.verificationID = vid
	f.cooldownUntil = f.now().Add(f.cooldown)
	f.lastError = ""
	return nil
}

// Cancel drops the pending challenge, signs out a partially established session and returns
// the flow to AwaitingCredentials with a fresh captcha challenge.
func (f *Flow) Cancel(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()
	if f.state == Authenticated {
		return
	}
	f.resetLocked(ctx)
	f.lastError = ""
	f.captcha.Unmount()
	if err := f.captcha.Mount(); err != nil {
		logrus.WithError(err).WithField("flow_id", f.id).Warn("captcha remount failed")
	}
}

// failLocked records err and returns the flow to AwaitingCredentials.
func (f *Flow) failLocked(ctx context.Context, err error) error {
	f.resetLocked(ctx)
	f.lastError = err.Error()
	return err
}

func (f *Flow) resetLocked(ctx context.Context) {
	f.signOutPendingLocked(ctx)
	f.state = AwaitingCredentials
	f.admin = nil
	f.phone = ""
	f.verificationID = ""
	f.cooldownUntil = time.Time{}
}

func (f *Flow) signOutPendingLocked(ctx context.Context) {
	if f.pending == nil {
		return
	}
	if err := f.provider.SignOut(ctx, f.pending); err != nil {
		logrus.WithError(err).WithField("session_id", f.pending.ID).Error("signing out password session failed")
	}
	f.pending = nil
}

// close releases everything the flow holds. The established session of an authenticated flow
// belongs to its user and is kept.
func (f *Flow) close(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Authenticated {
		f.resetLocked(ctx)
	}
	f.captcha.Unmount()
}
