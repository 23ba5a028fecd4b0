package loginflow

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gardian_admin/internal/captcha"
	"gardian_admin/internal/identity"
	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

var sixDigits = regexp.MustCompile(`\d{6}`)

type fakeSMS struct {
	mu    sync.Mutex
	last  map[string]string
	sends int
	fail  bool
}

func (s *fakeSMS) Send(_ context.Context, phone, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("gateway down")
	}
	if s.last == nil {
		s.last = make(map[string]string)
	}
	s.last[phone] = sixDigits.FindString(msg)
	s.sends++
	return nil
}

func (s *fakeSMS) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[phone]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	provider *identity.Provider
	users    *store.Memory
	sms      *fakeSMS
	clock    *clock
	registry *Registry
	adminID  string
}

const adminPhone = "+15550001111"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := store.NewMemory()
	sms := &fakeSMS{}
	clk := &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	p := identity.NewProvider(mem, rdb, sms, identity.Options{JWTSecret: "k", SessionTTL: time.Hour, CodeTTL: 5 * time.Minute})

	ident, _, err := p.CreateIdentity(context.Background(), "admin@example.com", "secret123")
	require.NoError(t, err)
	require.NoError(t, mem.PutUser(context.Background(), &models.User{
		ID: ident.ID, Email: ident.Email, FirstName: "Ana", LastName: "Reyes",
		Phone: adminPhone, Status: models.StatusActive, Role: models.RoleAdmin,
	}))

	reg := NewRegistry(p, mem, captcha.NopVerifier{}, nil, Options{ResendCooldown: 30 * time.Second, IdleTTL: time.Minute, Now: clk.Now})
	return &fixture{provider: p, users: mem, sms: sms, clock: clk, registry: reg, adminID: ident.ID}
}

func TestSanitizeCode(t *testing.T) {
	assert.Equal(t, "123456", SanitizeCode("12-34 56"))
	assert.Equal(t, "123456", SanitizeCode("1234567890"))
	assert.Equal(t, "", SanitizeCode("abc"))
	assert.Equal(t, "42", SanitizeCode("4a2"))
}

func TestFullSignInMergesAdminRecord(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	f, err := fx.registry.Start()
	require.NoError(t, err)

	require.NoError(t, f.SubmitCredentials(ctx, "admin@example.com", "secret123", ""))
	assert.Equal(t, AwaitingCode, f.State())
	assert.Equal(t, 30, f.Cooldown())

	code := fx.sms.code(adminPhone)
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	fx.clock.Advance(5 * time.Second)
	assert.ErrorIs(t, f.SubmitCode(ctx, wrong), ErrInvalidCode)
	assert.Equal(t, AwaitingCode, f.State())
	assert.Equal(t, "invalid code", f.LastError())
	assert.Equal(t, 25, f.Cooldown())

	require.NoError(t, f.SubmitCode(ctx, code))
	assert.Equal(t, Authenticated, f.State())
	assert.Empty(t, f.LastError())

	sess := f.Session()
	require.NotNil(t, sess)
	assert.NotEqual(t, fx.adminID, sess.IdentityID)

	merged, err := fx.users.GetUser(ctx, sess.IdentityID)
	require.NoError(t, err)
	assert.True(t, merged.IsAdmin())
	require.NotNil(t, merged.OriginalUID)
	assert.Equal(t, fx.adminID, *merged.OriginalUID)
	assert.Equal(t, "Ana", merged.FirstName)

	_, err = fx.provider.Verify(ctx, sess.Token)
	assert.NoError(t, err)
}

func TestNonAdminIsDenied(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	ident, _, err := fx.provider.CreateIdentity(ctx, "citizen@example.com", "secret123")
	require.NoError(t, err)
	require.NoError(t, fx.users.PutUser(ctx, &models.User{ID: ident.ID, Role: "user", Phone: "+15550009999"}))

	f, err := fx.registry.Start()
	require.NoError(t, err)
	err = f.SubmitCredentials(ctx, "citizen@example.com", "secret123", "")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, AwaitingCredentials, f.State())
	assert.Equal(t, "access denied", f.LastError())
	assert.Zero(t, fx.sms.sends)
}

func TestMissingAdminRecordIsDenied(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, _, err := fx.provider.CreateIdentity(ctx, "orphan@example.com", "secret123")
	require.NoError(t, err)

	f, err := fx.registry.Start()
	require.NoError(t, err)
	assert.ErrorIs(t, f.SubmitCredentials(ctx, "orphan@example.com", "secret123", ""), ErrAccessDenied)
}

func TestMissingPhoneIsTerminal(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	phone := ""
	require.NoError(t, fx.users.UpdateUser(ctx, fx.adminID, models.UserPatch{Phone: &phone}))

	f, err := fx.registry.Start()
	require.NoError(t, err)
	assert.ErrorIs(t, f.SubmitCredentials(ctx, "admin@example.com", "secret123", ""), ErrNoPhone)
	assert.Equal(t, AwaitingCredentials, f.State())
}

func TestWrongPasswordAndMissingFields(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	f, err := fx.registry.Start()
	require.NoError(t, err)

	assert.ErrorIs(t, f.SubmitCredentials(ctx, "", "", ""), ErrMissingCredentials)
	assert.ErrorIs(t, f.SubmitCredentials(ctx, "admin@example.com", "nope", ""), ErrInvalidCredentials)
	assert.Equal(t, AwaitingCredentials, f.State())
	assert.Equal(t, ErrInvalidCredentials.Error(), f.LastError())
}

func TestSendFailureResets(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.sms.fail = true

	f, err := fx.registry.Start()
	require.NoError(t, err)
	assert.ErrorIs(t, f.SubmitCredentials(ctx, "admin@example.com", "secret123", ""), ErrSendFailed)
	assert.Equal(t, AwaitingCredentials, f.State())
}

func TestCodeBeforePasswordIsRejected(t *testing.T) {
	fx := newFixture(t)
	f, err := fx.registry.Start()
	require.NoError(t, err)
	assert.ErrorIs(t, f.SubmitCode(context.Background(), "123456"), ErrWrongState)
	assert.ErrorIs(t, f.Resend(context.Background()), ErrWrongState)
}

func TestResendCooldown(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	f, err := fx.registry.Start()
	require.NoError(t, err)
	require.NoError(t, f.SubmitCredentials(ctx, "admin@example.com", "secret123", ""))

	assert.ErrorIs(t, f.Resend(ctx), ErrCooldown)

	prev := f.Cooldown()
	for i := 0; i < 30; i++ {
		fx.clock.Advance(time.Second)
		cur := f.Cooldown()
		assert.Equal(t, prev-1, cur)
		prev = cur
	}
	assert.Zero(t, f.Cooldown())

	oldID, oldCode := f.verificationID, fx.sms.code(adminPhone)
	require.NoError(t, f.Resend(ctx))
	assert.Equal(t, 30, f.Cooldown())
	assert.Equal(t, 2, fx.sms.sends)
	assert.NotEqual(t, oldID, f.verificationID)

	// the replaced challenge no longer confirms
	_, err = fx.provider.ConfirmCode(ctx, oldID, oldCode, fx.adminID)
	assert.ErrorIs(t, err, identity.ErrCodeExpired)

	// the newest code is the one that counts
	require.NoError(t, f.SubmitCode(ctx, fx.sms.code(adminPhone)))
	assert.Equal(t, Authenticated, f.State())
}

func TestCooldownRoundsUp(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	f, err := fx.registry.Start()
	require.NoError(t, err)
	require.NoError(t, f.SubmitCredentials(ctx, "admin@example.com", "secret123", ""))

	fx.clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 29, f.Cooldown())
}

func TestCancelSignsOutPartialSession(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	events, stop := fx.provider.Subscribe()
	defer stop()

	f, err := fx.registry.Start()
	require.NoError(t, err)
	require.NoError(t, f.SubmitCredentials(ctx, "admin@example.com", "secret123", ""))
	opened := <-events
	require.NotNil(t, opened.Identity)

	f.Cancel(ctx)
	closed := <-events
	assert.Equal(t, opened.SessionID, closed.SessionID)
	assert.Nil(t, closed.Identity)

	assert.Equal(t, AwaitingCredentials, f.State())
	assert.Zero(t, f.Cooldown())
	assert.NotNil(t, f.View().Captcha)
}

func TestRegistryCloseAndSweep(t *testing.T) {
	fx := newFixture(t)
	a, err := fx.registry.Start()
	require.NoError(t, err)
	_, err = fx.registry.Start()
	require.NoError(t, err)
	assert.Equal(t, 2, fx.registry.Len())

	fx.registry.Close(context.Background(), a.ID())
	_, ok := fx.registry.Get(a.ID())
	assert.False(t, ok)
	assert.Nil(t, a.View().Captcha)

	fx.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, fx.registry.Sweep(context.Background()))
	assert.Zero(t, fx.registry.Len())
}
