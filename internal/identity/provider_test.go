package identity

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gardian_admin/internal/store"
)

type captureSender struct {
	mu   sync.Mutex
	sent map[string]string
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (c *captureSender) Send(_ context.Context, phone, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = make(map[string]string)
	}
	c.sent[phone] = codePattern.FindString(msg)
	return nil
}

func (c *captureSender) code(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[phone]
}

func newTestProvider(t *testing.T) (*Provider, *store.Memory, *captureSender, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mem := store.NewMemory()
	sender := &captureSender{}
	p := NewProvider(mem, rdb, sender, Options{JWTSecret: "test-secret", SessionTTL: time.Hour, CodeTTL: time.Minute})
	return p, mem, sender, mr
}

func TestPasswordSignIn(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProvider(t)

	ident, sess, err := p.CreateIdentity(ctx, "Admin@Example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", ident.Email)
	assert.Equal(t, ident.ID, sess.IdentityID)

	got, gotIdent, err := p.SignInWithPassword(ctx, "admin@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, gotIdent.ID)
	assert.NotEqual(t, sess.ID, got.ID)

	_, _, err = p.SignInWithPassword(ctx, "admin@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = p.SignInWithPassword(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateIdentityRejectsDuplicateAndWeak(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProvider(t)

	_, _, err := p.CreateIdentity(ctx, "a@example.com", "123")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, _, err = p.CreateIdentity(ctx, "a@example.com", "secret123")
	require.NoError(t, err)
	_, _, err = p.CreateIdentity(ctx, "A@example.com", "secret123")
	assert.ErrorIs(t, err, ErrEmailInUse)
}

func TestCodeChallengeMintsLinkedPhoneIdentity(t *testing.T) {
	ctx := context.Background()
	p, _, sender, _ := newTestProvider(t)

	vid, err := p.SendCode(ctx, "+1 (555) 000-1111", "")
	require.NoError(t, err)
	code := sender.code("+15550001111")
	require.Len(t, code, 6)

	_, err = p.ConfirmCode(ctx, vid, "000000", "u1")
	if code != "000000" {
		assert.ErrorIs(t, err, ErrInvalidCode)
	}

	ident, err := p.ConfirmCode(ctx, vid, code, "u1")
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", ident.Phone)
	require.NotNil(t, ident.Supersedes)
	assert.Equal(t, "u1", *ident.Supersedes)

	// consumed
	_, err = p.ConfirmCode(ctx, vid, code, "u1")
	assert.ErrorIs(t, err, ErrCodeExpired)

	// same phone resolves to the same principal
	vid2, err := p.SendCode(ctx, "+15550001111", "")
	require.NoError(t, err)
	again, err := p.ConfirmCode(ctx, vid2, sender.code("+15550001111"), "u1")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, again.ID)
}

func TestCodeChallengeAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	p, _, sender, _ := newTestProvider(t)

	vid, err := p.SendCode(ctx, "+15550002222", "")
	require.NoError(t, err)
	wrong := "111111"
	if sender.code("+15550002222") == wrong {
		wrong = "222222"
	}
	for i := 0; i < maxCodeAttempts; i++ {
		_, err = p.ConfirmCode(ctx, vid, wrong, "")
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = p.ConfirmCode(ctx, vid, sender.code("+15550002222"), "")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestCodeChallengeExpires(t *testing.T) {
	ctx := context.Background()
	p, _, sender, mr := newTestProvider(t)

	vid, err := p.SendCode(ctx, "+15550003333", "")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = p.ConfirmCode(ctx, vid, sender.code("+15550003333"), "")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestSendCodeDropsSupersededChallenge(t *testing.T) {
	ctx := context.Background()
	p, _, sender, mr := newTestProvider(t)

	first, err := p.SendCode(ctx, "+15550004444", "")
	require.NoError(t, err)
	firstCode := sender.code("+15550004444")
	assert.True(t, mr.Exists(codeKeyPrefix+first))

	second, err := p.SendCode(ctx, "+15550004444", first)
	require.NoError(t, err)
	assert.False(t, mr.Exists(codeKeyPrefix+first))
	assert.True(t, mr.Exists(codeKeyPrefix+second))

	_, err = p.ConfirmCode(ctx, first, firstCode, "")
	assert.ErrorIs(t, err, ErrCodeExpired)

	_, err = p.ConfirmCode(ctx, second, sender.code("+15550004444"), "")
	require.NoError(t, err)
}

func TestSendCodeRejectsShortPhone(t *testing.T) {
	p, _, _, _ := newTestProvider(t)
	_, err := p.SendCode(context.Background(), "12", "")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestSignOutRevokesAndEmits(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProvider(t)
	events, cancel := p.Subscribe()
	defer cancel()

	_, sess, err := p.CreateIdentity(ctx, "a@example.com", "secret123")
	require.NoError(t, err)
	ev := <-events
	assert.Equal(t, sess.ID, ev.SessionID)
	require.NotNil(t, ev.Identity)

	_, err = p.Verify(ctx, sess.Token)
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, sess))
	ev = <-events
	assert.Equal(t, sess.ID, ev.SessionID)
	assert.Nil(t, ev.Identity)

	_, err = p.Verify(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestDisableIdentityEndsSessions(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProvider(t)

	ident, sess, err := p.CreateIdentity(ctx, "a@example.com", "secret123")
	require.NoError(t, err)
	require.NoError(t, p.DisableIdentity(ctx, ident.ID))

	_, err = p.Verify(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, _, err = p.SignInWithPassword(ctx, "a@example.com", "secret123")
	assert.ErrorIs(t, err, ErrIdentityDisabled)
}

func TestTokenValidation(t *testing.T) {
	issuer := NewTokenIssuer("k", time.Minute)
	tok, _, err := issuer.Generate("id-1", "sid-1", time.Now())
	require.NoError(t, err)

	_, err = NewTokenIssuer("other", time.Minute).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// issued long ago
	old, _, err := issuer.Generate("id-1", "sid-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = issuer.Validate(old)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestNormalizeAndMaskPhone(t *testing.T) {
	assert.Equal(t, "+639171234567", NormalizePhone(" +63 917-123-4567 "))
	assert.Equal(t, "", NormalizePhone("123"))
	assert.Equal(t, "*********4567", MaskPhone("+639171234567"))
}
