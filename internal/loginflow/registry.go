package loginflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/captcha"
	"gardian_admin/internal/store"
)

// Options configures the flows a Registry creates.
type Options struct {
	ResendCooldown time.Duration
	IdleTTL        time.Duration
	CaptchaSiteKey string
	Now            func() time.Time
}

// Registry owns the live login flows. Start mounts a flow and its captcha challenge; Close
// unmounts them.
type Registry struct {
	provider Provider
	users    store.UserStore
	verifier captcha.Verifier
	recorder Recorder
	opts     Options

	mu    sync.Mutex
	flows map[string]*Flow
}

// NewRegistry returns an empty registry.
func NewRegistry(provider Provider, users store.UserStore, verifier captcha.Verifier, recorder Recorder, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ResendCooldown <= 0 {
		opts.ResendCooldown = 30 * time.Second
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 15 * time.Minute
	}
	return &Registry{
		provider: provider,
		users:    users,
		verifier: verifier,
		recorder: recorder,
		opts:     opts,
		flows:    make(map[string]*Flow),
	}
}

// Start creates a flow in AwaitingCredentials with its own mounted captcha challenge.
func (r *Registry) Start() (*Flow, error) {
	ch := captcha.NewChallenge(r.verifier, r.opts.CaptchaSiteKey)
	if err := ch.Mount(); err != nil {
		return nil, err
	}
	f := &Flow{
		id:       uuid.NewString(),
		provider: r.provider,
		users:    r.users,
		captcha:  ch,
		recorder: r.recorder,
		cooldown: r.opts.ResendCooldown,
		now:      r.opts.Now,
		state:    AwaitingCredentials,
	}
	f.lastActive = f.now()

	r.mu.Lock()
	r.flows[f.id] = f
	r.mu.Unlock()
	return f, nil
}

// Get returns a live flow.
func (r *Registry) Get(id string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[id]
	return f, ok
}

// Close unmounts a flow, signing out any partial session it still holds.
func (r *Registry) Close(ctx context.Context, id string) {
	r.mu.Lock()
	f, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()
	if ok {
		f.close(ctx)
	}
}

// Len returns the number of live flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep closes flows idle for longer than the configured TTL.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.opts.Now().Add(-r.opts.IdleTTL)
	r.mu.Lock()
	live := make([]*Flow, 0, len(r.flows))
	for _, f := range r.flows {
		live = append(live, f)
	}
	r.mu.Unlock()

	var stale []string
	for _, f := range live {
		if f.idleSince().Before(cutoff) {
			stale = append(stale, f.id)
		}
	}
	for _, id := range stale {
		r.Close(ctx, id)
	}
	if len(stale) > 0 {
		logrus.WithField("count", len(stale)).Debug("closed idle login flows")
	}
	return len(stale)
}

// Run sweeps idle flows until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
