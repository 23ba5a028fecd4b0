// Package captcha verifies human-verification widget tokens. Each login flow owns one
// Challenge for the lifetime of its mount.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyMounted = errors.New("captcha challenge already mounted")
	ErrNotMounted     = errors.New("captcha challenge not mounted")
	ErrNotSolved      = errors.New("please complete the verification challenge")
	// ErrExpired means the solved token timed out; the challenge has been reset.
	ErrExpired = errors.New("verification challenge expired")
)

// Result is the provider's answer for one token.
type Result struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// expired reports whether the provider rejected the token for age or reuse.
func (r Result) expired() bool {
	for _, c := range r.ErrorCodes {
		if c == "timeout-or-duplicate" {
			return true
		}
	}
	return false
}

// Verifier checks a widget token with the provider.
type Verifier interface {
	Verify(ctx context.Context, token string) (Result, error)
}

// SiteVerifier calls a siteverify-style endpoint.
type SiteVerifier struct {
	client *resty.Client
	url    string
	secret string
}

// NewSiteVerifier returns a verifier posting to verifyURL with secret.
func NewSiteVerifier(verifyURL, secret string) *SiteVerifier {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300*time.Millisecond).
		SetHeader("Accept", "application/json")
	return &SiteVerifier{client: client, url: verifyURL, secret: secret}
}

func (v *SiteVerifier) Verify(ctx context.Context, token string) (Result, error) {
	var res Result
	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"secret": v.secret, "response": token}).
		SetResult(&res).
		Post(v.url)
	if err != nil {
		return Result{}, fmt.Errorf("captcha verify request: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("captcha verify returned %d", resp.StatusCode())
	}
	return res, nil
}

// NopVerifier accepts every token. Used when no captcha secret is configured.
type NopVerifier struct{}

func (NopVerifier) Verify(context.Context, string) (Result, error) {
	return Result{Success: true}, nil
}

// Challenge is a single widget instance. It is mounted once, verified any number of times and
// unmounted when its owner goes away.
type Challenge struct {
	verifier Verifier
	siteKey  string

	mu      sync.Mutex
	id      string
	mounted bool
}

// NewChallenge returns an unmounted challenge.
func NewChallenge(v Verifier, siteKey string) *Challenge {
	return &Challenge{verifier: v, siteKey: siteKey}
}

// Mount initializes the widget instance. Mounting twice without Unmount is an error.
func (c *Challenge) Mount() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounted {
		return ErrAlreadyMounted
	}
	c.mounted = true
	c.id = uuid.NewString()
	return nil
}

// Unmount tears the widget down. Safe to call more than once.
func (c *Challenge) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = false
	c.id = ""
}

// Mounted reports whether the challenge is live.
func (c *Challenge) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// Widget describes the live instance to the page that renders it.
type Widget struct {
	ID      string `json:"id"`
	SiteKey string `json:"siteKey"`
}

// Widget returns the instance descriptor, or nil when not mounted.
func (c *Challenge) Widget() *Widget {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return nil
	}
	return &Widget{ID: c.id, SiteKey: c.siteKey}
}

// Verify checks a solved token. An expired token resets the instance in place and returns
// ErrExpired so the caller can ask for a fresh solve without reporting a failure.
func (c *Challenge) Verify(ctx context.Context, token string) error {
	c.mu.Lock()
	mounted := c.mounted
	c.mu.Unlock()
	if !mounted {
		return ErrNotMounted
	}
	if _, nop := c.verifier.(NopVerifier); !nop && token == "" {
		return ErrNotSolved
	}

	res, err := c.verifier.Verify(ctx, token)
	if err != nil {
		return err
	}
	if res.Success {
		return nil
	}
	if res.expired() {
		c.reset()
		return ErrExpired
	}
	return ErrNotSolved
}

func (c *Challenge) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounted {
		c.id = uuid.NewString()
		logrus.WithField("widget_id", c.id).Debug("captcha challenge reset after expiry")
	}
}
