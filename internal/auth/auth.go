// Package auth manages the OAuth2 credential lifecycle for the calendar
// backend: load a persisted token, refresh it when expired, run interactive
// consent when none exists, and persist every new token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	appLog "tibbercal/internal/log"
)

// AuthError is fatal for a sync run.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Provider hands out valid access tokens.
type Provider interface {
	// Get returns a valid token, refreshing or running consent as needed.
	Get(ctx context.Context) (*oauth2.Token, error)
	// Refresh exchanges the refresh token for a new access token.
	Refresh(ctx context.Context) (*oauth2.Token, error)
	// Invalidate drops the cached access token; the next Get refreshes.
	Invalidate()
	// TokenSource adapts the provider for HTTP clients.
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// ConsentFunc obtains a first token interactively.
type ConsentFunc func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

// ErrNoConsent is returned when no token is stored and no consent flow is
// configured.
var ErrNoConsent = errors.New("no stored token and interactive consent disabled")

// OAuth is the installed-app Provider.
type OAuth struct {
	cfg     *oauth2.Config
	store   TokenStore
	consent ConsentFunc

	mu           sync.Mutex
	tok          *oauth2.Token
	forceRefresh bool
}

// Option configures an OAuth provider.
type Option func(*OAuth)

// WithConsent sets the interactive consent flow. Without it, a missing token
// is an error.
func WithConsent(fn ConsentFunc) Option {
	return func(p *OAuth) {
		p.consent = fn
	}
}

// NewOAuth creates a provider for cfg persisting tokens in store.
func NewOAuth(cfg *oauth2.Config, store TokenStore, opts ...Option) *OAuth {
	p := &OAuth{cfg: cfg, store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromClientSecretFile builds a provider from a Google "installed app"
// client secret JSON, scoped to read/write calendar events.
func FromClientSecretFile(path string, store TokenStore, opts ...Option) (*OAuth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &AuthError{Op: "read client secret", Err: err}
	}
	cfg, err := google.ConfigFromJSON(data, gcal.CalendarEventsScope)
	if err != nil {
		return nil, &AuthError{Op: "parse client secret", Err: err}
	}
	return NewOAuth(cfg, store, opts...), nil
}

// Get implements Provider.
func (p *OAuth) Get(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok == nil {
		tok, err := p.store.Load()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &AuthError{Op: "load token", Err: err}
		}
		p.tok = tok
	}

	if p.tok == nil {
		return p.runConsent(ctx)
	}

	if p.tok.Valid() && !p.forceRefresh {
		return p.tok, nil
	}
	if p.tok.RefreshToken == "" {
		// Expired without a way to renew: start over.
		return p.runConsent(ctx)
	}
	return p.refreshLocked(ctx)
}

// Refresh implements Provider.
func (p *OAuth) Refresh(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok == nil {
		tok, err := p.store.Load()
		if err != nil {
			return nil, &AuthError{Op: "load token", Err: err}
		}
		p.tok = tok
	}
	if p.tok.RefreshToken == "" {
		return nil, &AuthError{Op: "refresh", Err: errors.New("token has no refresh token")}
	}
	return p.refreshLocked(ctx)
}

// Invalidate implements Provider.
func (p *OAuth) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceRefresh = true
}

// TokenSource implements Provider.
func (p *OAuth) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &providerSource{ctx: ctx, p: p}
}

func (p *OAuth) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: p.tok.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, &AuthError{Op: "refresh", Err: err}
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = p.tok.RefreshToken
	}
	if err := p.store.Save(tok); err != nil {
		return nil, &AuthError{Op: "save token", Err: err}
	}
	p.tok = tok
	p.forceRefresh = false
	appLog.Info("oauth token refreshed", "expiry", tok.Expiry)
	return tok, nil
}

func (p *OAuth) runConsent(ctx context.Context) (*oauth2.Token, error) {
	if p.consent == nil {
		return nil, &AuthError{Op: "consent", Err: ErrNoConsent}
	}
	tok, err := p.consent(ctx, p.cfg)
	if err != nil {
		return nil, &AuthError{Op: "consent", Err: err}
	}
	if err := p.store.Save(tok); err != nil {
		return nil, &AuthError{Op: "save token", Err: err}
	}
	p.tok = tok
	p.forceRefresh = false
	appLog.Info("oauth consent completed")
	return tok, nil
}

type providerSource struct {
	ctx context.Context
	p   Provider
}

func (s *providerSource) Token() (*oauth2.Token, error) {
	return s.p.Get(s.ctx)
}
