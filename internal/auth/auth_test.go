package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// tokenServer issues access tokens "access-<n>" for every request.
func tokenServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"access-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func storeWith(t *testing.T, tok *oauth2.Token) FileTokenStore {
	t.Helper()
	s := FileTokenStore{Path: filepath.Join(t.TempDir(), "token.json")}
	if tok != nil {
		if err := s.Save(tok); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}
	return s
}

func TestGet(t *testing.T) {
	t.Run("valid stored token", func(t *testing.T) {
		srv, calls := tokenServer(t, http.StatusOK)
		store := storeWith(t, &oauth2.Token{
			AccessToken:  "stored",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(time.Hour),
		})
		p := NewOAuth(testConfig(srv.URL), store)

		tok, err := p.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if tok.AccessToken != "stored" {
			t.Errorf("AccessToken = %q, want stored", tok.AccessToken)
		}
		if *calls != 0 {
			t.Errorf("token endpoint called %d times, want 0", *calls)
		}
	})

	t.Run("expired token is refreshed and persisted", func(t *testing.T) {
		srv, calls := tokenServer(t, http.StatusOK)
		store := storeWith(t, &oauth2.Token{
			AccessToken:  "old",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(-time.Hour),
		})
		p := NewOAuth(testConfig(srv.URL), store)

		tok, err := p.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if tok.AccessToken != "access-1" || *calls != 1 {
			t.Errorf("AccessToken = %q calls = %d", tok.AccessToken, *calls)
		}
		if tok.RefreshToken != "refresh" {
			t.Errorf("refresh token not carried over: %q", tok.RefreshToken)
		}

		saved, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if saved.AccessToken != "access-1" {
			t.Errorf("persisted AccessToken = %q", saved.AccessToken)
		}
	})

	t.Run("invalidate forces refresh", func(t *testing.T) {
		srv, calls := tokenServer(t, http.StatusOK)
		store := storeWith(t, &oauth2.Token{
			AccessToken:  "stored",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(time.Hour),
		})
		p := NewOAuth(testConfig(srv.URL), store)

		if _, err := p.Get(context.Background()); err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		p.Invalidate()
		tok, err := p.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if tok.AccessToken != "access-1" || *calls != 1 {
			t.Errorf("AccessToken = %q calls = %d", tok.AccessToken, *calls)
		}
	})

	t.Run("refresh failure is an AuthError", func(t *testing.T) {
		srv, _ := tokenServer(t, http.StatusBadRequest)
		store := storeWith(t, &oauth2.Token{
			AccessToken:  "old",
			RefreshToken: "revoked",
			Expiry:       time.Now().Add(-time.Hour),
		})
		p := NewOAuth(testConfig(srv.URL), store)

		_, err := p.Get(context.Background())
		var aErr *AuthError
		if !errors.As(err, &aErr) {
			t.Fatalf("error = %v, want *AuthError", err)
		}
		if aErr.Op != "refresh" {
			t.Errorf("Op = %q, want refresh", aErr.Op)
		}
	})

	t.Run("no token and no consent", func(t *testing.T) {
		p := NewOAuth(testConfig("http://127.0.0.1:1"), storeWith(t, nil))
		_, err := p.Get(context.Background())
		if !errors.Is(err, ErrNoConsent) {
			t.Fatalf("error = %v, want ErrNoConsent", err)
		}
	})

	t.Run("consent token is persisted with 0600", func(t *testing.T) {
		store := storeWith(t, nil)
		consent := func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "fresh", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}, nil
		}
		p := NewOAuth(testConfig("http://127.0.0.1:1"), store, WithConsent(consent))

		tok, err := p.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if tok.AccessToken != "fresh" {
			t.Errorf("AccessToken = %q", tok.AccessToken)
		}
		info, err := os.Stat(store.Path)
		if err != nil {
			t.Fatalf("token file not written: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("token perms = %v, want 0600", info.Mode().Perm())
		}
	})
}

func TestTokenSource(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK)
	store := storeWith(t, &oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	})
	p := NewOAuth(testConfig(srv.URL), store)

	tok, err := p.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	if tok.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
}

func TestFromClientSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client-secret.json")
	secret := `{"installed":{"client_id":"id","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := FromClientSecretFile(path, FileTokenStore{Path: filepath.Join(dir, "token.json")})
	if err != nil {
		t.Fatalf("FromClientSecretFile() error: %v", err)
	}
	if p.cfg.ClientID != "id" {
		t.Errorf("ClientID = %q", p.cfg.ClientID)
	}

	_, err = FromClientSecretFile(filepath.Join(dir, "missing.json"), FileTokenStore{})
	var aErr *AuthError
	if !errors.As(err, &aErr) {
		t.Errorf("error = %v, want *AuthError", err)
	}
}

type urlWriter chan string

func (w urlWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if strings.HasPrefix(line, "http") {
			w <- line
		}
	}
	return len(p), nil
}

func TestLoopbackConsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "the-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"granted","refresh_token":"r","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	urls := make(urlWriter, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := LoopbackConsent(urls)(ctx, testConfig(srv.URL))
		done <- result{tok, err}
	}()

	var authURL string
	select {
	case authURL = <-urls:
	case <-ctx.Done():
		t.Fatal("authorization URL never printed")
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q", q.Get("access_type"))
	}

	// A wrong state is rejected without completing the flow.
	bad, err := http.Get(q.Get("redirect_uri") + "?code=x&state=wrong")
	if err != nil {
		t.Fatalf("redirect request: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("wrong state status = %d, want 400", bad.StatusCode)
	}

	resp, err := http.Get(q.Get("redirect_uri") + "?code=the-code&state=" + url.QueryEscape(q.Get("state")))
	if err != nil {
		t.Fatalf("redirect request: %v", err)
	}
	resp.Body.Close()

	res := <-done
	if res.err != nil {
		t.Fatalf("consent error: %v", res.err)
	}
	if res.tok.AccessToken != "granted" {
		t.Errorf("AccessToken = %q", res.tok.AccessToken)
	}
}
