package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	appLog "tibbercal/internal/log"
)

// LoopbackConsent returns a ConsentFunc that prints the authorization URL to
// out and waits for the browser redirect on a 127.0.0.1 listener.
func LoopbackConsent(out io.Writer) ConsentFunc {
	return func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}
		defer ln.Close()

		c := *cfg
		c.RedirectURL = "http://" + ln.Addr().String() + "/"
		state := uuid.NewString()

		type result struct {
			code string
			err  error
		}
		done := make(chan result, 1)

		srv := &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("state") != state {
					http.Error(w, "state mismatch", http.StatusBadRequest)
					return
				}
				if e := q.Get("error"); e != "" {
					http.Error(w, "authorization denied", http.StatusForbidden)
					select {
					case done <- result{err: fmt.Errorf("authorization denied: %s", e)}:
					default:
					}
					return
				}
				code := q.Get("code")
				if code == "" {
					http.Error(w, "missing code", http.StatusBadRequest)
					return
				}
				fmt.Fprintln(w, "Authorization complete. You can close this window.")
				select {
				case done <- result{code: code}:
				default:
				}
			}),
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLog.Error("consent listener stopped", err)
			}
		}()
		defer srv.Close()

		authURL := c.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintf(out, "Open this URL in a browser to authorize calendar access:\n%s\n", authURL)
		appLog.Info("waiting for oauth consent", "redirect", c.RedirectURL)

		var res result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-done:
		}
		if res.err != nil {
			return nil, res.err
		}

		tok, err := c.Exchange(ctx, res.code)
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}
		return tok, nil
	}
}
