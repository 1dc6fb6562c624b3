package gauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"

	"golang.org/x/oauth2"
)

// Login runs the interactive authorization-code flow: it starts a loopback
// listener, hands the consent URL to openURL and waits for the provider to
// redirect back with a code, which is exchanged for a token.
func Login(ctx context.Context, cfg *oauth2.Config, openURL func(string) error) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	oc := *cfg
	oc.RedirectURL = fmt.Sprintf("http://%s/", listener.Addr().String())

	state, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()
	authURL := oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	type outcome struct {
		tok *oauth2.Token
		err error
	}

	// Only the first callback settles the login. Later ones, a reload or a
	// stray request, are dropped without blocking the handler.
	doneCh := make(chan outcome, 1)
	settle := func(tok *oauth2.Token, err error) {
		select {
		case doneCh <- outcome{tok: tok, err: err}:
		default:
		}
	}
	fail := func(err error) {
		settle(nil, err)
	}

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers also ask for /favicon.ico.
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}

			q := r.URL.Query()
			if e := q.Get("error"); e != "" {
				fail(fmt.Errorf("authorization denied: %s", e))
				http.Error(w, "authorization denied", http.StatusForbidden)
				return
			}
			if q.Get("state") != state {
				fail(errors.New("invalid state in callback"))
				http.Error(w, "invalid state", http.StatusBadRequest)
				return
			}
			code := q.Get("code")
			if code == "" {
				fail(errors.New("missing code in callback"))
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}

			tok, err := oc.Exchange(ctx, code, oauth2.VerifierOption(verifier))
			if err != nil {
				fail(fmt.Errorf("token exchange failed: %w", err))
				http.Error(w, "token exchange failed", http.StatusInternalServerError)
				return
			}

			_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window.")
			settle(tok, nil)
		}),
	}

	go func() {
		_ = server.Serve(listener)
	}()
	defer func() {
		_ = server.Close()
	}()

	if err := openURL(authURL); err != nil {
		return nil, fmt.Errorf("failed to open consent URL: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-doneCh:
		return o.tok, o.err
	}
}

// OpenBrowser opens url in the desktop's browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}

func randomToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
