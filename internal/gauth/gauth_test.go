package gauth

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// tokenServer mimics the provider's token endpoint.
func tokenServer(t *testing.T, access string, calls *int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.NoError(t, r.ParseForm())

		switch r.Form.Get("grant_type") {
		case "refresh_token":
			assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		case "authorization_code":
			assert.Equal(t, "code-1", r.Form.Get("code"))
			assert.NotEmpty(t, r.Form.Get("code_verifier"))
		default:
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  access,
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "http://accounts.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"https://www.googleapis.com/auth/gmail.send"},
	}
}

func noBrowser(t *testing.T) func(string) error {
	return func(string) error {
		t.Error("consent flow should not run")
		return nil
	}
}

// followRedirect plays the browser: it sends the callback the provider
// would send after consent.
func followRedirect(t *testing.T) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)

		q := u.Query()
		assert.Equal(t, "offline", q.Get("access_type"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))

		cb := q.Get("redirect_uri") + "?" + url.Values{
			"code":  {"code-1"},
			"state": {q.Get("state")},
		}.Encode()

		resp, err := http.Get(cb)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		return nil
	}
}

func TestTokenFile(t *testing.T) {
	f := &TokenFile{Path: filepath.Join(t.TempDir(), "nested", "token.json")}

	_, err := f.Load()
	assert.ErrorIs(t, err, fs.ErrNotExist)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, f.Save(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: exp}))

	st, err := os.Stat(f.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	tok, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, exp.Equal(tok.Expiry))

	require.NoError(t, os.WriteFile(f.Path, []byte(`{}`), 0o600))
	_, err = f.Load()
	assert.ErrorContains(t, err, "holds no token")

	assert.Error(t, f.Save(nil))
}

func TestTokenSourceValidToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, "unused", &calls)

	store := &TokenFile{Path: filepath.Join(t.TempDir(), "token.json")}
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))

	c := NewCredentials(testConfig(srv.URL), store, Opt{OpenURL: noBrowser(t)}, testLog)
	ts, err := c.TokenSource(context.Background())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	// The source is cached.
	ts2, err := c.TokenSource(context.Background())
	require.NoError(t, err)
	assert.Same(t, ts, ts2)
}

func TestTokenSourceNotAuthorized(t *testing.T) {
	store := &TokenFile{Path: filepath.Join(t.TempDir(), "token.json")}

	c := NewCredentials(testConfig("http://127.0.0.1:1/token"), store, Opt{OpenURL: noBrowser(t)}, testLog)
	_, err := c.TokenSource(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// An expired token without a refresh token is as good as none.
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)}))
	_, err = c.TokenSource(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestTokenSourceRefresh(t *testing.T) {
	var calls int32
	srv := tokenServer(t, "fresh", &calls)

	store := &TokenFile{Path: filepath.Join(t.TempDir(), "token.json")}
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	c := NewCredentials(testConfig(srv.URL), store, Opt{OpenURL: noBrowser(t)}, testLog)
	ts, err := c.TokenSource(context.Background())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestTokenSourceInteractive(t *testing.T) {
	var calls int32
	srv := tokenServer(t, "granted", &calls)

	store := &TokenFile{Path: filepath.Join(t.TempDir(), "token.json")}
	c := NewCredentials(testConfig(srv.URL), store, Opt{Interactive: true, OpenURL: followRedirect(t)}, testLog)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts, err := c.TokenSource(ctx)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "granted", tok.AccessToken)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "granted", saved.AccessToken)
}

func TestAuthorize(t *testing.T) {
	var calls int32
	srv := tokenServer(t, "granted", &calls)

	store := &TokenFile{Path: filepath.Join(t.TempDir(), "token.json")}
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(time.Hour)}))

	// Authorize ignores the cached token.
	c := NewCredentials(testConfig(srv.URL), store, Opt{OpenURL: followRedirect(t)}, testLog)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Authorize(ctx))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "granted", saved.AccessToken)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestLoginErrors(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Consent denied.
	_, err := Login(ctx, cfg, func(authURL string) error {
		u, _ := url.Parse(authURL)
		resp, err := http.Get(u.Query().Get("redirect_uri") + "?error=access_denied")
		if err == nil {
			_ = resp.Body.Close()
		}
		return nil
	})
	assert.ErrorContains(t, err, "authorization denied")

	// Forged state.
	_, err = Login(ctx, cfg, func(authURL string) error {
		u, _ := url.Parse(authURL)
		resp, err := http.Get(u.Query().Get("redirect_uri") + "?code=x&state=forged")
		if err == nil {
			_ = resp.Body.Close()
		}
		return nil
	})
	assert.ErrorContains(t, err, "invalid state")

	// Nobody comes back.
	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err = Login(short, cfg, func(string) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"installed": {
			"client_id": "id.apps.googleusercontent.com",
			"client_secret": "secret",
			"auth_uri": "https://accounts.google.com/o/oauth2/auth",
			"token_uri": "https://oauth2.googleapis.com/token",
			"redirect_uris": ["http://localhost"]
		}
	}`), 0o600))

	cfg, err := LoadConfig(path, "https://www.googleapis.com/auth/gmail.send")
	require.NoError(t, err)
	assert.Equal(t, "id.apps.googleusercontent.com", cfg.ClientID)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/gmail.send"}, cfg.Scopes)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "error reading client secret file")

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "error parsing client secret file")
}

func TestLoginRepeatedCallback(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A hung handler would leave the browser waiting on the response.
	cl := &http.Client{Timeout: 2 * time.Second}

	_, err := Login(ctx, cfg, func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		redirect := u.Query().Get("redirect_uri")

		for _, q := range []string{
			"?code=x&state=forged",
			"?error=access_denied",
			"?code=x&state=forged",
		} {
			resp, err := cl.Get(redirect + q)
			if !assert.NoError(t, err) {
				continue
			}
			_ = resp.Body.Close()
		}
		return nil
	})

	// The first callback decides.
	assert.ErrorContains(t, err, "invalid state")
}
