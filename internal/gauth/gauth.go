// Package gauth holds the OAuth2 credentials used to talk to Google APIs.
// Tokens are obtained once through the interactive consent flow, cached on
// disk and refreshed transparently, so that sending mail doesn't require a
// browser round trip per batch.
package gauth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNotAuthorized is returned when there's no usable token and the
// interactive flow is disabled.
var ErrNotAuthorized = errors.New("not authorized: no cached token, run with --authorize")

// LoadConfig reads a Google client-secret JSON file.
func LoadConfig(credentialsFile string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("error reading client secret file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("error parsing client secret file: %w", err)
	}

	return cfg, nil
}

// Opt represents the credential store's options.
type Opt struct {
	// Interactive allows running the browser consent flow when there's no
	// usable token.
	Interactive bool

	// OpenURL presents the consent URL to the user. Defaults to OpenBrowser.
	OpenURL func(string) error
}

// Credentials is a cached, refreshable OAuth2 credential store.
type Credentials struct {
	cfg   *oauth2.Config
	store *TokenFile
	opt   Opt

	src oauth2.TokenSource
	mu  sync.Mutex

	lo *slog.Logger
}

// NewCredentials returns a new credential store backed by a token file.
func NewCredentials(cfg *oauth2.Config, store *TokenFile, o Opt, lo *slog.Logger) *Credentials {
	if o.OpenURL == nil {
		o.OpenURL = func(url string) error {
			lo.Info("open the following URL in your browser to authorize", "url", url)
			return OpenBrowser(url)
		}
	}

	return &Credentials{
		cfg:   cfg,
		store: store,
		opt:   o,
		lo:    lo,
	}
}

// TokenSource returns a token source holding a valid token. Expired tokens
// are refreshed and written back to the token file. If there's no token, or
// it can't be refreshed, the consent flow runs when Opt.Interactive is set.
func (c *Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.src != nil {
		_, err := c.src.Token()
		if err == nil {
			return c.src, nil
		}
		c.lo.Error("cached token is unusable", "error", err)
		c.src = nil
	}

	tok, err := c.store.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.lo.Error("error loading cached token", "error", err, "path", c.store.Path)
	}

	if tok != nil && (tok.Valid() || tok.RefreshToken != "") {
		src := c.newSource(tok)
		_, err := src.Token()
		if err == nil {
			c.src = src
			return src, nil
		}
		c.lo.Error("error refreshing cached token", "error", err)
	}

	if !c.opt.Interactive {
		return nil, ErrNotAuthorized
	}

	tok, err = c.login(ctx)
	if err != nil {
		return nil, err
	}

	c.src = c.newSource(tok)
	return c.src, nil
}

// Authorize runs the consent flow unconditionally and caches the token.
func (c *Credentials) Authorize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.login(ctx)
	if err != nil {
		return err
	}

	c.src = c.newSource(tok)
	return nil
}

func (c *Credentials) login(ctx context.Context) (*oauth2.Token, error) {
	c.lo.Info("starting interactive authorization")

	tok, err := Login(ctx, c.cfg, c.opt.OpenURL)
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}

	if err := c.store.Save(tok); err != nil {
		return nil, fmt.Errorf("error saving token: %w", err)
	}
	c.lo.Info("authorization complete", "token_file", c.store.Path, "expiry", tok.Expiry)

	return tok, nil
}

func (c *Credentials) newSource(tok *oauth2.Token) oauth2.TokenSource {
	// The refresh source outlives the request that created it.
	base := c.cfg.TokenSource(context.Background(), tok)

	return oauth2.ReuseTokenSource(tok, &persistingSource{
		base:  base,
		store: c.store,
		last:  tok.AccessToken,
		lo:    c.lo,
	})
}

// persistingSource writes every newly minted token back to the token file.
type persistingSource struct {
	base  oauth2.TokenSource
	store *TokenFile
	last  string

	lo *slog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.Save(tok); err != nil {
			p.lo.Error("error saving refreshed token", "error", err)
		} else {
			p.lo.Debug("refreshed token saved", "expiry", tok.Expiry)
		}
	}

	return tok, nil
}
