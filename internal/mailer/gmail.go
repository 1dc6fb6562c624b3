package mailer

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scope is the OAuth2 scope needed to send mail through Gmail.
const Scope = gmail.GmailSendScope

// TokenSourcer hands out authorised OAuth2 token sources.
type TokenSourcer interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

// Gmail connects to the Gmail API.
type Gmail struct {
	creds TokenSourcer
	opts  []option.ClientOption
}

// NewGmail returns a Gmail connector. Extra client options are appended
// after the token source.
func NewGmail(creds TokenSourcer, opts ...option.ClientOption) *Gmail {
	return &Gmail{creds: creds, opts: opts}
}

// Connect authorises and returns a Gmail backed Service.
func (g *Gmail) Connect(ctx context.Context) (Service, error) {
	ts, err := g.creds.TokenSource(ctx)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating gmail service: %w", err)
	}

	return &gmailService{srv: srv}, nil
}

type gmailService struct {
	srv *gmail.Service
}

// Send sends a raw message as the authorised user.
func (s *gmailService) Send(ctx context.Context, raw string) (string, error) {
	msg, err := s.srv.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", err
	}

	return msg.Id, nil
}
