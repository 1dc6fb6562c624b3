// Package mailer sends batches of HTML emails through an authorised mail
// provider, one message at a time and in order.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/leadwire/leadwire/internal/metrics"
)

// Service is an authorised handle to the mail provider.
type Service interface {
	// Send submits a base64url encoded raw message and returns the
	// provider's message ID.
	Send(ctx context.Context, raw string) (string, error)
}

// Connector authorises against the mail provider and returns a Service.
type Connector interface {
	Connect(ctx context.Context) (Service, error)
}

// Sent is the receipt of one delivered message.
type Sent struct {
	Index int
	To    string
	ID    string
}

// AuthError is returned when authorisation fails before any send.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mail authorization failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// SendError is returned when a message in a batch fails. Messages after
// Index were not attempted.
type SendError struct {
	Index int
	To    string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("error sending message %d to %s: %v", e.Index, e.To, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ErrBatchMismatch is returned when the batch sequences differ in length.
var ErrBatchMismatch = errors.New("bodies, subjects and recipients differ in length")

// Dispatcher sends email batches.
type Dispatcher struct {
	sender string
	bcc    string
	conn   Connector

	lo *slog.Logger
}

// New returns a Dispatcher that sends as sender, blind-copying every message
// to bcc. An empty bcc falls back to DefaultBcc; there is no way to send
// without the blind copy.
func New(sender, bcc string, conn Connector, lo *slog.Logger) *Dispatcher {
	if strings.TrimSpace(bcc) == "" {
		bcc = DefaultBcc
	}

	return &Dispatcher{
		sender: sender,
		bcc:    bcc,
		conn:   conn,
		lo:     lo,
	}
}

// SendBatch sends bodies[i] with subjects[i] to recipients[i] for every i,
// in order. It authorises once per batch. The first failure aborts the rest
// of the batch and a *SendError is returned along with the receipts of the
// messages that were sent before it.
func (d *Dispatcher) SendBatch(ctx context.Context, bodies, subjects, recipients []string) ([]Sent, error) {
	if len(bodies) != len(recipients) || len(subjects) != len(recipients) {
		metrics.MailBatches.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, fmt.Errorf("%w: %d, %d, %d", ErrBatchMismatch, len(bodies), len(subjects), len(recipients))
	}

	batchID := "batch"
	if uid, err := uuid.NewV4(); err == nil {
		batchID = uid.String()
	}
	lo := d.lo.With("batch_id", batchID)

	srv, err := d.conn.Connect(ctx)
	if err != nil {
		metrics.MailBatches.WithLabelValues(metrics.OutcomeAuthError).Inc()
		return nil, &AuthError{Err: err}
	}

	lo.Info("sending batch", "count", len(recipients))

	out := make([]Sent, 0, len(recipients))
	for i, to := range recipients {
		id, err := d.send(ctx, srv, to, subjects[i], bodies[i])
		if err != nil {
			metrics.MailSendFailure.Inc()
			metrics.MailBatches.WithLabelValues(metrics.OutcomeSendError).Inc()
			lo.Error("error sending message, aborting batch", "index", i, "to", to,
				"error", err, "sent", len(out), "skipped", len(recipients)-i-1)

			return out, &SendError{Index: i, To: to, Err: err}
		}

		metrics.MailSendSuccess.Inc()
		lo.Info("message sent", "index", i, "to", to, "message_id", id)
		out = append(out, Sent{Index: i, To: to, ID: id})
	}

	metrics.MailBatches.WithLabelValues(metrics.OutcomeSuccess).Inc()
	lo.Info("batch sent", "count", len(out))

	return out, nil
}

func (d *Dispatcher) send(ctx context.Context, srv Service, to, subject, body string) (string, error) {
	raw, err := Message{
		From:    d.sender,
		To:      to,
		Bcc:     d.bcc,
		Subject: subject,
		HTML:    body,
	}.Encode()
	if err != nil {
		return "", err
	}

	return srv.Send(ctx, raw)
}
