package mailer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

// DefaultBcc is blind-copied on every outgoing message so that the CRM logs
// the email against the contact.
const DefaultBcc = "6939709@bcc.hubspot.com"

// Message is a single outgoing email.
type Message struct {
	From    string
	To      string
	Bcc     string
	Subject string
	HTML    string
}

// BuildMessage returns the base64url encoded raw form of an HTML email from
// sender to recipient, blind-copied to DefaultBcc.
func BuildMessage(sender, recipient, subject, htmlBody string) (string, error) {
	return Message{
		From:    sender,
		To:      recipient,
		Bcc:     DefaultBcc,
		Subject: subject,
		HTML:    htmlBody,
	}.Encode()
}

// Encode renders the message as multipart/alternative MIME (a plain text
// rendition of the HTML followed by the HTML itself) and returns the raw
// bytes encoded as base64url.
func (m Message) Encode() (string, error) {
	raw, err := m.Raw()
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(raw), nil
}

// Raw renders the message as MIME bytes.
func (m Message) Raw() ([]byte, error) {
	if m.To == "" {
		return nil, errors.New("message has no recipient")
	}

	msg := gomail.NewMessage()
	if m.From != "" {
		msg.SetHeader("From", m.From)
	}
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", htmlToText(m.HTML))
	msg.AddAlternative("text/html", m.HTML)

	var buf bytes.Buffer

	// gomail leaves Bcc out of the rendered headers as it's meant for the
	// SMTP envelope. The API reads it from the raw message instead.
	if m.Bcc != "" {
		buf.WriteString("Bcc: " + m.Bcc + "\r\n")
	}
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("error rendering message: %w", err)
	}

	return buf.Bytes(), nil
}
