// Package notify sends e-mail through gomail.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Message is a multipart e-mail with a plain-text and an HTML body.
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through an SMTP server.
type SMTPSender struct {
	dialer *gomail.Dialer
	sendFn func(m *gomail.Message) error
}

func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	d := gomail.NewDialer(host, port, username, password)
	d.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	return &SMTPSender{dialer: d, sendFn: func(m *gomail.Message) error { return d.DialAndSend(m) }}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := build(msg)
	if err != nil {
		return err
	}
	if err := s.sendFn(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func build(msg Message) (*gomail.Message, error) {
	if msg.From == "" || len(msg.To) == 0 {
		return nil, errors.New("mail needs a sender and at least one recipient")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m, nil
}

// LogSender logs messages instead of sending them. Used when SMTP is not
// configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.Info().
		Str("from", msg.From).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Text).
		Msg("mail not sent: smtp not configured")
	return nil
}
