// Package outbound submits mail to the configured smarthost. Everything the
// system sends, distributions and moderation notifications alike, goes
// through a MailSender.
package outbound

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/migadu/listserv/logger"
)

// MailSender sends a single message to a single recipient.
type MailSender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPSender submits messages to an SMTP smarthost over a fresh connection
// per message, authenticating with PLAIN when credentials are configured.
type SMTPSender struct {
	Host        string // host:port
	Username    string
	Password    string
	FromName    string
	FromAddress string
	UseTLS      bool // direct TLS (default for port 465)
	UseStartTLS bool // STARTTLS upgrade instead of direct TLS
	TLSVerify   bool
}

// Send encodes msg and submits it. The context bounds the whole SMTP
// conversation.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	raw, err := compose(s.FromName, s.FromAddress, msg)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}
	return s.submit(ctx, msg.To, raw)
}

func (s *SMTPSender) submit(ctx context.Context, to string, raw []byte) error {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !s.TLSVerify,
	}

	var c *smtp.Client
	var err error
	switch {
	case s.UseTLS:
		c, err = smtp.DialTLS(s.Host, tlsConfig)
	case s.UseStartTLS:
		c, err = smtp.DialStartTLS(s.Host, tlsConfig)
	default:
		c, err = smtp.Dial(s.Host)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP host: %w", err)
	}
	defer c.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	if s.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.Username, s.Password)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := c.Mail(s.FromAddress, nil); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		// The message is already accepted at this point.
		logger.Warn("SMTP submission: failed to send QUIT", "host", s.Host, "error", err)
	}
	return nil
}
