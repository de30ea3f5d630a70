package helpers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

// ParsedMessage is the decoded view of an incoming message that the routing
// and distribution layers work with. Addresses are normalized lowercase.
type ParsedMessage struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Text    string
	HTML    string
}

// Recipients returns the To and Cc addresses combined, in header order.
func (m *ParsedMessage) Recipients() []string {
	recipients := make([]string, 0, len(m.To)+len(m.Cc))
	recipients = append(recipients, m.To...)
	recipients = append(recipients, m.Cc...)
	return recipients
}

// BodyText returns the plain text body, falling back to a text rendering of
// the HTML body when the message carries no text part.
func (m *ParsedMessage) BodyText() string {
	if m.Text != "" {
		return m.Text
	}
	if m.HTML != "" {
		return html2text.HTML2Text(m.HTML)
	}
	return ""
}

// ParseMessage decodes a raw RFC 5322 message into its envelope fields and
// inline bodies. Unknown charsets in the header or body parts are tolerated;
// the affected text is used as-is. Attachments are skipped.
func ParseMessage(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &ParsedMessage{}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = NormalizeAddress(from[0].Address)
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			parsed.To = append(parsed.To, NormalizeAddress(addr.Address))
		}
	}
	if cc, err := mr.Header.AddressList("Cc"); err == nil {
		for _, addr := range cc {
			parsed.Cc = append(parsed.Cc, NormalizeAddress(addr.Address))
		}
	}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = SanitizeUTF8(strings.TrimSpace(subject))
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			// A malformed body part does not invalidate the envelope.
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		switch contentType {
		case "text/plain":
			if parsed.Text == "" {
				body, err := io.ReadAll(part.Body)
				if err != nil {
					continue
				}
				parsed.Text = SanitizeUTF8(string(body))
			}
		case "text/html":
			if parsed.HTML == "" {
				body, err := io.ReadAll(part.Body)
				if err != nil {
					continue
				}
				parsed.HTML = SanitizeUTF8(string(body))
			}
		}
	}

	return parsed, nil
}
