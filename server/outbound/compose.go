package outbound

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/migadu/listserv/helpers"
	"github.com/migadu/listserv/server/idgen"
)

// Message is one outgoing email before encoding. Text is mandatory; HTML is
// included as a multipart/alternative sibling when present. When
// UnsubscribeURL is set the bodies get an unsubscribe footer and the message
// gets List-Unsubscribe headers.
type Message struct {
	To             string
	Subject        string
	Text           string
	HTML           string
	UnsubscribeURL string
}

// compose encodes msg as an RFC 5322 message from the given sender identity.
func compose(fromName, fromAddress string, msg *Message) ([]byte, error) {
	text := msg.Text
	html := msg.HTML

	if msg.UnsubscribeURL != "" {
		text += fmt.Sprintf("\n\n--\nIf you no longer want to receive mail from this list, unsubscribe here: %s\n", msg.UnsubscribeURL)
		if html != "" {
			html += fmt.Sprintf(`<hr><p style="font-size:0.9em;color:#666;">If you no longer want to receive mail from this list, <a href="%s">click here to unsubscribe</a>.</p>`, msg.UnsubscribeURL)
		}
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: fromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)

	_, domain, err := helpers.SplitAddress(fromAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	h.SetMessageID(fmt.Sprintf("%s@%s", idgen.New(), domain))

	if msg.UnsubscribeURL != "" {
		h.Set("List-Unsubscribe", fmt.Sprintf("<%s>", msg.UnsubscribeURL))
		h.Set("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
	}

	var buf bytes.Buffer
	if html == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, text); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := w.CreateInline()
	if err != nil {
		return nil, err
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(pw, text); err != nil {
		return nil, err
	}
	pw.Close()

	var hh mail.InlineHeader
	hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	pw, err = iw.CreatePart(hh)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(pw, html); err != nil {
		return nil, err
	}
	pw.Close()

	iw.Close()
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
