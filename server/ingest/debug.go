package ingest

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// InboxEntry is a summary of one inbox message, used by the debug endpoint.
type InboxEntry struct {
	SeqNum  uint32 `json:"seq_num"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Seen    bool   `json:"seen"`
}

// ListRecent opens a short-lived second session and returns envelope
// summaries of the newest messages, up to limit. The worker's own connection
// is left alone.
func (m *IMAPMailbox) ListRecent(ctx context.Context, limit int) ([]InboxEntry, error) {
	peer := &IMAPMailbox{
		Host:      m.Host,
		Port:      m.Port,
		Username:  m.Username,
		Password:  m.Password,
		UseTLS:    m.UseTLS,
		TLSVerify: m.TLSVerify,
	}
	if err := peer.Connect(ctx); err != nil {
		return nil, err
	}
	defer peer.Close()

	status, err := peer.client.Status("INBOX", &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("STATUS failed: %w", err)
	}
	if status.NumMessages == nil || *status.NumMessages == 0 {
		return nil, nil
	}

	total := *status.NumMessages
	first := uint32(1)
	if limit > 0 && total > uint32(limit) {
		first = total - uint32(limit) + 1
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(first, total)

	messages, err := peer.client.Fetch(seqSet, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("envelope fetch failed: %w", err)
	}

	entries := make([]InboxEntry, 0, len(messages))
	for _, msg := range messages {
		entry := InboxEntry{SeqNum: msg.SeqNum}
		if msg.Envelope != nil {
			entry.Subject = msg.Envelope.Subject
			if len(msg.Envelope.From) > 0 {
				entry.From = msg.Envelope.From[0].Addr()
			}
		}
		for _, flag := range msg.Flags {
			if flag == imap.FlagSeen {
				entry.Seen = true
				break
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
