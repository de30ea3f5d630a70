package ingest

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Unseen is one unread message fetched from the inbox.
type Unseen struct {
	SeqNum uint32
	Raw    []byte
}

// Mailbox is the worker's view of the source inbox. Any error returned here
// is treated as a connection failure: the worker drops the session and
// reconnects after a fixed delay.
type Mailbox interface {
	Connect(ctx context.Context) error
	FetchUnseen(ctx context.Context) ([]Unseen, error)
	MarkSeen(ctx context.Context, seqNum uint32) error
	Close() error
}

// IMAPMailbox polls a single IMAP INBOX. It holds at most one connection;
// the worker is its only user.
type IMAPMailbox struct {
	Host      string
	Port      int
	Username  string
	Password  string
	UseTLS    bool
	TLSVerify bool

	client *imapclient.Client
}

func (m *IMAPMailbox) addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Connect dials the server, authenticates and selects INBOX.
func (m *IMAPMailbox) Connect(ctx context.Context) error {
	var c *imapclient.Client
	var err error

	if m.UseTLS {
		options := &imapclient.Options{
			TLSConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: !m.TLSVerify,
			},
		}
		c, err = imapclient.DialTLS(m.addr(), options)
	} else {
		c, err = imapclient.DialInsecure(m.addr(), nil)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.addr(), err)
	}

	if err := c.Login(m.Username, m.Password).Wait(); err != nil {
		c.Close()
		return fmt.Errorf("IMAP login failed: %w", err)
	}
	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		c.Close()
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	m.client = c
	return nil
}

// FetchUnseen returns the full source of every message not yet flagged
// \Seen, in mailbox order.
func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]Unseen, error) {
	if m.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	data, err := m.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("UNSEEN search failed: %w", err)
	}

	seqNums := data.AllSeqNums()
	if len(seqNums) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOptions := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}
	messages, err := m.client.Fetch(imap.SeqSetNum(seqNums...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	unseen := make([]Unseen, 0, len(messages))
	for _, msg := range messages {
		raw := msg.FindBodySection(bodySection)
		if raw == nil {
			continue
		}
		unseen = append(unseen, Unseen{SeqNum: msg.SeqNum, Raw: raw})
	}
	return unseen, nil
}

// MarkSeen adds the \Seen flag to one message.
func (m *IMAPMailbox) MarkSeen(ctx context.Context, seqNum uint32) error {
	if m.client == nil {
		return fmt.Errorf("not connected")
	}

	storeFlags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	if err := m.client.Store(imap.SeqSetNum(seqNum), storeFlags, nil).Close(); err != nil {
		return fmt.Errorf("failed to mark message %d seen: %w", seqNum, err)
	}
	return nil
}

// Close logs out and drops the connection. Safe to call when not connected.
func (m *IMAPMailbox) Close() error {
	if m.client == nil {
		return nil
	}
	c := m.client
	m.client = nil

	if err := c.Logout().Wait(); err != nil {
		// The server may already be gone; make sure the socket dies.
		return c.Close()
	}
	return nil
}
