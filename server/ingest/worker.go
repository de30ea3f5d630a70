// Package ingest polls the list domain's catch-all inbox and feeds every
// unread message through routing. The worker survives mailbox outages by
// reconnecting on a fixed delay, and one broken message never stops the
// rest of the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/helpers"
	"github.com/migadu/listserv/pkg/metrics"
	"github.com/migadu/listserv/server/dispatch"
	"github.com/migadu/listserv/server/routing"
)

const (
	// DefaultPollInterval is the pause between inbox polls on a healthy
	// connection.
	DefaultPollInterval = 30 * time.Second
	// DefaultReconnectDelay is the fixed pause before re-dialing after a
	// connection failure.
	DefaultReconnectDelay = 10 * time.Second
)

// Store is the slice of the database the worker needs to route a message.
type Store interface {
	FindListsByAddresses(ctx context.Context, addresses []string) ([]db.List, error)
	FindActiveMember(ctx context.Context, listID int64, address string) (*db.Member, error)
}

// Distributor fans an accepted message out to a list.
type Distributor interface {
	Distribute(ctx context.Context, list *db.List, content *dispatch.Content) error
}

// Holder stores a message for moderation.
type Holder interface {
	Hold(ctx context.Context, list *db.List, parsed *helpers.ParsedMessage, raw []byte) error
}

// Worker owns the inbox connection. Errors from the Mailbox tear the session
// down and trigger a reconnect. Malformed or unroutable messages are logged
// and still marked seen so they are not retried forever; store and delivery
// failures abort the cycle instead, leaving the message unseen so it is
// picked up again on the next poll.
type Worker struct {
	mailbox        Mailbox
	store          Store
	distributor    Distributor
	moderator      Holder
	pollInterval   time.Duration
	reconnectDelay time.Duration
	stopCh         chan struct{}
	doneCh         chan struct{}
}

func NewWorker(mailbox Mailbox, store Store, distributor Distributor, moderator Holder) *Worker {
	return &Worker{
		mailbox:        mailbox,
		store:          store,
		distributor:    distributor,
		moderator:      moderator,
		pollInterval:   DefaultPollInterval,
		reconnectDelay: DefaultReconnectDelay,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start runs the worker until the context is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[INGEST] worker starting, poll interval: %v, reconnect delay: %v", w.pollInterval, w.reconnectDelay)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current cycle to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// run is the outer connection loop: connect, poll until the session breaks,
// reconnect after a fixed delay.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		if w.stopping(ctx) {
			log.Println("[INGEST] worker stopped")
			return
		}

		if err := w.mailbox.Connect(ctx); err != nil {
			log.Printf("[INGEST] connect failed: %v", err)
		} else {
			log.Println("[INGEST] connected, start polling")
			err := w.pollLoop(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[INGEST] session ended: %v", err)
			}
			if err := w.mailbox.Close(); err != nil {
				log.Printf("[INGEST] close failed: %v", err)
			}
		}

		if w.stopping(ctx) {
			log.Println("[INGEST] worker stopped")
			return
		}

		metrics.IngestReconnectsTotal.Inc()
		log.Printf("[INGEST] reconnecting in %v", w.reconnectDelay)
		select {
		case <-ctx.Done():
		case <-w.stopCh:
		case <-time.After(w.reconnectDelay):
		}
	}
}

// pollLoop polls until the connection fails or the worker stops. A nil
// return means a clean stop.
func (w *Worker) pollLoop(ctx context.Context) error {
	for {
		if err := w.poll(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// poll handles one batch of unread messages. Mailbox errors and store or
// delivery failures propagate and end the session; a message is marked seen
// only once it has been fully handled.
func (w *Worker) poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.IngestPollDuration.Observe(time.Since(start).Seconds())
	}()

	unseen, err := w.mailbox.FetchUnseen(ctx)
	if err != nil {
		return err
	}

	for _, msg := range unseen {
		if w.stopping(ctx) {
			return nil
		}

		if err := w.handleMessage(ctx, msg.Raw); err != nil {
			return err
		}

		if err := w.mailbox.MarkSeen(ctx, msg.SeqNum); err != nil {
			return err
		}
	}
	return nil
}

// handleMessage parses and routes one incoming message. Malformed or
// unroutable messages are logged and return nil so they get marked seen; a
// non-nil error means the store or the delivery pipeline failed and the
// message must stay unseen to be retried.
func (w *Worker) handleMessage(ctx context.Context, raw []byte) error {
	parsed, err := helpers.ParseMessage(raw)
	if err != nil {
		log.Printf("[INGEST] unparseable message, skipping: %v", err)
		metrics.IngestMessagesTotal.WithLabelValues("parse_error").Inc()
		return nil
	}

	if parsed.From == "" {
		log.Println("[INGEST] missing from address, skipping")
		metrics.IngestMessagesTotal.WithLabelValues("no_from").Inc()
		return nil
	}

	recipients := parsed.Recipients()
	if len(recipients) == 0 {
		log.Println("[INGEST] no recipients in To/Cc, skipping")
		metrics.IngestMessagesTotal.WithLabelValues("no_recipients").Inc()
		return nil
	}

	lists, err := w.store.FindListsByAddresses(ctx, recipients)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to resolve lists for message from %s: %w", parsed.From, err)
	}
	if len(lists) == 0 {
		log.Printf("[INGEST] no lists for recipients %v", recipients)
		metrics.IngestMessagesTotal.WithLabelValues("no_match").Inc()
		return nil
	}

	for i := range lists {
		if err := w.processForList(ctx, &lists[i], parsed, raw); err != nil {
			metrics.IngestMessagesTotal.WithLabelValues("error").Inc()
			return err
		}
	}
	metrics.IngestMessagesTotal.WithLabelValues("processed").Inc()
	return nil
}

func (w *Worker) processForList(ctx context.Context, list *db.List, parsed *helpers.ParsedMessage, raw []byte) error {
	sender, err := w.resolveSender(ctx, list, parsed.From)
	if err != nil {
		return fmt.Errorf("failed to resolve sender %s on list %s: %w", parsed.From, list.Address, err)
	}

	decision := routing.Decide(list.Mode, sender)
	log.Printf("[INGEST] message from %s for list %s (%s): %s", parsed.From, list.Address, list.Mode, decision)

	switch decision {
	case routing.Distribute:
		err := w.distributor.Distribute(ctx, list, &dispatch.Content{
			Subject: parsed.Subject,
			Text:    parsed.BodyText(),
			HTML:    parsed.HTML,
		})
		if err != nil {
			return fmt.Errorf("distribution for list %s failed: %w", list.Address, err)
		}
	case routing.Hold:
		if err := w.moderator.Hold(ctx, list, parsed, raw); err != nil {
			return fmt.Errorf("failed to hold message for list %s: %w", list.Address, err)
		}
	}
	return nil
}

func (w *Worker) resolveSender(ctx context.Context, list *db.List, from string) (routing.Sender, error) {
	member, err := w.store.FindActiveMember(ctx, list.ID, from)
	if err != nil {
		if errors.Is(err, db.ErrMemberNotFound) {
			return routing.Sender{}, nil
		}
		return routing.Sender{}, err
	}
	return routing.Sender{
		ActiveMember: true,
		ActiveAdmin:  member.Role == db.RoleAdmin,
	}, nil
}
