// Package dispatch fans an accepted message out to the active members of a
// list. Deliveries are paced to avoid hammering the smarthost, and one
// failing recipient never blocks the rest of the fan-out.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/logger"
	"github.com/migadu/listserv/pkg/metrics"
	"github.com/migadu/listserv/server/outbound"
)

// DefaultPace is the delay between consecutive deliveries of one fan-out.
const DefaultPace = 100 * time.Millisecond

// Content is the decoded message being distributed.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

// MemberLister is the slice of the database the dispatcher needs.
type MemberLister interface {
	ListActiveMembers(ctx context.Context, listID int64) ([]db.Member, error)
}

// Dispatcher delivers list mail to members, one message per recipient so
// every member gets their own unsubscribe footer.
type Dispatcher struct {
	store   MemberLister
	sender  outbound.MailSender
	baseURL string
	pace    time.Duration
}

func NewDispatcher(store MemberLister, sender outbound.MailSender, baseURL string) *Dispatcher {
	return &Dispatcher{
		store:   store,
		sender:  sender,
		baseURL: baseURL,
		pace:    DefaultPace,
	}
}

// Distribute sends content to every active member of list. Individual
// delivery failures are logged and counted but do not abort the fan-out; the
// returned error is non-nil only when the member set cannot be loaded or the
// context ends mid-distribution.
func (d *Dispatcher) Distribute(ctx context.Context, list *db.List, content *Content) error {
	members, err := d.store.ListActiveMembers(ctx, list.ID)
	if err != nil {
		return fmt.Errorf("failed to load members of list %s: %w", list.Address, err)
	}

	logger.Info("Distributing message", "list", list.Address, "subject", content.Subject, "members", len(members))

	for i, member := range members {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pace):
			}
		}

		msg := &outbound.Message{
			To:      member.Address,
			Subject: content.Subject,
			Text:    content.Text,
			HTML:    content.HTML,
		}
		if member.UnsubscribeToken != "" {
			msg.UnsubscribeURL = fmt.Sprintf("%s/unsubscribe/%s", d.baseURL, member.UnsubscribeToken)
		}

		start := time.Now()
		if err := d.sender.Send(ctx, msg); err != nil {
			metrics.DeliveriesTotal.WithLabelValues("failure").Inc()
			logger.Error("Delivery failed", "list", list.Address, "to", member.Address, "error", err)
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("success").Inc()
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}

	return nil
}
