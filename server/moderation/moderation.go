// Package moderation holds messages for review and turns moderation links
// back into approve or reject actions. Every held message gets exactly one
// pair of single-use bearer tokens mailed to the list admins; redeeming
// either token settles the message for good.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/helpers"
	"github.com/migadu/listserv/logger"
	"github.com/migadu/listserv/pkg/metrics"
	"github.com/migadu/listserv/server/dispatch"
	"github.com/migadu/listserv/server/idgen"
	"github.com/migadu/listserv/server/outbound"
)

// TokenTTL is how long a moderation token stays redeemable.
const TokenTTL = 7 * 24 * time.Hour

// previewLength bounds the body excerpt quoted in admin notifications.
const previewLength = 300

// Store is the slice of the database the moderator needs.
type Store interface {
	InsertPendingMessage(ctx context.Context, msg *db.PendingMessage) error
	InsertTokenPair(ctx context.Context, messageID, approveBearer, rejectBearer string, expiresAt time.Time) error
	ListActiveAdmins(ctx context.Context, listID int64) ([]db.Member, error)
	GetTokenByBearer(ctx context.Context, bearer string) (*db.ModerationToken, *db.PendingMessage, *db.List, error)
	ConsumeToken(ctx context.Context, bearer string, newStatus db.PendingStatus) (*db.ModerationToken, error)
}

// Distributor fans an approved message out to its list.
type Distributor interface {
	Distribute(ctx context.Context, list *db.List, content *dispatch.Content) error
}

// Moderator implements the hold and redeem sides of moderation.
type Moderator struct {
	store       Store
	sender      outbound.MailSender
	distributor Distributor
	baseURL     string
}

func NewModerator(store Store, sender outbound.MailSender, distributor Distributor, baseURL string) *Moderator {
	return &Moderator{
		store:       store,
		sender:      sender,
		distributor: distributor,
		baseURL:     baseURL,
	}
}

// Hold stores a message for moderation and notifies the list's active admins
// with approve and reject links. The hold itself fails only on storage
// errors; notification failures are logged and do not unwind the hold, the
// message stays reviewable through its tokens.
func (m *Moderator) Hold(ctx context.Context, list *db.List, parsed *helpers.ParsedMessage, raw []byte) error {
	msg := &db.PendingMessage{
		ID:          idgen.New(),
		ListID:      list.ID,
		FromAddress: parsed.From,
		Subject:     parsed.Subject,
		Raw:         raw,
	}
	if err := m.store.InsertPendingMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to store held message: %w", err)
	}

	approveBearer := idgen.NewToken()
	rejectBearer := idgen.NewToken()
	if err := m.store.InsertTokenPair(ctx, msg.ID, approveBearer, rejectBearer, time.Now().Add(TokenTTL)); err != nil {
		return fmt.Errorf("failed to store moderation tokens: %w", err)
	}

	metrics.MessagesHeldTotal.Inc()
	logger.Info("Message held for moderation", "list", list.Address, "from", parsed.From, "message_id", msg.ID)

	m.notifyAdmins(ctx, list, parsed, approveBearer, rejectBearer)
	return nil
}

func (m *Moderator) notifyAdmins(ctx context.Context, list *db.List, parsed *helpers.ParsedMessage, approveBearer, rejectBearer string) {
	admins, err := m.store.ListActiveAdmins(ctx, list.ID)
	if err != nil {
		logger.Error("Failed to load admins for moderation notification", "list", list.Address, "error", err)
		return
	}
	if len(admins) == 0 {
		logger.Warn("List has no active admins to notify", "list", list.Address)
		return
	}

	approveURL := fmt.Sprintf("%s/moderate/%s", m.baseURL, approveBearer)
	rejectURL := fmt.Sprintf("%s/moderate/%s", m.baseURL, rejectBearer)
	preview := helpers.TruncatePreview(parsed.BodyText(), previewLength)

	text := fmt.Sprintf("From: %s\nSubject: %s\n\nPreview:\n%s\n\nApprove: %s\nReject: %s\n",
		parsed.From, parsed.Subject, preview, approveURL, rejectURL)

	var html string
	if parsed.HTML != "" {
		html = fmt.Sprintf(`<p><b>From:</b> %s<br/><b>Subject:</b> %s</p>
<p><b>Preview:</b><br/><pre>%s</pre></p>
<p><a href="%s">Approve</a> | <a href="%s">Reject</a></p>`,
			parsed.From, parsed.Subject, preview, approveURL, rejectURL)
	}

	subject := fmt.Sprintf("[Moderation] New message for list %q", list.Name)
	for _, admin := range admins {
		err := m.sender.Send(ctx, &outbound.Message{
			To:      admin.Address,
			Subject: subject,
			Text:    text,
			HTML:    html,
		})
		if err != nil {
			logger.Error("Failed to notify admin", "list", list.Address, "admin", admin.Address, "error", err)
		}
	}
}

// Outcome is the user-visible result of redeeming a moderation link.
type Outcome int

const (
	// OutcomeInvalid means the bearer matches no token at all.
	OutcomeInvalid Outcome = iota
	// OutcomeExpiredOrUsed means the token exists but is no longer
	// redeemable: consumed, expired, or its message already settled.
	OutcomeExpiredOrUsed
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInvalid:
		return "invalid"
	case OutcomeExpiredOrUsed:
		return "expired_or_used"
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	}
	return "unknown"
}

// Redeem settles a held message through one of its tokens. The consume is a
// single conditional update, so of any number of concurrent attempts across
// both sibling tokens exactly one wins. An approve distributes the message;
// a distribution hiccup after the fact does not undo the approval.
func (m *Moderator) Redeem(ctx context.Context, bearer string) (Outcome, error) {
	token, msg, list, err := m.store.GetTokenByBearer(ctx, bearer)
	if err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			metrics.RedemptionsTotal.WithLabelValues("invalid").Inc()
			return OutcomeInvalid, nil
		}
		return OutcomeInvalid, err
	}

	newStatus := db.StatusRejected
	var parsed *helpers.ParsedMessage
	if token.Action == db.ActionApprove {
		newStatus = db.StatusApproved

		// Reparse before consuming: an unparseable stored message must not
		// burn the single-use token with nothing distributed.
		parsed, err = helpers.ParseMessage(msg.Raw)
		if err != nil {
			return OutcomeInvalid, fmt.Errorf("failed to reparse held message %s: %w", msg.ID, err)
		}
	}

	if _, err := m.store.ConsumeToken(ctx, bearer, newStatus); err != nil {
		if errors.Is(err, db.ErrTokenNotConsumable) {
			metrics.RedemptionsTotal.WithLabelValues("expired_or_used").Inc()
			return OutcomeExpiredOrUsed, nil
		}
		return OutcomeInvalid, err
	}

	if token.Action == db.ActionReject {
		metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
		logger.Info("Held message rejected", "list", list.Address, "message_id", msg.ID)
		return OutcomeRejected, nil
	}

	metrics.RedemptionsTotal.WithLabelValues("approved").Inc()
	logger.Info("Held message approved", "list", list.Address, "message_id", msg.ID)

	err = m.distributor.Distribute(ctx, list, &dispatch.Content{
		Subject: parsed.Subject,
		Text:    parsed.BodyText(),
		HTML:    parsed.HTML,
	})
	if err != nil {
		logger.Error("Failed to distribute approved message", "message_id", msg.ID, "error", err)
	}
	return OutcomeApproved, nil
}
