package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TokenAction is what redeeming a moderation token does to its message.
type TokenAction string

const (
	ActionApprove TokenAction = "approve"
	ActionReject  TokenAction = "reject"
)

// ModerationToken is a single-use bearer capability over one held message.
// A token is usable iff consumed_at is null and expires_at is in the future.
type ModerationToken struct {
	ID               int64
	PendingMessageID string
	Bearer           string
	Action           TokenAction
	ExpiresAt        time.Time
	ConsumedAt       *time.Time
	CreatedAt        time.Time
}

// InsertTokenPair creates the approve and reject tokens for a held message in
// one transaction, both with the same expiry. Exactly one pair exists per
// message; the bearer strings are unique across all tokens.
func (db *Database) InsertTokenPair(ctx context.Context, messageID, approveBearer, rejectBearer string, expiresAt time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO moderation_tokens (pending_message_id, bearer, action, expires_at)
		VALUES ($1, $2, $3, $4), ($1, $5, $6, $4)
	`, messageID, approveBearer, ActionApprove, expiresAt, rejectBearer, ActionReject)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetTokenByBearer looks up a moderation token by its bearer string together
// with its pending message (including raw bytes) and the owning list.
func (db *Database) GetTokenByBearer(ctx context.Context, bearer string) (*ModerationToken, *PendingMessage, *List, error) {
	var (
		token ModerationToken
		msg   PendingMessage
		list  List
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT t.id, t.pending_message_id, t.bearer, t.action, t.expires_at, t.consumed_at, t.created_at,
		       m.id, m.list_id, m.from_address, COALESCE(m.subject, ''), m.raw_message, m.status, m.created_at,
		       l.id, l.name, l.address, l.mode, l.created_at
		FROM moderation_tokens t
		JOIN pending_messages m ON m.id = t.pending_message_id
		JOIN lists l ON l.id = m.list_id
		WHERE t.bearer = $1
	`, bearer).Scan(
		&token.ID, &token.PendingMessageID, &token.Bearer, &token.Action, &token.ExpiresAt, &token.ConsumedAt, &token.CreatedAt,
		&msg.ID, &msg.ListID, &msg.FromAddress, &msg.Subject, &msg.Raw, &msg.Status, &msg.CreatedAt,
		&list.ID, &list.Name, &list.Address, &list.Mode, &list.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil, ErrTokenNotFound
		}
		return nil, nil, nil, err
	}
	return &token, &msg, &list, nil
}

// ConsumeToken atomically consumes a token and moves its message to the given
// terminal status. The conditional update succeeds only while the token is
// unconsumed, unexpired and its message is still pending, so concurrent
// redemption attempts on the same or sibling token yield exactly one success;
// all others get ErrTokenNotConsumable.
func (db *Database) ConsumeToken(ctx context.Context, bearer string, newStatus PendingStatus) (*ModerationToken, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var token ModerationToken
	err = tx.QueryRow(ctx, `
		UPDATE moderation_tokens t
		SET consumed_at = now()
		FROM pending_messages m
		WHERE t.bearer = $1
		  AND m.id = t.pending_message_id
		  AND t.consumed_at IS NULL
		  AND t.expires_at > now()
		  AND m.status = $2
		RETURNING t.id, t.pending_message_id, t.bearer, t.action, t.expires_at, t.consumed_at, t.created_at
	`, bearer, StatusPending).Scan(
		&token.ID, &token.PendingMessageID, &token.Bearer, &token.Action, &token.ExpiresAt, &token.ConsumedAt, &token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotConsumable
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE pending_messages SET status = $2 WHERE id = $1
	`, token.PendingMessageID, newStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &token, nil
}
