package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// PendingStatus is the moderation state of a held message. PENDING moves to
// exactly one of APPROVED or REJECTED via token redemption; both are terminal.
type PendingStatus string

const (
	StatusPending  PendingStatus = "pending"
	StatusApproved PendingStatus = "approved"
	StatusRejected PendingStatus = "rejected"
)

// PendingMessage is a submission held for moderation. The raw message bytes
// are kept verbatim so the authoritative subject and body can be re-derived
// at redemption time.
type PendingMessage struct {
	ID          string        `json:"id"`
	ListID      int64         `json:"list_id"`
	FromAddress string        `json:"from_address"`
	Subject     string        `json:"subject"`
	Raw         []byte        `json:"-"`
	Status      PendingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// InsertPendingMessage persists a held message with status PENDING.
func (db *Database) InsertPendingMessage(ctx context.Context, msg *PendingMessage) error {
	var subjectArg *string
	if msg.Subject != "" {
		subjectArg = &msg.Subject
	}

	msg.Status = StatusPending
	return db.Pool.QueryRow(ctx, `
		INSERT INTO pending_messages (id, list_id, from_address, subject, raw_message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, msg.ID, msg.ListID, msg.FromAddress, subjectArg, msg.Raw, msg.Status).Scan(&msg.CreatedAt)
}

// GetPendingMessage fetches a held message by id, including its raw bytes.
func (db *Database) GetPendingMessage(ctx context.Context, id string) (*PendingMessage, error) {
	var msg PendingMessage
	err := db.Pool.QueryRow(ctx, `
		SELECT id, list_id, from_address, COALESCE(subject, ''), raw_message, status, created_at
		FROM pending_messages
		WHERE id = $1
	`, id).Scan(&msg.ID, &msg.ListID, &msg.FromAddress, &msg.Subject, &msg.Raw, &msg.Status, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// ListPendingMessages returns held messages of a list with the given status,
// without their raw bytes. Used by the admin API.
func (db *Database) ListPendingMessages(ctx context.Context, listID int64, status PendingStatus) ([]PendingMessage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, list_id, from_address, COALESCE(subject, ''), status, created_at
		FROM pending_messages
		WHERE list_id = $1 AND status = $2
		ORDER BY created_at
	`, listID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []PendingMessage
	for rows.Next() {
		var msg PendingMessage
		if err := rows.Scan(&msg.ID, &msg.ListID, &msg.FromAddress, &msg.Subject, &msg.Status, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
