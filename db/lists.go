package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ListMode controls how incoming mail for a list is routed.
type ListMode string

const (
	// ListModeOpen distributes every incoming message immediately.
	ListModeOpen ListMode = "open"
	// ListModeMembersOnly distributes mail from active members; everything
	// else is held for moderation.
	ListModeMembersOnly ListMode = "members_only"
	// ListModeModerated holds everything except mail from active admins.
	ListModeModerated ListMode = "moderated"
)

// ValidListMode reports whether s is a known list mode.
func ValidListMode(s string) bool {
	switch ListMode(s) {
	case ListModeOpen, ListModeMembersOnly, ListModeModerated:
		return true
	}
	return false
}

// List is a mailing list: a contact address plus a distribution policy.
type List struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Mode      ListMode  `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateList creates a new mailing list. The contact address is stored
// lowercased and must be unique across all lists.
func (db *Database) CreateList(ctx context.Context, name, address string, mode ListMode) (*List, error) {
	list := &List{
		Name:    name,
		Address: strings.ToLower(strings.TrimSpace(address)),
		Mode:    mode,
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO lists (name, address, mode)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, list.Name, list.Address, list.Mode).Scan(&list.ID, &list.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateList
		}
		return nil, err
	}

	return list, nil
}

// GetList fetches a list by id.
func (db *Database) GetList(ctx context.Context, id int64) (*List, error) {
	var list List
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, address, mode, created_at
		FROM lists
		WHERE id = $1
	`, id).Scan(&list.ID, &list.Name, &list.Address, &list.Mode, &list.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListNotFound
		}
		return nil, err
	}
	return &list, nil
}

// ListLists returns all lists ordered by address.
func (db *Database) ListLists(ctx context.Context) ([]List, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, address, mode, created_at
		FROM lists
		ORDER BY address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []List
	for rows.Next() {
		var list List
		if err := rows.Scan(&list.ID, &list.Name, &list.Address, &list.Mode, &list.CreatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return lists, rows.Err()
}

// FindListsByAddresses returns all lists whose contact address matches any of
// the given addresses, case-insensitively. Used by the ingestion worker to
// resolve the target lists of an incoming message from its To/Cc recipients.
func (db *Database) FindListsByAddresses(ctx context.Context, addresses []string) ([]List, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	lowered := make([]string, 0, len(addresses))
	for _, a := range addresses {
		lowered = append(lowered, strings.ToLower(a))
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, address, mode, created_at
		FROM lists
		WHERE LOWER(address) = ANY($1)
		ORDER BY id
	`, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []List
	for rows.Next() {
		var list List
		if err := rows.Scan(&list.ID, &list.Name, &list.Address, &list.Mode, &list.CreatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return lists, rows.Err()
}

// DeleteList removes a list together with its members, pending messages and
// moderation tokens in a single transaction. The schema carries ON DELETE
// CASCADE as well, but the dependent rows are removed explicitly so the
// cleanup does not rely on referential actions alone.
func (db *Database) DeleteList(ctx context.Context, id int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM moderation_tokens
		WHERE pending_message_id IN (SELECT id FROM pending_messages WHERE list_id = $1)
	`, id)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM pending_messages WHERE list_id = $1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM list_members WHERE list_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `DELETE FROM lists WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrListNotFound
	}

	return tx.Commit(ctx)
}
