package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// MemberRole distinguishes list admins from ordinary members.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// ValidMemberRole reports whether s is a known member role.
func ValidMemberRole(s string) bool {
	switch MemberRole(s) {
	case RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Member is a subscriber of a single list. The unsubscribe token, when set,
// is globally unique and stable for the member's lifetime.
type Member struct {
	ID               int64      `json:"id"`
	ListID           int64      `json:"list_id"`
	Address          string     `json:"address"`
	Name             string     `json:"name,omitempty"`
	Role             MemberRole `json:"role"`
	Active           bool       `json:"active"`
	UnsubscribeToken string     `json:"unsubscribe_token,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

const memberColumns = `id, list_id, address, COALESCE(name, ''), role, active, COALESCE(unsubscribe_token, ''), created_at`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.ListID, &m.Address, &m.Name, &m.Role, &m.Active, &m.UnsubscribeToken, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddMember adds a member to a list. The address is stored lowercased and
// must be unique within the list.
func (db *Database) AddMember(ctx context.Context, listID int64, address, name string, role MemberRole, active bool, unsubscribeToken string) (*Member, error) {
	var nameArg, tokenArg *string
	if name != "" {
		nameArg = &name
	}
	if unsubscribeToken != "" {
		tokenArg = &unsubscribeToken
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO list_members (list_id, address, name, role, active, unsubscribe_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+memberColumns+`
	`, listID, strings.ToLower(strings.TrimSpace(address)), nameArg, role, active, tokenArg)

	member, err := scanMember(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateMember
		}
		if isForeignKeyViolation(err) {
			return nil, ErrListNotFound
		}
		return nil, err
	}
	return member, nil
}

// ListMembers returns all members of a list, active or not.
func (db *Database) ListMembers(ctx context.Context, listID int64) ([]Member, error) {
	return db.queryMembers(ctx, `
		SELECT `+memberColumns+`
		FROM list_members
		WHERE list_id = $1
		ORDER BY address
	`, listID)
}

// ListActiveMembers returns all active members of a list, the fan-out set for
// a distribution.
func (db *Database) ListActiveMembers(ctx context.Context, listID int64) ([]Member, error) {
	return db.queryMembers(ctx, `
		SELECT `+memberColumns+`
		FROM list_members
		WHERE list_id = $1 AND active
		ORDER BY id
	`, listID)
}

// ListActiveAdmins returns all active admin members of a list, the recipients
// of moderation notifications.
func (db *Database) ListActiveAdmins(ctx context.Context, listID int64) ([]Member, error) {
	return db.queryMembers(ctx, `
		SELECT `+memberColumns+`
		FROM list_members
		WHERE list_id = $1 AND active AND role = $2
		ORDER BY id
	`, listID, RoleAdmin)
}

func (db *Database) queryMembers(ctx context.Context, query string, args ...any) ([]Member, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

// FindActiveMember looks up an active member of a list by address,
// case-insensitively. Returns ErrMemberNotFound when the address is not an
// active member.
func (db *Database) FindActiveMember(ctx context.Context, listID int64, address string) (*Member, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM list_members
		WHERE list_id = $1 AND LOWER(address) = LOWER($2) AND active
	`, listID, address)

	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

// GetMemberByUnsubscribeToken looks up a member by unsubscribe token and
// returns it together with the owning list's name.
func (db *Database) GetMemberByUnsubscribeToken(ctx context.Context, token string) (*Member, string, error) {
	var m Member
	var listName string
	err := db.Pool.QueryRow(ctx, `
		SELECT m.id, m.list_id, m.address, COALESCE(m.name, ''), m.role, m.active,
		       COALESCE(m.unsubscribe_token, ''), m.created_at, l.name
		FROM list_members m
		JOIN lists l ON l.id = m.list_id
		WHERE m.unsubscribe_token = $1
	`, token).Scan(&m.ID, &m.ListID, &m.Address, &m.Name, &m.Role, &m.Active, &m.UnsubscribeToken, &m.CreatedAt, &listName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrMemberNotFound
		}
		return nil, "", err
	}
	return &m, listName, nil
}

// SetMemberActive activates or deactivates a member. Setting the same state
// twice is a no-op, not an error.
func (db *Database) SetMemberActive(ctx context.Context, memberID int64, active bool) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE list_members SET active = $2 WHERE id = $1
	`, memberID, active)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}
