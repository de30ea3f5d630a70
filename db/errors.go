package db

import "errors"

// Sentinel errors for database operations
var (
	// ErrListNotFound indicates that a mailing list was not found in the database
	ErrListNotFound = errors.New("list not found")

	// ErrMemberNotFound indicates that a list member was not found in the database
	ErrMemberNotFound = errors.New("member not found")

	// ErrMessageNotFound indicates that a pending message was not found in the database
	ErrMessageNotFound = errors.New("pending message not found")

	// ErrTokenNotFound indicates that no moderation token exists for a bearer string
	ErrTokenNotFound = errors.New("moderation token not found")

	// ErrTokenNotConsumable indicates that a token is already consumed, expired,
	// or its message has already reached a terminal status
	ErrTokenNotConsumable = errors.New("moderation token not consumable")

	// ErrDuplicateList indicates that a list with the given address already exists
	ErrDuplicateList = errors.New("list already exists")

	// ErrDuplicateMember indicates that the address is already a member of the list
	ErrDuplicateMember = errors.New("member already exists")
)
