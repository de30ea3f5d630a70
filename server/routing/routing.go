// Package routing decides what happens to an incoming message once its
// target list is known. The decision is a pure function of the list mode and
// the sender's standing on that list, so the policy is trivially testable
// away from IMAP and the database.
package routing

import "github.com/migadu/listserv/db"

// Decision is the outcome of routing one message to one list.
type Decision int

const (
	// Distribute fans the message out to the list's active members now.
	Distribute Decision = iota
	// Hold stores the message for moderation and notifies the admins.
	Hold
)

func (d Decision) String() string {
	switch d {
	case Distribute:
		return "distribute"
	case Hold:
		return "hold"
	}
	return "unknown"
}

// Sender is the sender's standing on the target list. A sender that is not a
// member at all, or whose membership is inactive, has both fields false.
type Sender struct {
	ActiveMember bool
	ActiveAdmin  bool
}

// Decide applies the list's policy to a sender. Open lists distribute
// everything. Active admins bypass moderation on every mode. Members-only
// lists additionally let active members through. Everything else is held.
func Decide(mode db.ListMode, sender Sender) Decision {
	if mode == db.ListModeOpen {
		return Distribute
	}
	if sender.ActiveAdmin {
		return Distribute
	}
	if mode == db.ListModeMembersOnly && sender.ActiveMember {
		return Distribute
	}
	return Hold
}
