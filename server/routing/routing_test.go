package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/migadu/listserv/db"
)

func TestDecide(t *testing.T) {
	nonMember := Sender{}
	member := Sender{ActiveMember: true}
	admin := Sender{ActiveMember: true, ActiveAdmin: true}

	tests := []struct {
		name   string
		mode   db.ListMode
		sender Sender
		want   Decision
	}{
		{"open accepts non-members", db.ListModeOpen, nonMember, Distribute},
		{"open accepts members", db.ListModeOpen, member, Distribute},
		{"open accepts admins", db.ListModeOpen, admin, Distribute},

		{"members_only holds non-members", db.ListModeMembersOnly, nonMember, Hold},
		{"members_only accepts members", db.ListModeMembersOnly, member, Distribute},
		{"members_only accepts admins", db.ListModeMembersOnly, admin, Distribute},

		{"moderated holds non-members", db.ListModeModerated, nonMember, Hold},
		{"moderated holds members", db.ListModeModerated, member, Hold},
		{"moderated accepts admins", db.ListModeModerated, admin, Distribute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.mode, tc.sender))
		})
	}
}

func TestDecide_InactiveSenderIsHeld(t *testing.T) {
	// An inactive member resolves to a zero Sender, same as a stranger.
	assert.Equal(t, Hold, Decide(db.ListModeMembersOnly, Sender{}))
	assert.Equal(t, Hold, Decide(db.ListModeModerated, Sender{}))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "distribute", Distribute.String())
	assert.Equal(t, "hold", Hold.String())
}
