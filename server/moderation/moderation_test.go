package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/helpers"
	"github.com/migadu/listserv/server/dispatch"
	"github.com/migadu/listserv/server/outbound"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertPendingMessage(ctx context.Context, msg *db.PendingMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockStore) InsertTokenPair(ctx context.Context, messageID, approveBearer, rejectBearer string, expiresAt time.Time) error {
	args := m.Called(ctx, messageID, approveBearer, rejectBearer, expiresAt)
	return args.Error(0)
}

func (m *mockStore) ListActiveAdmins(ctx context.Context, listID int64) ([]db.Member, error) {
	args := m.Called(ctx, listID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.Member), args.Error(1)
}

func (m *mockStore) GetTokenByBearer(ctx context.Context, bearer string) (*db.ModerationToken, *db.PendingMessage, *db.List, error) {
	args := m.Called(ctx, bearer)
	if args.Get(0) == nil {
		return nil, nil, nil, args.Error(3)
	}
	return args.Get(0).(*db.ModerationToken), args.Get(1).(*db.PendingMessage), args.Get(2).(*db.List), args.Error(3)
}

func (m *mockStore) ConsumeToken(ctx context.Context, bearer string, newStatus db.PendingStatus) (*db.ModerationToken, error) {
	args := m.Called(ctx, bearer, newStatus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.ModerationToken), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg *outbound.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockDistributor struct {
	mock.Mock
}

func (m *mockDistributor) Distribute(ctx context.Context, list *db.List, content *dispatch.Content) error {
	args := m.Called(ctx, list, content)
	return args.Error(0)
}

func testList() *db.List {
	return &db.List{ID: 7, Name: "Discuss", Address: "discuss@lists.example.com", Mode: db.ListModeModerated}
}

func testParsed() *helpers.ParsedMessage {
	return &helpers.ParsedMessage{
		From:    "stranger@example.com",
		Subject: "please post this",
		Text:    "hello list",
	}
}

const rawMessage = "From: stranger@example.com\r\n" +
	"To: discuss@lists.example.com\r\n" +
	"Subject: please post this\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"hello list\r\n"

func TestHold_StoresMessageTokensAndNotifiesAdmins(t *testing.T) {
	store := new(mockStore)
	sender := new(mockSender)

	var storedID string
	store.On("InsertPendingMessage", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		msg := args.Get(1).(*db.PendingMessage)
		storedID = msg.ID
		assert.Equal(t, int64(7), msg.ListID)
		assert.Equal(t, "stranger@example.com", msg.FromAddress)
		assert.Equal(t, "please post this", msg.Subject)
	}).Return(nil)

	var approveBearer, rejectBearer string
	store.On("InsertTokenPair", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.Equal(t, storedID, args.String(1))
			approveBearer = args.String(2)
			rejectBearer = args.String(3)
			expiresAt := args.Get(4).(time.Time)
			assert.WithinDuration(t, time.Now().Add(TokenTTL), expiresAt, time.Minute)
		}).Return(nil)

	store.On("ListActiveAdmins", mock.Anything, int64(7)).Return([]db.Member{
		{Address: "admin@example.com", Role: db.RoleAdmin, Active: true},
	}, nil)

	var notification *outbound.Message
	sender.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		notification = args.Get(1).(*outbound.Message)
	}).Return(nil)

	m := NewModerator(store, sender, new(mockDistributor), "https://lists.example.com")
	err := m.Hold(context.Background(), testList(), testParsed(), []byte(rawMessage))
	require.NoError(t, err)

	require.NotNil(t, notification)
	assert.Equal(t, "admin@example.com", notification.To)
	assert.Contains(t, notification.Subject, `"Discuss"`)
	assert.Contains(t, notification.Text, "From: stranger@example.com")
	assert.Contains(t, notification.Text, "hello list")
	assert.Contains(t, notification.Text, "https://lists.example.com/moderate/"+approveBearer)
	assert.Contains(t, notification.Text, "https://lists.example.com/moderate/"+rejectBearer)
	assert.NotEqual(t, approveBearer, rejectBearer)
	store.AssertExpectations(t)
}

func TestHold_NotificationFailureDoesNotFailHold(t *testing.T) {
	store := new(mockStore)
	sender := new(mockSender)

	store.On("InsertPendingMessage", mock.Anything, mock.Anything).Return(nil)
	store.On("InsertTokenPair", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("ListActiveAdmins", mock.Anything, int64(7)).Return([]db.Member{
		{Address: "admin@example.com"},
	}, nil)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smarthost down"))

	m := NewModerator(store, sender, new(mockDistributor), "https://lists.example.com")
	err := m.Hold(context.Background(), testList(), testParsed(), []byte(rawMessage))
	require.NoError(t, err)
}

func TestHold_StorageFailure(t *testing.T) {
	store := new(mockStore)
	store.On("InsertPendingMessage", mock.Anything, mock.Anything).Return(errors.New("db down"))

	m := NewModerator(store, new(mockSender), new(mockDistributor), "https://lists.example.com")
	err := m.Hold(context.Background(), testList(), testParsed(), []byte(rawMessage))
	require.Error(t, err)
}

func TestRedeem_ApproveDistributes(t *testing.T) {
	store := new(mockStore)
	distributor := new(mockDistributor)

	token := &db.ModerationToken{Bearer: "bearer-a", Action: db.ActionApprove, PendingMessageID: "msg1"}
	msg := &db.PendingMessage{ID: "msg1", ListID: 7, Raw: []byte(rawMessage), Status: db.StatusPending}
	list := testList()

	store.On("GetTokenByBearer", mock.Anything, "bearer-a").Return(token, msg, list, nil)
	store.On("ConsumeToken", mock.Anything, "bearer-a", db.StatusApproved).Return(token, nil)

	distributor.On("Distribute", mock.Anything, list, mock.MatchedBy(func(c *dispatch.Content) bool {
		return c.Subject == "please post this" && c.Text == "hello list"
	})).Return(nil)

	m := NewModerator(store, new(mockSender), distributor, "https://lists.example.com")
	outcome, err := m.Redeem(context.Background(), "bearer-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	distributor.AssertExpectations(t)
}

func TestRedeem_RejectDoesNotDistribute(t *testing.T) {
	store := new(mockStore)
	distributor := new(mockDistributor)

	token := &db.ModerationToken{Bearer: "bearer-r", Action: db.ActionReject, PendingMessageID: "msg1"}
	msg := &db.PendingMessage{ID: "msg1", ListID: 7, Raw: []byte(rawMessage), Status: db.StatusPending}

	store.On("GetTokenByBearer", mock.Anything, "bearer-r").Return(token, msg, testList(), nil)
	store.On("ConsumeToken", mock.Anything, "bearer-r", db.StatusRejected).Return(token, nil)

	m := NewModerator(store, new(mockSender), distributor, "https://lists.example.com")
	outcome, err := m.Redeem(context.Background(), "bearer-r")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	distributor.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeem_UnknownBearer(t *testing.T) {
	store := new(mockStore)
	store.On("GetTokenByBearer", mock.Anything, "nope").Return(nil, nil, nil, db.ErrTokenNotFound)

	m := NewModerator(store, new(mockSender), new(mockDistributor), "https://lists.example.com")
	outcome, err := m.Redeem(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
}

func TestRedeem_AlreadySettled(t *testing.T) {
	store := new(mockStore)
	distributor := new(mockDistributor)

	token := &db.ModerationToken{Bearer: "bearer-a", Action: db.ActionApprove, PendingMessageID: "msg1"}
	msg := &db.PendingMessage{ID: "msg1", ListID: 7, Raw: []byte(rawMessage), Status: db.StatusRejected}

	store.On("GetTokenByBearer", mock.Anything, "bearer-a").Return(token, msg, testList(), nil)
	store.On("ConsumeToken", mock.Anything, "bearer-a", db.StatusApproved).Return(nil, db.ErrTokenNotConsumable)

	m := NewModerator(store, new(mockSender), distributor, "https://lists.example.com")
	outcome, err := m.Redeem(context.Background(), "bearer-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpiredOrUsed, outcome)
	distributor.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeem_UnparseableMessageKeepsTokenRedeemable(t *testing.T) {
	// A stored message that no longer parses must not consume the approve
	// token: the redemption fails as a server error and can be retried.
	store := new(mockStore)
	distributor := new(mockDistributor)

	token := &db.ModerationToken{Bearer: "bearer-a", Action: db.ActionApprove, PendingMessageID: "msg1"}
	msg := &db.PendingMessage{ID: "msg1", ListID: 7, Raw: []byte("this is not a mail message\r\n\r\n"), Status: db.StatusPending}

	store.On("GetTokenByBearer", mock.Anything, "bearer-a").Return(token, msg, testList(), nil)

	m := NewModerator(store, new(mockSender), distributor, "https://lists.example.com")
	_, err := m.Redeem(context.Background(), "bearer-a")
	require.Error(t, err)
	store.AssertNotCalled(t, "ConsumeToken", mock.Anything, mock.Anything, mock.Anything)
	distributor.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeem_DistributionFailureKeepsApproval(t *testing.T) {
	store := new(mockStore)
	distributor := new(mockDistributor)

	token := &db.ModerationToken{Bearer: "bearer-a", Action: db.ActionApprove, PendingMessageID: "msg1"}
	msg := &db.PendingMessage{ID: "msg1", ListID: 7, Raw: []byte(rawMessage), Status: db.StatusPending}

	store.On("GetTokenByBearer", mock.Anything, "bearer-a").Return(token, msg, testList(), nil)
	store.On("ConsumeToken", mock.Anything, "bearer-a", db.StatusApproved).Return(token, nil)
	distributor.On("Distribute", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smarthost down"))

	m := NewModerator(store, new(mockSender), distributor, "https://lists.example.com")
	outcome, err := m.Redeem(context.Background(), "bearer-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
}
