package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/helpers"
	"github.com/migadu/listserv/server/dispatch"
)

// fakeMailbox is a scriptable in-memory Mailbox.
type fakeMailbox struct {
	mu         sync.Mutex
	unseen     []Unseen
	connectErr error
	fetchErr   error
	seen       []uint32
	connects   int
}

func (f *fakeMailbox) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeMailbox) FetchUnseen(ctx context.Context) ([]Unseen, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	unseen := f.unseen
	f.unseen = nil
	return unseen, nil
}

func (f *fakeMailbox) MarkSeen(ctx context.Context, seqNum uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, seqNum)
	return nil
}

func (f *fakeMailbox) Close() error { return nil }

func (f *fakeMailbox) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeMailbox) seenSeqNums() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.seen...)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindListsByAddresses(ctx context.Context, addresses []string) ([]db.List, error) {
	args := m.Called(ctx, addresses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.List), args.Error(1)
}

func (m *mockStore) FindActiveMember(ctx context.Context, listID int64, address string) (*db.Member, error) {
	args := m.Called(ctx, listID, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Member), args.Error(1)
}

type mockDistributor struct {
	mock.Mock
}

func (m *mockDistributor) Distribute(ctx context.Context, list *db.List, content *dispatch.Content) error {
	args := m.Called(ctx, list, content)
	return args.Error(0)
}

type mockHolder struct {
	mock.Mock
}

func (m *mockHolder) Hold(ctx context.Context, list *db.List, parsed *helpers.ParsedMessage, raw []byte) error {
	args := m.Called(ctx, list, parsed, raw)
	return args.Error(0)
}

func rawMessage(from, to, subject string) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n")
}

func openList() []db.List {
	return []db.List{{ID: 1, Name: "Discuss", Address: "discuss@lists.example.com", Mode: db.ListModeOpen}}
}

func TestPoll_DistributesAndMarksSeen(t *testing.T) {
	mailbox := &fakeMailbox{unseen: []Unseen{
		{SeqNum: 3, Raw: rawMessage("a@example.com", "discuss@lists.example.com", "one")},
		{SeqNum: 5, Raw: rawMessage("b@example.com", "discuss@lists.example.com", "two")},
	}}
	store := new(mockStore)
	distributor := new(mockDistributor)

	store.On("FindListsByAddresses", mock.Anything, []string{"discuss@lists.example.com"}).Return(openList(), nil)
	store.On("FindActiveMember", mock.Anything, mock.Anything, mock.Anything).Return(nil, db.ErrMemberNotFound)
	distributor.On("Distribute", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := NewWorker(mailbox, store, distributor, new(mockHolder))
	require.NoError(t, w.poll(context.Background()))

	assert.Equal(t, []uint32{3, 5}, mailbox.seenSeqNums())
	distributor.AssertNumberOfCalls(t, "Distribute", 2)
}

func TestPoll_NoMatchingListStillMarkedSeen(t *testing.T) {
	mailbox := &fakeMailbox{unseen: []Unseen{
		{SeqNum: 1, Raw: rawMessage("a@example.com", "nobody@example.com", "hi")},
	}}
	store := new(mockStore)
	distributor := new(mockDistributor)

	store.On("FindListsByAddresses", mock.Anything, mock.Anything).Return([]db.List{}, nil)

	w := NewWorker(mailbox, store, distributor, new(mockHolder))
	require.NoError(t, w.poll(context.Background()))

	assert.Equal(t, []uint32{1}, mailbox.seenSeqNums())
	distributor.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoll_BrokenMessageDoesNotStopBatch(t *testing.T) {
	// First message has no From header, second is fine. Both must end up
	// marked seen and the second still distributed.
	noFrom := []byte("To: discuss@lists.example.com\r\nSubject: x\r\nContent-Type: text/plain\r\n\r\nbody\r\n")
	mailbox := &fakeMailbox{unseen: []Unseen{
		{SeqNum: 1, Raw: noFrom},
		{SeqNum: 2, Raw: rawMessage("a@example.com", "discuss@lists.example.com", "ok")},
	}}
	store := new(mockStore)
	distributor := new(mockDistributor)

	store.On("FindListsByAddresses", mock.Anything, mock.Anything).Return(openList(), nil)
	store.On("FindActiveMember", mock.Anything, mock.Anything, mock.Anything).Return(nil, db.ErrMemberNotFound)
	distributor.On("Distribute", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := NewWorker(mailbox, store, distributor, new(mockHolder))
	require.NoError(t, w.poll(context.Background()))

	assert.Equal(t, []uint32{1, 2}, mailbox.seenSeqNums())
	distributor.AssertNumberOfCalls(t, "Distribute", 1)
}

func TestPoll_StoreErrorLeavesMessageUnseen(t *testing.T) {
	// A transient database failure must not settle the message: it stays
	// unseen and gets picked up again on the next poll.
	mailbox := &fakeMailbox{unseen: []Unseen{
		{SeqNum: 9, Raw: rawMessage("a@example.com", "discuss@lists.example.com", "hi")},
	}}
	store := new(mockStore)
	store.On("FindListsByAddresses", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	w := NewWorker(mailbox, store, new(mockDistributor), new(mockHolder))
	require.Error(t, w.poll(context.Background()))
	assert.Empty(t, mailbox.seenSeqNums())
}

func TestPoll_HoldErrorLeavesMessageUnseen(t *testing.T) {
	mailbox := &fakeMailbox{unseen: []Unseen{
		{SeqNum: 4, Raw: rawMessage("stranger@example.com", "announce@lists.example.com", "hi")},
	}}
	store := new(mockStore)
	holder := new(mockHolder)

	list := db.List{ID: 2, Name: "Announce", Address: "announce@lists.example.com", Mode: db.ListModeModerated}
	store.On("FindListsByAddresses", mock.Anything, mock.Anything).Return([]db.List{list}, nil)
	store.On("FindActiveMember", mock.Anything, mock.Anything, mock.Anything).Return(nil, db.ErrMemberNotFound)
	holder.On("Hold", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	w := NewWorker(mailbox, store, new(mockDistributor), holder)
	require.Error(t, w.poll(context.Background()))
	assert.Empty(t, mailbox.seenSeqNums())
}

func TestPoll_FetchErrorPropagates(t *testing.T) {
	mailbox := &fakeMailbox{fetchErr: errors.New("connection reset")}
	w := NewWorker(mailbox, new(mockStore), new(mockDistributor), new(mockHolder))
	require.Error(t, w.poll(context.Background()))
}

func TestHandleMessage_ModeratedListHoldsFromStranger(t *testing.T) {
	store := new(mockStore)
	distributor := new(mockDistributor)
	holder := new(mockHolder)

	list := db.List{ID: 2, Name: "Announce", Address: "announce@lists.example.com", Mode: db.ListModeModerated}
	store.On("FindListsByAddresses", mock.Anything, mock.Anything).Return([]db.List{list}, nil)
	store.On("FindActiveMember", mock.Anything, int64(2), "stranger@example.com").Return(nil, db.ErrMemberNotFound)
	holder.On("Hold", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := NewWorker(&fakeMailbox{}, store, distributor, holder)
	require.NoError(t, w.handleMessage(context.Background(), rawMessage("stranger@example.com", "announce@lists.example.com", "hi")))

	holder.AssertNumberOfCalls(t, "Hold", 1)
	distributor.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessage_AdminBypassesModeration(t *testing.T) {
	store := new(mockStore)
	distributor := new(mockDistributor)
	holder := new(mockHolder)

	list := db.List{ID: 2, Name: "Announce", Address: "announce@lists.example.com", Mode: db.ListModeModerated}
	admin := &db.Member{ID: 1, ListID: 2, Address: "boss@example.com", Role: db.RoleAdmin, Active: true}
	store.On("FindListsByAddresses", mock.Anything, mock.Anything).Return([]db.List{list}, nil)
	store.On("FindActiveMember", mock.Anything, int64(2), "boss@example.com").Return(admin, nil)
	distributor.On("Distribute", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := NewWorker(&fakeMailbox{}, store, distributor, holder)
	require.NoError(t, w.handleMessage(context.Background(), rawMessage("boss@example.com", "announce@lists.example.com", "hi")))

	distributor.AssertNumberOfCalls(t, "Distribute", 1)
	holder.AssertNotCalled(t, "Hold", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_ReconnectsAfterSessionFailure(t *testing.T) {
	mailbox := &fakeMailbox{fetchErr: errors.New("connection reset")}
	w := NewWorker(mailbox, new(mockStore), new(mockDistributor), new(mockHolder))
	w.reconnectDelay = time.Millisecond
	w.pollInterval = time.Millisecond

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		return mailbox.connectCount() >= 3
	}, 5*time.Second, 5*time.Millisecond, "worker should keep reconnecting")
	w.Stop()
}

func TestWorker_StopEndsRun(t *testing.T) {
	mailbox := &fakeMailbox{}
	w := NewWorker(mailbox, new(mockStore), new(mockDistributor), new(mockHolder))
	w.pollInterval = time.Millisecond

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		return mailbox.connectCount() >= 1
	}, 5*time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
