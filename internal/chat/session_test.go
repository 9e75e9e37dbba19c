package chat_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studychat/internal/chat"
	"studychat/internal/client"
	"studychat/internal/hub"
	"studychat/internal/mocks"
	"studychat/internal/models"
	"studychat/internal/repositories"
	"studychat/internal/telemetry"
)

var (
	t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(5 * time.Minute)
)

func newSession(notifier chat.Notifier, opts ...chat.Option) (*chat.Session, *repositories.MemoryMessageRepo) {
	store := repositories.NewMemoryMessageRepo(nil).WithClock(func() time.Time { return t0 })
	opts = append([]chat.Option{chat.WithClock(func() time.Time { return t1 })}, opts...)
	return chat.NewSession(store, notifier, opts...), store
}

func TestSendStoresThenAnnounces(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	session, store := newSession(notifier)

	notifier.On("SendEvent", mock.Anything, mock.MatchedBy(func(env models.Envelope) bool {
		if env.Type != models.EventNew || env.Message == nil {
			return false
		}
		// the message must already be durable when it is announced
		stored, err := store.FindByID(context.Background(), env.Message.ID)
		return err == nil && stored.Content == "Hi"
	})).Return(nil).Once()

	msg, err := session.Send(context.Background(), 1, 7, "  Hi  ")
	require.NoError(t, err)
	assert.Equal(t, "Hi", msg.Content)
	assert.Equal(t, int64(1), msg.SenderID)
	assert.Equal(t, int64(7), msg.GroupID)
	assert.False(t, msg.Edited)
	assert.Nil(t, msg.ModifiedAt)
	notifier.AssertExpectations(t)
}

func TestSendRejectsBlankContent(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	session, store := newSession(notifier)

	_, err := session.Send(context.Background(), 1, 7, "   ")
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Equal(t, chat.KindValidation, chat.KindOf(err))

	history, err := store.FindByGroup(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, history)
	notifier.AssertNotCalled(t, "SendEvent", mock.Anything, mock.Anything)
}

func TestSendTransportFailureKeepsMessage(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	session, store := newSession(notifier)

	msg, err := session.Send(context.Background(), 1, 7, "still saved")
	require.ErrorIs(t, err, chat.ErrTransport)
	require.NotZero(t, msg.ID)

	stored, err := store.FindByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "still saved", stored.Content)
}

func TestSendWithoutNotifier(t *testing.T) {
	session, _ := newSession(nil)
	msg, err := session.Send(context.Background(), 1, 7, "offline")
	require.ErrorIs(t, err, chat.ErrTransport)
	assert.NotZero(t, msg.ID)
}

func TestSendStoreFailureIsInternal(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	notifier := new(mocks.NotifierMock)
	store.On("Insert", mock.Anything, int64(1), int64(7), "Hi").Return(nil, errors.New("disk full"))

	session := chat.NewSession(store, notifier)
	_, err := session.Send(context.Background(), 1, 7, "Hi")
	require.ErrorIs(t, err, chat.ErrInternal)
	notifier.AssertNotCalled(t, "SendEvent", mock.Anything, mock.Anything)
}

func TestEditBySender(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, store := newSession(notifier)

	sent, err := session.Send(context.Background(), 1, 7, "Hi")
	require.NoError(t, err)

	edited, err := session.Edit(context.Background(), sent.ID, 1, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", edited.Content)
	assert.True(t, edited.Edited)
	require.NotNil(t, edited.ModifiedAt)
	assert.True(t, edited.ModifiedAt.Equal(t1))

	stored, err := store.FindByID(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", stored.Content)
	assert.True(t, stored.Edited)
	assert.False(t, stored.ModifiedAt.Before(stored.CreatedAt))

	notifier.AssertCalled(t, "SendEvent", mock.Anything, models.EditEnvelope(sent.ID))
}

func TestEditClampsModifiedAtToCreation(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, _ := newSession(notifier, chat.WithClock(func() time.Time { return t0.Add(-time.Hour) }))

	sent, err := session.Send(context.Background(), 1, 7, "Hi")
	require.NoError(t, err)
	edited, err := session.Edit(context.Background(), sent.ID, 1, "Hello")
	require.NoError(t, err)
	assert.True(t, edited.ModifiedAt.Equal(edited.CreatedAt))
}

func TestEditByOtherUserIsRejected(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, store := newSession(notifier)

	sent, err := session.Send(context.Background(), 1, 7, "Hi")
	require.NoError(t, err)

	_, err = session.Edit(context.Background(), sent.ID, 2, "X")
	require.ErrorIs(t, err, chat.ErrPermission)

	stored, err := store.FindByID(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi", stored.Content)
	assert.False(t, stored.Edited)
	notifier.AssertNumberOfCalls(t, "SendEvent", 1)
}

func TestEditValidationAndMissing(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, store := newSession(notifier)

	sent, err := session.Send(context.Background(), 1, 7, "Hi")
	require.NoError(t, err)

	_, err = session.Edit(context.Background(), sent.ID, 1, " ")
	require.ErrorIs(t, err, chat.ErrValidation)
	stored, err := store.FindByID(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi", stored.Content)

	_, err = session.Edit(context.Background(), 999, 1, "Hello")
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestDeleteRules(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, store := newSession(notifier)
	ctx := context.Background()

	own, err := session.Send(ctx, 1, 7, "mine")
	require.NoError(t, err)
	other, err := session.Send(ctx, 2, 7, "theirs")
	require.NoError(t, err)

	err = session.Delete(ctx, other.ID, 1, false)
	require.ErrorIs(t, err, chat.ErrPermission)
	_, err = store.FindByID(ctx, other.ID)
	require.NoError(t, err)
	notifier.AssertNotCalled(t, "SendEvent", mock.Anything, models.DeleteEnvelope(other.ID))

	require.NoError(t, session.Delete(ctx, own.ID, 1, false))
	notifier.AssertCalled(t, "SendEvent", mock.Anything, models.DeleteEnvelope(own.ID))

	require.NoError(t, session.Delete(ctx, other.ID, 1, true))
	_, err = store.FindByID(ctx, other.ID)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)

	err = session.Delete(ctx, own.ID, 1, false)
	require.ErrorIs(t, err, chat.ErrNotFound)
	assert.Equal(t, "message already deleted", err.(*chat.Error).Reason())

	_, err = session.Edit(ctx, own.ID, 1, "too late")
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestDeleteTransportFailure(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.MatchedBy(func(env models.Envelope) bool {
		return env.Type == models.EventNew
	})).Return(nil)
	notifier.On("SendEvent", mock.Anything, mock.MatchedBy(func(env models.Envelope) bool {
		return env.Type == models.EventDelete
	})).Return(errors.New("broken pipe"))
	session, store := newSession(notifier)

	sent, err := session.Send(context.Background(), 1, 7, "Hi")
	require.NoError(t, err)

	err = session.Delete(context.Background(), sent.ID, 1, false)
	require.ErrorIs(t, err, chat.ErrTransport)
	_, err = store.FindByID(context.Background(), sent.ID)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestHistory(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, _ := newSession(notifier)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := session.Send(ctx, 1, 7, text)
		require.NoError(t, err)
	}
	_, err := session.Send(ctx, 1, 8, "elsewhere")
	require.NoError(t, err)

	history, err := session.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)

	fetched, err := session.Message(ctx, history[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "two", fetched.Content)
}

func TestMutationsAreAudited(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil)

	emitter := telemetry.NewAuditEmitter(pub, "audit.chat", "studychat", "test")
	session, _ := newSession(notifier, chat.WithAudit(emitter))
	ctx := context.Background()

	sent, err := session.Send(ctx, 1, 7, "Hi")
	require.NoError(t, err)
	_, err = session.Edit(ctx, sent.ID, 1, "Hello")
	require.NoError(t, err)
	require.NoError(t, session.Delete(ctx, sent.ID, 1, false))

	pub.AssertNumberOfCalls(t, "Publish", 3)
}

// TestSessionsOverHub wires three participants through a real hub: each
// announces through its own client and the others observe the envelopes.
func TestSessionsOverHub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Serve(ctx, ln)
	defer func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = h.Shutdown(shutdownCtx)
	}()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	store := repositories.NewMemoryMessageRepo(nil)
	inboxes := make([]chan models.Envelope, 3)
	clients := make([]*client.Client, 3)
	for i := range clients {
		inbox := make(chan models.Envelope, 16)
		inboxes[i] = inbox
		clients[i] = client.New(func(env models.Envelope) { inbox <- env })
		require.NoError(t, clients[i].Connect(context.Background(), host, port))
		defer clients[i].Disconnect()
		want := i + 1
		require.Eventually(t, func() bool { return h.Count() == want }, 2*time.Second, 10*time.Millisecond)
	}

	alice := chat.NewSession(store, clients[0])
	bob := chat.NewSession(store, clients[1])

	receive := func(i int) models.Envelope {
		select {
		case env := <-inboxes[i]:
			return env
		case <-time.After(2 * time.Second):
			t.Fatalf("participant %d received nothing", i)
			return models.Envelope{}
		}
	}

	sent, err := alice.Send(context.Background(), 1, 7, "Hi")
	require.NoError(t, err)
	for _, i := range []int{1, 2} {
		env := receive(i)
		require.Equal(t, models.EventNew, env.Type)
		require.NotNil(t, env.Message)
		assert.Equal(t, sent.ID, env.Message.ID)
		assert.Equal(t, "Hi", env.Message.Content)
	}

	_, err = bob.Edit(context.Background(), sent.ID, 2, "X")
	require.ErrorIs(t, err, chat.ErrPermission)

	_, err = alice.Edit(context.Background(), sent.ID, 1, "Hello")
	require.NoError(t, err)
	for _, i := range []int{1, 2} {
		env := receive(i)
		require.Equal(t, models.EventEdit, env.Type)
		require.Equal(t, sent.ID, env.ID)
		refreshed, err := bob.Message(context.Background(), env.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello", refreshed.Content)
		assert.True(t, refreshed.Edited)
	}

	require.NoError(t, alice.Delete(context.Background(), sent.ID, 1, false))
	for _, i := range []int{1, 2} {
		env := receive(i)
		require.Equal(t, models.EventDelete, env.Type)
		require.Equal(t, sent.ID, env.ID)
	}

	select {
	case env := <-inboxes[0]:
		t.Fatalf("sender received its own envelope %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
