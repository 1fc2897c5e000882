package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carexpert/client/domain"
	"carexpert/client/realtime"
)

type fakeAPI struct {
	mu sync.Mutex

	directBlock   map[string]chan struct{}
	directHistory map[string][]HistoryMessage
	directErr     error

	roomBlock   chan struct{}
	roomHistory RoomHistory
	roomErr     error

	members    []domain.UserRef
	membersErr error

	aiHistory []AIChatRecord
	aiErr     error

	analysis    domain.AIAnalysis
	analysisErr error
	deleteErr   error
}

func (f *fakeAPI) GetAIHistory(context.Context) ([]AIChatRecord, error) {
	return f.aiHistory, f.aiErr
}

func (f *fakeAPI) PostAIMessage(context.Context, string, string) (domain.AIAnalysis, error) {
	return f.analysis, f.analysisErr
}

func (f *fakeAPI) DeleteAIHistory(context.Context) error { return f.deleteErr }

func (f *fakeAPI) GetDirectHistory(_ context.Context, peerID string) ([]HistoryMessage, error) {
	f.mu.Lock()
	block := f.directBlock[peerID]
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.directErr != nil {
		return nil, f.directErr
	}
	return f.directHistory[peerID], nil
}

func (f *fakeAPI) GetRoomHistory(context.Context, string) (RoomHistory, error) {
	if f.roomBlock != nil {
		<-f.roomBlock
	}
	return f.roomHistory, f.roomErr
}

func (f *fakeAPI) GetRoomMembers(context.Context, string) ([]domain.UserRef, error) {
	return f.members, f.membersErr
}

type fakeConn struct {
	mu      sync.Mutex
	joined  []string
	sent    []domain.ChatEvent
	sendErr error
}

func (f *fakeConn) JoinDirectChannel(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channelID)
	return nil
}

func (f *fakeConn) JoinRoomChannel(roomID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeConn) Send(evt domain.ChatEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, evt)
	return nil
}

func (f *fakeConn) sentEvents() []domain.ChatEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChatEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) joinedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.joined))
	copy(out, f.joined)
	return out
}

type fakeUsers struct {
	mu   sync.Mutex
	user *domain.User
}

func (f *fakeUsers) CurrentUser() *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
	infos  []string
	oks    []string
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.oks = append(n.oks, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) lastError() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.errors) == 0 {
		return ""
	}
	return n.errors[len(n.errors)-1]
}

func newTestController(api *fakeAPI, conn *fakeConn) (*Controller, *recordingNotifier) {
	notify := &recordingNotifier{}
	users := &fakeUsers{user: &domain.User{ID: "u1", Name: "Alice", Role: domain.RolePatient}}
	return NewController(api, conn, users, notify), notify
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSelectChatLateLoadIsDiscarded(t *testing.T) {
	block := make(chan struct{})
	api := &fakeAPI{
		directBlock: map[string]chan struct{}{"slow": block},
		directHistory: map[string][]HistoryMessage{
			"slow": {{ID: "m-slow", SenderID: "slow", Text: "from slow peer"}},
			"fast": {{ID: "m-fast", SenderID: "fast", Text: "from fast peer"}},
		},
	}
	c, _ := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "slow", Name: "Slow"}))
	c.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "fast", Name: "Fast"}))

	waitFor(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && msgs[0].Text == "from fast peer"
	})

	close(block)
	time.Sleep(50 * time.Millisecond)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "from fast peer", msgs[0].Text)
	assert.Equal(t, domain.ChatKindDirect, c.Selected().Kind)
	assert.Equal(t, "fast", c.Selected().Peer.ID)
}

func TestInboundSelfEchoDropped(t *testing.T) {
	api := &fakeAPI{directHistory: map[string][]HistoryMessage{}}
	c, _ := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "u2", Name: "Bob"}))
	waitFor(t, func() bool { return !c.Loading() })

	c.HandleInbound(domain.ChatEvent{ChannelID: "u1_u2", SenderID: "u1", SenderName: "Alice", Text: "my own echo"})
	assert.Empty(t, c.Messages())

	c.HandleInbound(domain.ChatEvent{ChannelID: "u1_u2", SenderID: "u2", SenderName: "Bob", Text: "hello"})
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, domain.OriginServerEchoed, msgs[0].Origin)
}

func TestInboundOtherChannelDropped(t *testing.T) {
	api := &fakeAPI{directHistory: map[string][]HistoryMessage{}}
	c, _ := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "u2", Name: "Bob"}))
	waitFor(t, func() bool { return !c.Loading() })

	c.HandleInbound(domain.ChatEvent{ChannelID: "u1_u3", SenderID: "u3", Text: "wrong thread"})
	assert.Empty(t, c.Messages())
}

func TestAIFailureAppendsApology(t *testing.T) {
	api := &fakeAPI{analysisErr: errors.New("backend down")}
	c, notify := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectAI())
	waitFor(t, func() bool { return len(c.AIMessages()) == 1 })

	err := c.SendMessage(context.Background(), "I have a headache")
	require.NoError(t, err)

	msgs := c.AIMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.WelcomeText, msgs[0].Text)
	assert.Equal(t, "I have a headache", msgs[1].Text)
	assert.Equal(t, domain.OriginLocalOptimistic, msgs[1].Origin)
	assert.Equal(t, domain.ApologyText, msgs[2].Text)
	assert.Equal(t, "Failed to get AI response. Please try again.", notify.lastError())
}

func TestAISuccessAppendsAnalysis(t *testing.T) {
	api := &fakeAPI{analysis: domain.AIAnalysis{
		Severity:       "low",
		ProbableCauses: []string{"Tension headache"},
		Recommendation: "Rest",
		Disclaimer:     "Consult a doctor",
	}}
	c, _ := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectAI())
	waitFor(t, func() bool { return len(c.AIMessages()) == 1 })

	require.NoError(t, c.SendMessage(context.Background(), "headache"))

	msgs := c.AIMessages()
	require.Len(t, msgs, 3)
	require.NotNil(t, msgs[2].AI)
	assert.Equal(t, "low", msgs[2].AI.Severity)
	assert.Contains(t, msgs[2].Text, "Tension headache")
}

func TestRoomSendBeforeReady(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	api := &fakeAPI{roomBlock: block}
	conn := &fakeConn{}
	c, notify := newTestController(api, conn)

	c.SelectChat(context.Background(), domain.SelectRoom(domain.Room{ID: "seoul", Name: "seoul"}))

	err := c.SendMessage(context.Background(), "anyone here?")
	require.ErrorIs(t, err, ErrRoomNotReady)
	assert.Empty(t, c.Messages())
	assert.Empty(t, conn.sentEvents())
	assert.Equal(t, "Connecting to room... please try again in a moment", notify.lastError())
}

func TestRoomMemberLoadFailureClearsThread(t *testing.T) {
	api := &fakeAPI{
		roomHistory: RoomHistory{
			Room:     RoomInfo{ID: "room-9", Name: "seoul"},
			Messages: []HistoryMessage{{ID: "m1", SenderID: "u2", Text: "old"}},
		},
		membersErr: errors.New("members unavailable"),
	}
	c, _ := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectRoom(domain.Room{ID: "seoul", Name: "seoul"}))
	waitFor(t, func() bool { return c.ActiveRoomID() == "room-9" })

	waitFor(t, func() bool { return len(c.Messages()) == 0 })
	assert.Empty(t, c.Members())
}

func TestRoomIDFallsBackToSelection(t *testing.T) {
	api := &fakeAPI{roomHistory: RoomHistory{}}
	conn := &fakeConn{}
	c, _ := newTestController(api, conn)

	c.SelectChat(context.Background(), domain.SelectRoom(domain.Room{ID: "seoul", Name: "seoul"}))
	waitFor(t, func() bool { return c.ActiveRoomID() == "seoul" })
	assert.Contains(t, conn.joinedChannels(), "seoul")
}

func TestDirectConversationFlow(t *testing.T) {
	api := &fakeAPI{directHistory: map[string][]HistoryMessage{}}
	conn := &fakeConn{}
	c, _ := newTestController(api, conn)

	c.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "u2", Name: "Bob"}))
	waitFor(t, func() bool { return len(conn.joinedChannels()) == 1 })
	assert.Equal(t, "u1_u2", conn.joinedChannels()[0])
	waitFor(t, func() bool { return !c.Loading() })

	require.NoError(t, c.SendMessage(context.Background(), "hi Bob"))

	sent := conn.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, "u1_u2", sent[0].ChannelID)
	assert.Equal(t, "u2", sent[0].ReceiverID)
	assert.Equal(t, "hi Bob", sent[0].Text)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.OriginLocalOptimistic, msgs[0].Origin)

	// the server echo of the local send comes back and is dropped
	c.HandleInbound(domain.ChatEvent{ChannelID: "u1_u2", SenderID: "u1", Text: "hi Bob"})
	require.Len(t, c.Messages(), 1)

	c.HandleInbound(domain.ChatEvent{ChannelID: "u1_u2", SenderID: "u2", SenderName: "Bob", Text: "hi Alice"})
	msgs = c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi Alice", msgs[1].Text)
}

func TestTwoUserDirectScenario(t *testing.T) {
	api := &fakeAPI{directHistory: map[string][]HistoryMessage{}}
	connA := &fakeConn{}
	connB := &fakeConn{}

	usersA := &fakeUsers{user: &domain.User{ID: "u1", Name: "Alice"}}
	usersB := &fakeUsers{user: &domain.User{ID: "u2", Name: "Bob"}}
	a := NewController(api, connA, usersA, &recordingNotifier{})
	b := NewController(api, connB, usersB, &recordingNotifier{})

	a.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "u2", Name: "Bob"}))
	b.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "u1", Name: "Alice"}))
	waitFor(t, func() bool { return !a.Loading() && !b.Loading() })

	// both sides resolve the same canonical channel
	require.Equal(t, []string{"u1_u2"}, connA.joinedChannels())
	require.Equal(t, []string{"u1_u2"}, connB.joinedChannels())

	require.NoError(t, a.SendMessage(context.Background(), "hello"))

	sent := connA.sentEvents()
	require.Len(t, sent, 1)
	echo := sent[0]
	echo.SenderID = "u1"
	echo.SenderName = "Alice"

	// the fanout echoes the event to every participant, sender included
	a.HandleInbound(echo)
	b.HandleInbound(echo)

	aMsgs := a.Messages()
	require.Len(t, aMsgs, 1)
	assert.Equal(t, domain.OriginLocalOptimistic, aMsgs[0].Origin)
	assert.Equal(t, "hello", aMsgs[0].Text)

	bMsgs := b.Messages()
	require.Len(t, bMsgs, 1)
	assert.Equal(t, "u1", bMsgs[0].SenderID)
	assert.Equal(t, "hello", bMsgs[0].Text)
	assert.Equal(t, domain.OriginServerEchoed, bMsgs[0].Origin)
}

func TestSendWithoutConnectionKeepsOptimistic(t *testing.T) {
	api := &fakeAPI{directHistory: map[string][]HistoryMessage{}}
	conn := &fakeConn{sendErr: realtime.ErrConnectionUnavailable}
	c, notify := newTestController(api, conn)

	c.SelectChat(context.Background(), domain.SelectDirect(domain.Peer{ID: "u2", Name: "Bob"}))
	waitFor(t, func() bool { return !c.Loading() })

	err := c.SendMessage(context.Background(), "hello?")
	require.ErrorIs(t, err, realtime.ErrConnectionUnavailable)
	require.Len(t, c.Messages(), 1)
	assert.NotEmpty(t, notify.lastError())
}

func TestBlankAndLoggedOutSendsAreNoOps(t *testing.T) {
	api := &fakeAPI{directHistory: map[string][]HistoryMessage{}}
	conn := &fakeConn{}
	users := &fakeUsers{}
	c := NewController(api, conn, users, &recordingNotifier{})

	require.NoError(t, c.SendMessage(context.Background(), "   "))
	require.NoError(t, c.SendMessage(context.Background(), "logged out"))
	assert.Empty(t, conn.sentEvents())
}

func TestClearAIHistory(t *testing.T) {
	api := &fakeAPI{}
	c, notify := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectAI())
	waitFor(t, func() bool { return len(c.AIMessages()) == 1 })

	c.ClearAIHistory(context.Background())

	msgs := c.AIMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ClearedText, msgs[0].Text)
	notify.mu.Lock()
	defer notify.mu.Unlock()
	assert.Contains(t, notify.oks, "AI chat history cleared")
}

func TestAIHistorySeedsWelcomeOnFailure(t *testing.T) {
	api := &fakeAPI{aiErr: errors.New("history unavailable")}
	c, _ := newTestController(api, &fakeConn{})

	c.SelectChat(context.Background(), domain.SelectAI())

	waitFor(t, func() bool { return len(c.AIMessages()) == 1 })
	assert.Equal(t, domain.WelcomeText, c.AIMessages()[0].Text)
}
