package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carexpert/client/domain"
)

type wsCapture struct {
	mu     sync.Mutex
	frames []domain.ChatEvent
}

func (c *wsCapture) add(evt domain.ChatEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, evt)
}

func (c *wsCapture) all() []domain.ChatEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatEvent, len(c.frames))
	copy(out, c.frames)
	return out
}

func startWSServer(t *testing.T, capture *wsCapture) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt domain.ChatEvent
			if json.Unmarshal(raw, &evt) == nil {
				capture.add(evt)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestJoinIsIdempotent(t *testing.T) {
	capture := &wsCapture{}
	srv := startWSServer(t, capture)

	m := NewManager(wsURL(srv), nil, NewRouter())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.NoError(t, m.JoinDirectChannel("u1_u2"))
	require.NoError(t, m.JoinDirectChannel("u1_u2"))
	require.NoError(t, m.JoinRoomChannel("seoul", "u1", "Alice"))
	require.NoError(t, m.JoinRoomChannel("seoul", "u1", "Alice"))

	require.Eventually(t, func() bool { return len(capture.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	frames := capture.all()
	require.Len(t, frames, 2)
	assert.Equal(t, "join", frames[0].Type)
	assert.Equal(t, "u1_u2", frames[0].ChannelID)
	assert.Equal(t, "join_room", frames[1].Type)
	assert.Equal(t, "seoul", frames[1].ChannelID)
}

func TestSendTagsMessageType(t *testing.T) {
	capture := &wsCapture{}
	srv := startWSServer(t, capture)

	m := NewManager(wsURL(srv), nil, NewRouter())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.NoError(t, m.Send(domain.ChatEvent{ChannelID: "u1_u2", SenderID: "u1", Text: "hi"}))

	require.Eventually(t, func() bool { return len(capture.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "message", capture.all()[0].Type)
}

func TestSendAfterDisconnect(t *testing.T) {
	capture := &wsCapture{}
	srv := startWSServer(t, capture)

	m := NewManager(wsURL(srv), nil, NewRouter())
	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	m.Disconnect()

	err := m.Send(domain.ChatEvent{ChannelID: "u1_u2", Text: "too late"})
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.False(t, m.Connected())
}

func TestJoinWithoutConnection(t *testing.T) {
	m := NewManager("ws://localhost:0", nil, NewRouter())
	err := m.JoinDirectChannel("u1_u2")
	require.ErrorIs(t, err, ErrConnectionUnavailable)
}

func TestReconnectReplaysJoins(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	capture := &wsCapture{}
	var mu sync.Mutex
	dials := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		if n == 1 {
			// drop the first connection after the initial join arrives
			_, raw, err := conn.ReadMessage()
			if err == nil {
				var evt domain.ChatEvent
				if json.Unmarshal(raw, &evt) == nil {
					capture.add(evt)
				}
			}
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt domain.ChatEvent
			if json.Unmarshal(raw, &evt) == nil {
				capture.add(evt)
			}
		}
	}))
	defer srv.Close()

	m := NewManager(wsURL(srv), nil, NewRouter())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.NoError(t, m.JoinDirectChannel("u1_u2"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 2
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(capture.all()) >= 2 }, 5*time.Second, 20*time.Millisecond)
	frames := capture.all()
	assert.Equal(t, "join", frames[0].Type)
	assert.Equal(t, "u1_u2", frames[0].ChannelID)
	assert.Equal(t, "join", frames[1].Type)
	assert.Equal(t, "u1_u2", frames[1].ChannelID)
	assert.True(t, m.Connected())
}

func TestInboundMessagesReachRouter(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(domain.ChatEvent{Type: "join", ChannelID: "ignored"})
		_ = conn.WriteJSON(domain.ChatEvent{Type: "message", ChannelID: "u1_u2", SenderID: "u2", Text: "hello"})
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	router := NewRouter()
	var mu sync.Mutex
	var got []domain.ChatEvent
	router.Subscribe(func(evt domain.ChatEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt)
	})

	m := NewManager(wsURL(srv), nil, router)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", got[0].Text)
}
