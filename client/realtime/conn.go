package realtime

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carexpert/client/domain"
	commonlog "carexpert/common/log"
)

var ErrConnectionUnavailable = errors.New("realtime connection unavailable")

const (
	writeTimeout         = 5 * time.Second
	reconnectBaseDelay   = 500 * time.Millisecond
	reconnectMaxDelay    = 30 * time.Second
	reconnectMaxAttempts = 0 // 0 means retry until Disconnect
)

const (
	eventTypeJoin     = "join"
	eventTypeJoinRoom = "join_room"
	eventTypeMessage  = "message"
)

// Manager owns the single websocket connection for the process. Channel joins
// are idempotent and replayed after a reconnect; Send fails with
// ErrConnectionUnavailable whenever no live connection exists.
type Manager struct {
	url    string
	header http.Header
	router *Router

	mu     sync.Mutex
	conn   *websocket.Conn
	joined map[string]domain.ChatEvent
	closed bool
	gen    int
}

func NewManager(url string, header http.Header, router *Router) *Manager {
	return &Manager{
		url:    url,
		header: header,
		router: router,
		joined: map[string]domain.ChatEvent{},
		closed: true,
	}
}

// SetURL swaps the dial target. Takes effect on the next dial, so call it
// before Connect or between Disconnect and Connect.
func (m *Manager) SetURL(url string) {
	m.mu.Lock()
	m.url = url
	m.mu.Unlock()
}

func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.closed = false
	url := m.url
	m.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, m.header)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrConnectionUnavailable
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	return nil
}

// JoinDirectChannel subscribes the connection to a one-to-one channel.
// Joining a channel already joined is a no-op.
func (m *Manager) JoinDirectChannel(channelID string) error {
	return m.join(channelID, domain.ChatEvent{
		Type:      eventTypeJoin,
		ChannelID: channelID,
	})
}

func (m *Manager) JoinRoomChannel(roomID, userID, displayName string) error {
	return m.join(roomID, domain.ChatEvent{
		Type:       eventTypeJoinRoom,
		ChannelID:  roomID,
		SenderID:   userID,
		SenderName: displayName,
	})
}

func (m *Manager) join(channelID string, evt domain.ChatEvent) error {
	m.mu.Lock()
	if _, ok := m.joined[channelID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.joined[channelID] = evt
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrConnectionUnavailable
	}
	return m.write(conn, evt)
}

// Send emits a message event. The membership set is untouched on failure so a
// reconnect can still replay joins.
func (m *Manager) Send(evt domain.ChatEvent) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrConnectionUnavailable
	}
	evt.Type = eventTypeMessage
	if err := m.write(conn, evt); err != nil {
		return ErrConnectionUnavailable
	}
	return nil
}

// Disconnect tears the transport down and invalidates all channel
// memberships. Safe to call at any time, from any goroutine, repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed && m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.joined = map[string]domain.ChatEvent{}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) write(conn *websocket.Conn, evt domain.ChatEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(evt)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		var evt domain.ChatEvent
		if err := conn.ReadJSON(&evt); err != nil {
			m.onReadFailure(conn, gen, err)
			return
		}
		if evt.Type != eventTypeMessage {
			continue
		}
		m.router.Dispatch(evt)
	}
}

func (m *Manager) onReadFailure(conn *websocket.Conn, gen int, err error) {
	_ = conn.Close()

	m.mu.Lock()
	stale := m.closed || m.gen != gen
	if !stale {
		m.conn = nil
	}
	m.mu.Unlock()
	if stale {
		return
	}

	commonlog.Warnf("event=realtime_conn action=read status=failed error=%v", err)
	go m.reconnect()
}

// reconnect redials with exponential backoff and replays the joined channels.
// It gives up only when Disconnect was called in the meantime.
func (m *Manager) reconnect() {
	for attempt := 0; ; attempt++ {
		delay := time.Duration(float64(reconnectBaseDelay) * math.Pow(2, float64(attempt)))
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
		time.Sleep(delay)

		m.mu.Lock()
		if m.closed || m.conn != nil {
			m.mu.Unlock()
			return
		}
		url := m.url
		m.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.Dial(url, m.header)
		if err != nil {
			commonlog.Warnf("event=realtime_conn action=reconnect status=failed attempt=%d error=%v", attempt+1, err)
			if reconnectMaxAttempts > 0 && attempt+1 >= reconnectMaxAttempts {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.gen++
		gen := m.gen
		rejoin := make([]domain.ChatEvent, 0, len(m.joined))
		for _, evt := range m.joined {
			rejoin = append(rejoin, evt)
		}
		m.mu.Unlock()

		for _, evt := range rejoin {
			if err := m.write(conn, evt); err != nil {
				commonlog.Warnf("event=realtime_conn action=rejoin status=failed channel_id=%s error=%v", evt.ChannelID, err)
			}
		}
		commonlog.Infof("event=realtime_conn action=reconnect status=ok attempt=%d rejoined=%d", attempt+1, len(rejoin))
		go m.readLoop(conn, gen)
		return
	}
}
