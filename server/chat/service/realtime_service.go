package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	commonlog "carexpert/common/log"
	"carexpert/server/chat/domain"
)

// RealtimeService multiplexes every chat channel a client cares about over a
// single websocket connection. Fanout goes through redis pub/sub so any
// server instance can deliver to its local connections.
type RealtimeService struct {
	redis     *redis.Client
	chat      *ChatService
	publisher *AMQPPublisher

	mu       sync.RWMutex
	channels map[string]*channelState
}

type channelState struct {
	conns  map[*websocket.Conn]struct{}
	cancel context.CancelFunc
}

func NewRealtimeService(rdb *redis.Client, chat *ChatService, publisher *AMQPPublisher) *RealtimeService {
	return &RealtimeService{
		redis:     rdb,
		chat:      chat,
		publisher: publisher,
		channels:  map[string]*channelState{},
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *RealtimeService) HandleWS(c *gin.Context) {
	authUserID := contextString(c, "auth_user_id")
	authUserName := contextString(c, "auth_user_name")
	if authUserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	joined := map[string]struct{}{}
	defer func() {
		for channelID := range joined {
			s.leave(channelID, conn)
		}
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt domain.ChatEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		evt.ChannelID = strings.TrimSpace(evt.ChannelID)
		if evt.ChannelID == "" {
			writeWSError(conn, "channel_id required")
			continue
		}

		switch evt.Type {
		case domain.EventTypeJoin:
			if !directChannelContains(evt.ChannelID, authUserID) {
				writeWSError(conn, "not a channel participant")
				continue
			}
			s.join(evt.ChannelID, conn)
			joined[evt.ChannelID] = struct{}{}

		case domain.EventTypeJoinRoom:
			if err := s.chat.JoinRoom(ctx, evt.ChannelID, authUserID); err != nil {
				commonlog.Errorf("event=room_join action=persist status=failed room_id=%s user_id=%s error=%v", evt.ChannelID, authUserID, err)
				writeWSError(conn, "failed to join room")
				continue
			}
			s.join(evt.ChannelID, conn)
			joined[evt.ChannelID] = struct{}{}

		case domain.EventTypeMessage:
			evt.SenderID = authUserID
			if authUserName != "" {
				evt.SenderName = authUserName
			}
			if strings.TrimSpace(evt.Text) == "" && evt.ImageURL == "" {
				writeWSError(conn, "text required")
				continue
			}
			persistStartedAt := time.Now()
			created, err := s.chat.CreateMessage(ctx, domain.Message{
				ChannelID:  evt.ChannelID,
				SenderID:   evt.SenderID,
				ReceiverID: evt.ReceiverID,
				SenderName: evt.SenderName,
				Text:       evt.Text,
				Kind:       evt.Kind,
				ImageURL:   evt.ImageURL,
			})
			if err != nil {
				commonlog.Errorf("event=chat_message_persist action=create status=failed channel_id=%s user_id=%s latency_ms=%d error=%v", evt.ChannelID, authUserID, time.Since(persistStartedAt).Milliseconds(), err)
				writeWSError(conn, "failed to persist message")
				continue
			}
			commonlog.Infof("event=chat_message_persist action=create status=ok channel_id=%s user_id=%s message_id=%s latency_ms=%d", evt.ChannelID, authUserID, created.ID, time.Since(persistStartedAt).Milliseconds())
			evt.Kind = created.Kind

			b, _ := json.Marshal(evt)
			if err := s.redis.Publish(ctx, redisChannel(evt.ChannelID), b).Err(); err != nil {
				commonlog.Errorf("event=chat_fanout action=publish status=failed channel_id=%s error=%v", evt.ChannelID, err)
			}
			if s.publisher != nil {
				if err := s.publisher.Publish(ctx, "message."+evt.ChannelID, created); err != nil {
					commonlog.Warnf("event=chat_mq action=publish status=failed channel_id=%s error=%v", evt.ChannelID, err)
				}
			}
		}
	}
}

func redisChannel(channelID string) string {
	return "chat:channel:" + channelID
}

// directChannelContains reports whether the user id is one of the pair a
// direct channel id was built from.
func directChannelContains(channelID, userID string) bool {
	parts := strings.Split(channelID, "_")
	for _, p := range parts {
		if p == userID {
			return true
		}
	}
	return false
}

func writeWSError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(gin.H{"type": "error", "error": message})
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func contextString(c *gin.Context, key string) string {
	if raw, ok := c.Get(key); ok {
		if v, ok := raw.(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (s *RealtimeService) consumeRedis(ctx context.Context, channelID string) {
	pubsub := s.redis.Subscribe(ctx, redisChannel(channelID))
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		s.mu.RLock()
		state := s.channels[channelID]
		if state == nil {
			s.mu.RUnlock()
			continue
		}
		for conn := range state.conns {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload))
		}
		s.mu.RUnlock()
	}
}

// join registers the connection on a channel, starting the channel's redis
// consumer on first subscriber. Re-joining is a no-op.
func (s *RealtimeService) join(channelID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.channels[channelID]
	if !ok {
		channelCtx, cancel := context.WithCancel(context.Background())
		state = &channelState{conns: map[*websocket.Conn]struct{}{}, cancel: cancel}
		s.channels[channelID] = state
		go s.consumeRedis(channelCtx, channelID)
	}
	state.conns[conn] = struct{}{}
}

func (s *RealtimeService) leave(channelID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.channels[channelID]; ok {
		delete(state.conns, conn)
		if len(state.conns) == 0 {
			state.cancel()
			delete(s.channels, channelID)
		}
	}
}
