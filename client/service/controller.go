package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"carexpert/client/domain"
	"carexpert/client/realtime"
	commonlog "carexpert/common/log"
)

const aiRequestTimeout = 15 * time.Second

// HistoryAPI is the slice of the REST API the controller consumes.
type HistoryAPI interface {
	GetAIHistory(ctx context.Context) ([]AIChatRecord, error)
	PostAIMessage(ctx context.Context, symptoms, language string) (domain.AIAnalysis, error)
	DeleteAIHistory(ctx context.Context) error
	GetDirectHistory(ctx context.Context, peerID string) ([]HistoryMessage, error)
	GetRoomHistory(ctx context.Context, roomName string) (RoomHistory, error)
	GetRoomMembers(ctx context.Context, roomID string) ([]domain.UserRef, error)
}

// Connection is the slice of the realtime manager the controller consumes.
type Connection interface {
	JoinDirectChannel(channelID string) error
	JoinRoomChannel(roomID, userID, displayName string) error
	Send(evt domain.ChatEvent) error
}

// UserSource exposes the authenticated user. The controller only ever reads
// it; the session layer is the single writer.
type UserSource interface {
	CurrentUser() *domain.User
}

// Controller is the stateful chat session core. It is the sole mutator of the
// selection and the message lists. Selection changes bump an epoch counter;
// a history load that finishes after a newer selection discards its result,
// so an out-of-order late response never overwrites the newer selection.
type Controller struct {
	api    HistoryAPI
	conn   Connection
	users  UserSource
	notify Notifier

	mu           sync.Mutex
	epoch        uint64
	selected     domain.SelectedChat
	messages     []domain.Message
	aiMessages   []domain.Message
	members      []domain.UserRef
	activeRoomID string
	loading      bool
	aiLoading    bool
	language     string
}

func NewController(api HistoryAPI, conn Connection, users UserSource, notify Notifier) *Controller {
	if notify == nil {
		notify = LogNotifier{}
	}
	return &Controller{
		api:      api,
		conn:     conn,
		users:    users,
		notify:   notify,
		selected: domain.SelectAI(),
		language: "en",
	}
}

// Attach registers the controller's inbound handler on the router and returns
// the disposer. The handler is registered once for the controller's lifetime;
// it reads the live selection at dispatch time, so switching chats
// immediately stops events for the previous target from landing.
func (c *Controller) Attach(router *realtime.Router) func() {
	return router.Subscribe(c.HandleInbound)
}

// SelectChat supersedes the previous selection and loads the new target's
// history asynchronously.
func (c *Controller) SelectChat(ctx context.Context, target domain.SelectedChat) {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.selected = target
	c.messages = nil
	c.members = nil
	c.activeRoomID = ""
	c.loading = true
	c.mu.Unlock()

	go c.loadSelection(ctx, epoch, target)
}

func (c *Controller) loadSelection(ctx context.Context, epoch uint64, target domain.SelectedChat) {
	switch target.Kind {
	case domain.ChatKindAI:
		c.loadAIHistory(ctx, epoch)
	case domain.ChatKindDirect:
		c.loadDirectHistory(ctx, epoch, target.Peer)
	case domain.ChatKindRoom:
		c.loadRoomHistory(ctx, epoch, target.Room)
	}
}

// loadAIHistory degrades gracefully: an empty or failed history load seeds
// the welcome entry so the AI tab is never blocked.
func (c *Controller) loadAIHistory(ctx context.Context, epoch uint64) {
	records, err := c.api.GetAIHistory(ctx)
	if err != nil {
		commonlog.Errorf("event=chat_history action=load kind=ai status=failed error=%v", err)
		c.commitAIMessages(epoch, []domain.Message{domain.WelcomeMessage()})
		return
	}
	if len(records) == 0 {
		c.commitAIMessages(epoch, []domain.Message{domain.WelcomeMessage()})
		return
	}

	msgs := make([]domain.Message, 0, 2*len(records))
	for _, rec := range records {
		msgs = append(msgs, domain.Message{
			ID:        rec.ID + "-user",
			SenderID:  "",
			Text:      rec.UserMessage,
			Kind:      domain.MessageKindText,
			CreatedAt: rec.CreatedAt,
			Origin:    domain.OriginHistoryLoaded,
		})
		reply := domain.AnalysisMessage(rec.Analysis())
		reply.ID = rec.ID + "-ai"
		reply.CreatedAt = rec.CreatedAt
		reply.Origin = domain.OriginHistoryLoaded
		msgs = append(msgs, reply)
	}
	c.commitAIMessages(epoch, msgs)
}

func (c *Controller) loadDirectHistory(ctx context.Context, epoch uint64, peer domain.Peer) {
	user := c.users.CurrentUser()
	if user == nil {
		c.finishLoad(epoch)
		return
	}

	channelID := DirectChannelID(user.ID, peer.ID)
	if err := c.conn.JoinDirectChannel(channelID); err != nil {
		commonlog.Warnf("event=chat_join action=join_direct status=failed channel_id=%s error=%v", channelID, err)
	}

	history, err := c.api.GetDirectHistory(ctx, peer.ID)
	if err != nil {
		commonlog.Errorf("event=chat_history action=load kind=direct peer_id=%s status=failed error=%v", peer.ID, err)
		c.commitMessages(epoch, nil, "")
		return
	}
	c.commitMessages(epoch, mapHistory(history, channelID), "")
}

// loadRoomHistory resolves the authoritative room id from the history
// response, falling back to the locally-known id when the response omits one.
// A failure at any step aborts the remaining steps and clears the list.
func (c *Controller) loadRoomHistory(ctx context.Context, epoch uint64, room domain.Room) {
	user := c.users.CurrentUser()
	if user == nil {
		c.finishLoad(epoch)
		return
	}

	history, err := c.api.GetRoomHistory(ctx, room.Name)
	if err != nil {
		commonlog.Errorf("event=chat_history action=load kind=room room=%s status=failed error=%v", room.Name, err)
		c.commitMessages(epoch, nil, "")
		return
	}

	roomID := history.Room.ID
	if roomID == "" {
		roomID = room.ID
	}
	if err := c.conn.JoinRoomChannel(roomID, user.ID, user.Name); err != nil {
		commonlog.Warnf("event=chat_join action=join_room status=failed room_id=%s error=%v", roomID, err)
	}
	if !c.commitMessages(epoch, mapHistory(history.Messages, roomID), roomID) {
		return
	}

	members, err := c.api.GetRoomMembers(ctx, room.ID)
	if err != nil {
		commonlog.Errorf("event=chat_members action=load room_id=%s status=failed error=%v", room.ID, err)
		c.commitMessages(epoch, nil, roomID)
		return
	}
	c.mu.Lock()
	if c.epoch == epoch {
		c.members = members
	}
	c.mu.Unlock()
}

func mapHistory(history []HistoryMessage, channelID string) []domain.Message {
	msgs := make([]domain.Message, 0, len(history))
	for _, rec := range history {
		kind := domain.MessageKind(rec.Kind)
		if kind == "" {
			kind = domain.MessageKindText
		}
		msgs = append(msgs, domain.Message{
			ID:         rec.ID,
			ChannelID:  channelID,
			SenderID:   rec.SenderID,
			SenderName: rec.SenderName,
			Text:       rec.Text,
			Kind:       kind,
			ImageURL:   rec.ImageURL,
			CreatedAt:  rec.CreatedAt,
			Origin:     domain.OriginHistoryLoaded,
		})
	}
	return msgs
}

// commitMessages installs a loaded message list, unless a newer selection has
// superseded this load in the meantime.
func (c *Controller) commitMessages(epoch uint64, msgs []domain.Message, activeRoomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.messages = msgs
	if activeRoomID != "" {
		c.activeRoomID = activeRoomID
	}
	c.loading = false
	return true
}

func (c *Controller) commitAIMessages(epoch uint64, msgs []domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.aiMessages = msgs
	c.loading = false
}

func (c *Controller) finishLoad(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.loading = false
	}
}

// SendMessage dispatches the body to the current selection. Blank bodies and
// unauthenticated sends are silent no-ops.
func (c *Controller) SendMessage(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	user := c.users.CurrentUser()
	if user == nil {
		return nil
	}

	c.mu.Lock()
	selected := c.selected
	activeRoomID := c.activeRoomID
	language := c.language
	c.mu.Unlock()

	switch selected.Kind {
	case domain.ChatKindAI:
		return c.sendAIMessage(ctx, user, body, language)

	case domain.ChatKindDirect:
		channelID := DirectChannelID(user.ID, selected.Peer.ID)
		c.appendLocal(optimisticMessage(channelID, user, body))
		err := c.conn.Send(domain.ChatEvent{
			ChannelID:  channelID,
			SenderID:   user.ID,
			ReceiverID: selected.Peer.ID,
			SenderName: user.Name,
			Text:       body,
		})
		if errors.Is(err, realtime.ErrConnectionUnavailable) {
			c.notify.Error("Not connected. Your message was not delivered.")
			return err
		}
		return err

	case domain.ChatKindRoom:
		if activeRoomID == "" {
			c.notify.Error("Connecting to room... please try again in a moment")
			return ErrRoomNotReady
		}
		c.appendLocal(optimisticMessage(activeRoomID, user, body))
		err := c.conn.Send(domain.ChatEvent{
			ChannelID:  activeRoomID,
			RoomID:     activeRoomID,
			SenderID:   user.ID,
			SenderName: user.Name,
			Text:       body,
		})
		if errors.Is(err, realtime.ErrConnectionUnavailable) {
			c.notify.Error("Not connected. Your message was not delivered.")
			return err
		}
		return err
	}
	return nil
}

// sendAIMessage appends the optimistic user entry, then blocks on the
// analysis call for at most the request timeout. Failure or timeout appends
// the apology entry; the optimistic entry is never rolled back.
func (c *Controller) sendAIMessage(ctx context.Context, user *domain.User, body, language string) error {
	c.mu.Lock()
	c.aiLoading = true
	c.aiMessages = append(c.aiMessages, domain.Message{
		ID:         fmt.Sprintf("user-%d", time.Now().UnixNano()),
		SenderID:   user.ID,
		SenderName: user.Name,
		Text:       body,
		Kind:       domain.MessageKindText,
		CreatedAt:  time.Now(),
		Origin:     domain.OriginLocalOptimistic,
	})
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, aiRequestTimeout)
	defer cancel()
	analysis, err := c.api.PostAIMessage(reqCtx, body, language)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.aiLoading = false
	if err != nil {
		commonlog.Errorf("event=ai_chat action=process status=failed error=%v", err)
		c.notify.Error("Failed to get AI response. Please try again.")
		c.aiMessages = append(c.aiMessages, domain.ApologyMessage())
		return nil
	}
	c.aiMessages = append(c.aiMessages, domain.AnalysisMessage(analysis))
	return nil
}

// ClearAIHistory optimistically resets the AI thread, then syncs the delete
// with the server.
func (c *Controller) ClearAIHistory(ctx context.Context) {
	c.mu.Lock()
	c.aiMessages = []domain.Message{domain.ClearedMessage()}
	c.mu.Unlock()

	if err := c.api.DeleteAIHistory(ctx); err != nil {
		commonlog.Errorf("event=ai_chat action=clear status=failed error=%v", err)
		c.notify.Error("Failed to sync clear with server")
		return
	}
	c.notify.Success("AI chat history cleared")
}

// HandleInbound filters one realtime event against the live selection and
// user. Events from the local user are dropped: the optimistic copy already
// represents them, and this sender-id filter is the sole dedup mechanism.
func (c *Controller) HandleInbound(evt domain.ChatEvent) {
	user := c.users.CurrentUser()
	if user == nil || evt.SenderID == user.ID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.selected.Kind {
	case domain.ChatKindAI:
		return
	case domain.ChatKindDirect:
		if evt.ChannelID != DirectChannelID(user.ID, c.selected.Peer.ID) {
			return
		}
	case domain.ChatKindRoom:
		matchesSelected := evt.ChannelID == c.selected.Room.ID
		matchesActive := c.activeRoomID != "" && evt.ChannelID == c.activeRoomID
		if !matchesSelected && !matchesActive {
			return
		}
	}

	kind := domain.MessageKind(evt.Kind)
	if kind == "" {
		kind = domain.MessageKindText
	}
	c.messages = append(c.messages, domain.Message{
		ID:         fmt.Sprintf("%d", time.Now().UnixNano()),
		ChannelID:  evt.ChannelID,
		SenderID:   evt.SenderID,
		SenderName: evt.SenderName,
		Text:       evt.Text,
		Kind:       kind,
		ImageURL:   evt.ImageURL,
		CreatedAt:  time.Now(),
		Origin:     domain.OriginServerEchoed,
	})
}

func (c *Controller) appendLocal(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func optimisticMessage(channelID string, user *domain.User, body string) domain.Message {
	return domain.Message{
		ID:         fmt.Sprintf("%d", time.Now().UnixNano()),
		ChannelID:  channelID,
		SenderID:   user.ID,
		SenderName: user.Name,
		Text:       body,
		Kind:       domain.MessageKindText,
		CreatedAt:  time.Now(),
		Origin:     domain.OriginLocalOptimistic,
	}
}

// Reset returns the controller to its initial logged-out state. Invoked by
// the session synchronizer during teardown.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.selected = domain.SelectAI()
	c.messages = nil
	c.aiMessages = nil
	c.members = nil
	c.activeRoomID = ""
	c.loading = false
	c.aiLoading = false
}

func (c *Controller) Selected() domain.SelectedChat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) AIMessages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.aiMessages))
	copy(out, c.aiMessages)
	return out
}

func (c *Controller) Members() []domain.UserRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.UserRef, len(c.members))
	copy(out, c.members)
	return out
}

func (c *Controller) ActiveRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoomID
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Controller) AILoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aiLoading
}

// SetLanguage records the display-language tag sent with AI requests.
func (c *Controller) SetLanguage(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(code) != "" {
		c.language = code
	}
}

func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}
