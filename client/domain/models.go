package domain

import "time"

type ChatKind string

const (
	ChatKindAI     ChatKind = "ai"
	ChatKindDirect ChatKind = "direct"
	ChatKindRoom   ChatKind = "room"
)

type UserRef struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture"`
}

type Peer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type Room struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Members []UserRef `json:"members"`
	Admins  []UserRef `json:"admins"`
}

// SelectedChat is the conversation target: exactly one of the three kinds is
// active at a time, discriminated by Kind.
type SelectedChat struct {
	Kind ChatKind
	Peer Peer
	Room Room
}

func SelectAI() SelectedChat {
	return SelectedChat{Kind: ChatKindAI}
}

func SelectDirect(peer Peer) SelectedChat {
	return SelectedChat{Kind: ChatKindDirect, Peer: peer}
}

func SelectRoom(room Room) SelectedChat {
	return SelectedChat{Kind: ChatKindRoom, Room: room}
}

type MessageKind string

const (
	MessageKindText       MessageKind = "TEXT"
	MessageKindImage      MessageKind = "IMAGE"
	MessageKindAIResponse MessageKind = "AI_RESPONSE"
)

type MessageOrigin string

const (
	OriginLocalOptimistic MessageOrigin = "LOCAL_OPTIMISTIC"
	OriginServerEchoed    MessageOrigin = "SERVER_ECHOED"
	OriginHistoryLoaded   MessageOrigin = "HISTORY_LOADED"
)

type AIAnalysis struct {
	Severity       string   `json:"severity"`
	ProbableCauses []string `json:"probable_causes"`
	Recommendation string   `json:"recommendation"`
	Disclaimer     string   `json:"disclaimer"`
}

// Message is the one shape rendered across all three chat kinds. ChannelID is
// empty for AI messages.
type Message struct {
	ID         string        `json:"id"`
	ChannelID  string        `json:"channel_id,omitempty"`
	SenderID   string        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Text       string        `json:"text"`
	Kind       MessageKind   `json:"kind"`
	ImageURL   string        `json:"image_url,omitempty"`
	AI         *AIAnalysis   `json:"ai,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Origin     MessageOrigin `json:"origin"`
}

// ChatEvent is the realtime wire shape. Outbound events carry ChannelID plus
// the sender fields; inbound events additionally carry RoomID.
type ChatEvent struct {
	Type       string `json:"type"`
	ChannelID  string `json:"channel_id"`
	RoomID     string `json:"room_id,omitempty"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Kind       string `json:"kind,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	ProfilePicture string `json:"profile_picture"`
}

const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)
