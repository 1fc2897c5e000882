package domain

import "time"

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	Specialization string    `json:"specialization,omitempty"`
	City           string    `json:"city,omitempty"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	PasswordHash   string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Kind       string    `json:"kind"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	MessageKindText  = "TEXT"
	MessageKindImage = "IMAGE"
)

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

type AIChat struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	UserMessage    string    `json:"user_message"`
	Severity       string    `json:"severity"`
	ProbableCauses []string  `json:"probable_causes"`
	Recommendation string    `json:"recommendation"`
	Disclaimer     string    `json:"disclaimer"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatEvent is the websocket wire format shared with clients.
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

const (
	EventTypeJoin     = "join"
	EventTypeJoinRoom = "join_room"
	EventTypeMessage  = "message"
)
