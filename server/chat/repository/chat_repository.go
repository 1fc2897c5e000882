package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carexpert/server/chat/domain"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) CreateMessage(ctx context.Context, message domain.Message) (domain.Message, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages(channel_id, sender_id, receiver_id, sender_name, text, kind, image_url)
		VALUES($1, $2, NULLIF($3,''), $4, $5, $6, NULLIF($7,''))
		RETURNING message_id, created_at
	`, message.ChannelID, message.SenderID, message.ReceiverID, message.SenderName, message.Text, message.Kind, message.ImageURL).Scan(&message.ID, &message.CreatedAt)
	return message, err
}

func (r *ChatRepository) ListByChannel(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT message_id, channel_id, sender_id, coalesce(receiver_id,''), sender_name, text, kind, coalesce(image_url,''), created_at
		FROM messages
		WHERE channel_id=$1
		ORDER BY created_at ASC
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.ReceiverID, &m.SenderName, &m.Text, &m.Kind, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// EnsureRoom returns the room with the given name, creating it on first use.
func (r *ChatRepository) EnsureRoom(ctx context.Context, name, city string) (domain.Room, error) {
	var room domain.Room
	err := r.pool.QueryRow(ctx, `
		SELECT room_id, name, coalesce(city,''), created_at FROM rooms WHERE name=$1
	`, name).Scan(&room.ID, &room.Name, &room.City, &room.CreatedAt)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO rooms(name, city) VALUES($1, $2)
		ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
		RETURNING room_id, name, coalesce(city,''), created_at
	`, name, city).Scan(&room.ID, &room.Name, &room.City, &room.CreatedAt)
	return room, err
}

func (r *ChatRepository) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	var room domain.Room
	err := r.pool.QueryRow(ctx, `
		SELECT room_id, name, coalesce(city,''), created_at FROM rooms WHERE room_id=$1
	`, roomID).Scan(&room.ID, &room.Name, &room.City, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, ErrNotFound
	}
	return room, err
}

func (r *ChatRepository) AddRoomMember(ctx context.Context, roomID, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO room_members(room_id, user_id) VALUES($1, $2) ON CONFLICT DO NOTHING
	`, roomID, userID)
	return err
}
