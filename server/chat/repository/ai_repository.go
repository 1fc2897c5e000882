package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"carexpert/server/chat/domain"
)

type AIRepository struct {
	pool *pgxpool.Pool
}

func NewAIRepository(pool *pgxpool.Pool) *AIRepository {
	return &AIRepository{pool: pool}
}

func (r *AIRepository) Create(ctx context.Context, chat domain.AIChat) (domain.AIChat, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ai_chats(user_id, user_message, severity, probable_causes, recommendation, disclaimer)
		VALUES($1, $2, $3, $4, $5, $6)
		RETURNING ai_chat_id, created_at
	`, chat.UserID, chat.UserMessage, chat.Severity, chat.ProbableCauses, chat.Recommendation, chat.Disclaimer).Scan(&chat.ID, &chat.CreatedAt)
	return chat, err
}

func (r *AIRepository) ListByUser(ctx context.Context, userID string) ([]domain.AIChat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ai_chat_id, user_message, severity, probable_causes, recommendation, disclaimer, created_at
		FROM ai_chats
		WHERE user_id=$1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.AIChat, 0)
	for rows.Next() {
		var chat domain.AIChat
		if err := rows.Scan(&chat.ID, &chat.UserMessage, &chat.Severity, &chat.ProbableCauses, &chat.Recommendation, &chat.Disclaimer, &chat.CreatedAt); err != nil {
			return nil, err
		}
		chat.UserID = userID
		items = append(items, chat)
	}
	return items, rows.Err()
}

func (r *AIRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ai_chats WHERE user_id=$1`, userID)
	return err
}
