package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carexpert/server/chat/domain"
)

var ErrNotFound = errors.New("not found")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users(name, email, role, specialization, city, profile_picture, password_hash)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING user_id
	`, user.Name, user.Email, user.Role, user.Specialization, user.City, user.ProfilePicture, user.PasswordHash).Scan(&id)
	return id, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, name, email, role, coalesce(specialization,''), coalesce(city,''), coalesce(profile_picture,''), password_hash, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.Specialization, &user.City, &user.ProfilePicture, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, name, email, role, coalesce(specialization,''), coalesce(city,''), coalesce(profile_picture,''), created_at
		FROM users
		WHERE user_id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.Specialization, &user.City, &user.ProfilePicture, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return user, err
}

func (r *UserRepository) ListRoomMembers(ctx context.Context, roomID string) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.user_id, u.name, u.email, u.role, coalesce(u.specialization,''), coalesce(u.city,''), coalesce(u.profile_picture,''), u.created_at
		FROM users u
		JOIN room_members rm ON rm.user_id = u.user_id
		WHERE rm.room_id=$1
		ORDER BY u.name
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Specialization, &u.City, &u.ProfilePicture, &u.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}
