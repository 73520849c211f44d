package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the Postgres MessageStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, msg Message) (Message, error) {
	var createdAt any
	if !msg.CreatedAt.IsZero() {
		createdAt = msg.CreatedAt
	}

	var (
		row *sql.Row
		at  time.Time
	)
	if msg.ID != 0 {
		query := `INSERT INTO messages (id, sender_id, receiver_id, body, created_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, CURRENT_TIMESTAMP))
			RETURNING id, created_at`
		row = r.db.QueryRowContext(ctx, query, msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, createdAt)
	} else {
		query := `INSERT INTO messages (sender_id, receiver_id, body, created_at)
			VALUES ($1, $2, $3, COALESCE($4, CURRENT_TIMESTAMP))
			RETURNING id, created_at`
		row = r.db.QueryRowContext(ctx, query, msg.SenderID, msg.ReceiverID, msg.Body, createdAt)
	}

	// The INSERT commits in its own implicit transaction before RETURNING is read.
	if err := row.Scan(&msg.ID, &at); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	msg.CreatedAt = at.UTC()
	return msg, nil
}

func (r *Repository) QueryBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, body, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	return r.query(ctx, query, userA, userB)
}

func (r *Repository) QueryAllFor(ctx context.Context, userID string) ([]Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, body, created_at
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.query(ctx, query, userID)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
