package chat

import "context"

// MessageStore is the durable, append-only record of direct messages.
//
// Append returns only once the message is durable; the returned Message
// carries the assigned ID and CreatedAt. Failures wrap ErrPersistence.
// Queries return messages ordered by CreatedAt, then ID.
type MessageStore interface {
	Append(ctx context.Context, msg Message) (Message, error)
	QueryBetween(ctx context.Context, userA, userB string) ([]Message, error)
	QueryAllFor(ctx context.Context, userID string) ([]Message, error)
}
