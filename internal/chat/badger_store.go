package chat

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded MessageStore for single-node deployments.
//
// Every message is written under one conversation key and one key per
// participant, in a single transaction:
//
//	conv:{hex(low id)}:{hex(high id)}:{unix nano padded}:{id padded}
//	user:{hex(user id)}:{unix nano padded}:{id padded}
//
// Zero padding keeps lexicographic order equal to (CreatedAt, ID) order, so
// a forward prefix scan is already sorted.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte("seq:messages"), 128)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, log: log}, nil
}

// Close returns unused leased ids. It does not close the underlying DB.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func (s *BadgerStore) Append(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if msg.ID == 0 {
		n, err := s.seq.Next()
		if err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		msg.ID = int64(n) + 1
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.CreatedAt.Before(time.Unix(0, 0)) || msg.CreatedAt.After(time.Unix(0, math.MaxInt64)) {
		// Keys order by unix nanoseconds, which must stay non-negative and in range.
		return Message{}, fmt.Errorf("%w: createdAt %s outside the storable range", ErrInvalidMessage, msg.CreatedAt)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.Sender, msg.Receiver = nil, nil

	value, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	keys := [][]byte{
		conversationKey(msg.SenderID, msg.ReceiverID, msg),
		userKey(msg.SenderID, msg),
	}
	if msg.ReceiverID != msg.SenderID {
		keys = append(keys, userKey(msg.ReceiverID, msg))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Set(key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return msg, nil
}

func (s *BadgerStore) QueryBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	return s.scan(ctx, conversationPrefix(userA, userB))
}

func (s *BadgerStore) QueryAllFor(ctx context.Context, userID string) ([]Message, error) {
	return s.scan(ctx, userPrefix(userID))
}

func (s *BadgerStore) scan(ctx context.Context, prefix []byte) ([]Message, error) {
	messages := []Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var msg Message
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("Badger scan", "prefix", string(prefix), "count", len(messages))
	return messages, nil
}

func conversationPrefix(userA, userB string) []byte {
	low, high := userA, userB
	if high < low {
		low, high = high, low
	}
	return []byte(fmt.Sprintf("conv:%s:%s:", hex.EncodeToString([]byte(low)), hex.EncodeToString([]byte(high))))
}

func userPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("user:%s:", hex.EncodeToString([]byte(userID))))
}

func conversationKey(userA, userB string, msg Message) []byte {
	return append(conversationPrefix(userA, userB), orderSuffix(msg)...)
}

func userKey(userID string, msg Message) []byte {
	return append(userPrefix(userID), orderSuffix(msg)...)
}

func orderSuffix(msg Message) []byte {
	return []byte(fmt.Sprintf("%019d:%020d", msg.CreatedAt.UnixNano(), msg.ID))
}
