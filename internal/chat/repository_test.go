package chat

import (
	"context"
	"go-dm/internal/db"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestRepository connects to TEST_DB_DSN, skipping when it is unset.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	database, err := db.NewDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate(ctx))
	return NewRepository(database.Conn)
}

func TestRepository_Orders_By_CreatedAt_Then_ID(t *testing.T) {
	req := require.New(t)
	repo := newTestRepository(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	late, err := repo.Append(ctx, Message{SenderID: alice, ReceiverID: bob, Body: "late", CreatedAt: at.Add(time.Minute)})
	req.NoError(err)
	first, err := repo.Append(ctx, Message{SenderID: bob, ReceiverID: alice, Body: "tie 1", CreatedAt: at})
	req.NoError(err)
	second, err := repo.Append(ctx, Message{SenderID: alice, ReceiverID: bob, Body: "tie 2", CreatedAt: at})
	req.NoError(err)
	req.Less(first.ID, second.ID)

	msgs, err := repo.QueryBetween(ctx, bob, alice)
	req.NoError(err)
	req.Len(msgs, 3)
	req.Equal([]int64{first.ID, second.ID, late.ID}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	req.True(at.Equal(msgs[0].CreatedAt))
}

func TestRepository_QueryAllFor_Either_Role(t *testing.T) {
	req := require.New(t)
	repo := newTestRepository(t)
	ctx := context.Background()
	admin, u1, u2 := uuid.NewString(), uuid.NewString(), uuid.NewString()

	_, err := repo.Append(ctx, Message{SenderID: admin, ReceiverID: u1, Body: "out"})
	req.NoError(err)
	_, err = repo.Append(ctx, Message{SenderID: u2, ReceiverID: admin, Body: "in"})
	req.NoError(err)
	_, err = repo.Append(ctx, Message{SenderID: u1, ReceiverID: u2, Body: "elsewhere"})
	req.NoError(err)

	msgs, err := repo.QueryAllFor(ctx, admin)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("out", msgs[0].Body)
	req.Equal("in", msgs[1].Body)

	none, err := repo.QueryBetween(ctx, admin, uuid.NewString())
	req.NoError(err)
	req.NotNil(none)
	req.Empty(none)
}
