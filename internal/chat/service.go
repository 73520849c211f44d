package chat

import (
	"context"
	"log/slog"

	"github.com/samber/lo"
)

// ProfileResolver looks up display attributes for user ids. Ids it does not
// know are simply missing from the result.
type ProfileResolver interface {
	ProfilesByIDs(ctx context.Context, ids []string) (map[string]Profile, error)
}

type ProfileResolverFunc func(ctx context.Context, ids []string) (map[string]Profile, error)

func (f ProfileResolverFunc) ProfilesByIDs(ctx context.Context, ids []string) (map[string]Profile, error) {
	return f(ctx, ids)
}

// HistoryService serves past messages, joined with participant profiles when
// an identity source is available.
type HistoryService struct {
	store    MessageStore
	profiles ProfileResolver
	log      *slog.Logger
}

// NewHistoryService accepts a nil resolver; messages then carry raw ids only.
func NewHistoryService(store MessageStore, profiles ProfileResolver, log *slog.Logger) *HistoryService {
	return &HistoryService{store: store, profiles: profiles, log: log}
}

func (s *HistoryService) Conversation(ctx context.Context, caller, other string) ([]Message, error) {
	msgs, err := s.store.QueryBetween(ctx, caller, other)
	if err != nil {
		return nil, err
	}
	return s.withProfiles(ctx, msgs), nil
}

func (s *HistoryService) AllFor(ctx context.Context, userID string) ([]Message, error) {
	msgs, err := s.store.QueryAllFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.withProfiles(ctx, msgs), nil
}

func (s *HistoryService) withProfiles(ctx context.Context, msgs []Message) []Message {
	if s.profiles == nil || len(msgs) == 0 {
		return msgs
	}
	ids := lo.Uniq(lo.FlatMap(msgs, func(m Message, _ int) []string {
		return []string{m.SenderID, m.ReceiverID}
	}))
	profiles, err := s.profiles.ProfilesByIDs(ctx, ids)
	if err != nil {
		s.log.Warn("Profile lookup failed, returning raw ids", "error", err)
		return msgs
	}
	for i := range msgs {
		if p, ok := profiles[msgs[i].SenderID]; ok {
			msgs[i].Sender = &p
		}
		if p, ok := profiles[msgs[i].ReceiverID]; ok {
			msgs[i].Receiver = &p
		}
	}
	return msgs
}
