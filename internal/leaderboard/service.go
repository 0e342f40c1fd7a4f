package leaderboard

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/errors"
	"github.com/victornm/ebattle/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	// retention of a completed session's leaderboard
	retention = 24 * time.Hour

	maxWriteAttempts = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service mirrors the ranking of every session into Redis and publishes throttled
// leaderboard updates for observers.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameRankingUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventRankingUpdated))
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the mirrored leaderboard of a session, rank 1 first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	scores, err := s.redis.HGetAll(ctx, s.getScoresKey(req.SessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get scores: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		id := z.Member.(string)
		sc, _ := strconv.ParseInt(scores[id], 10, 64)
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: id,
			Rank:          int(z.Score),
			Score:         sc,
		})
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard overwrites the session's leaderboard with the snapshot ranking.
// Snapshots older than the last one applied are dropped. The applied version lives in Redis
// next to the leaderboard and is compared and set in the same transaction as the write.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventRankingUpdated) error {
	snap := e.Snapshot
	if len(snap.Ranking) == 0 {
		return nil
	}

	applied, err := s.write(ctx, snap)
	if err != nil {
		return fmt.Errorf("update leaderboard: session=%s: %w", snap.SessionID, err)
	}

	if !applied {
		return nil
	}

	if snap.Status == domain.StatusCompleted {
		return s.publishLeaderboard(ctx, snap)
	}

	return s.schedulePublishLeaderboard(ctx, snap)
}

// write applies snap unless a newer version was already applied, it reports whether snap was written.
func (s *Service) write(ctx context.Context, snap domain.Snapshot) (bool, error) {
	members := make([]redis.Z, 0, len(snap.Ranking))
	scores := make(map[string]any, len(snap.Ranking))
	for _, r := range snap.Ranking {
		members = append(members, redis.Z{
			Score:  float64(r.Rank),
			Member: r.Participant.ParticipantID,
		})
		scores[r.Participant.ParticipantID] = r.Participant.Score
	}

	lk, sk, vk := s.getLeaderboardKey(snap.SessionID), s.getScoresKey(snap.SessionID), s.getVersionKey(snap.SessionID)

	var applied bool
	update := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vk).Int64()
		if err != nil && !stderrors.Is(err, redis.Nil) {
			return err
		}

		if snap.Version <= cur {
			applied = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZAdd(ctx, lk, members...)
			p.HSet(ctx, sk, scores)
			p.Set(ctx, vk, snap.Version, 0)
			if snap.Status == domain.StatusCompleted {
				for _, k := range []string{lk, sk, vk} {
					p.Expire(ctx, k, retention)
				}
			}
			return nil
		})
		applied = err == nil
		return err
	}

	// A concurrent write of the same session aborts the transaction, the version is read again.
	for range maxWriteAttempts {
		err := s.redis.Watch(ctx, update, vk)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		return applied, err
	}

	return false, fmt.Errorf("too many concurrent writes: version=%d", snap.Version)
}

// schedulePublishLeaderboard publishes the leaderboard changes after a certain interval.
// Progress and ticks update the ranking many times a second, throttling keeps the number of published events low.
// The final ranking of a completed session is always published.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, snap domain.Snapshot) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(snap.SessionID), snap.Version, publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, snap)
}

func (s *Service) publishLeaderboard(ctx context.Context, snap domain.Snapshot) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: snap.SessionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", snap.SessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(snap.SessionID), snap.Version, publishInterval).Err()
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getScoresKey(session string) string {
	return fmt.Sprintf("%s:%s:scores", s.prefix, session)
}

func (s *Service) getVersionKey(session string) string {
	return fmt.Sprintf("%s:%s:version", s.prefix, session)
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
