package ledger

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/event"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the ledger uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

// Service records settled XP awards. An award is keyed by session and participant,
// so replaying a settlement never credits a participant twice.
type Service struct {
	eb *event.Bus
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameRewardsSettled, func(ctx context.Context, e event.Event) error {
		return s.Record(ctx, e.(domain.EventRewardsSettled).Settlement)
	})

	return s
}

// Migrate creates the ledger tables if they do not exist.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}

	return nil
}

// Record inserts the awards of a settlement. Awards already recorded are skipped.
func (s *Service) Record(ctx context.Context, st domain.Settlement) (err error) {
	if len(st.Awards) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const stmt = `
INSERT INTO rewards (session_id, participant_id, challenge_id, difficulty, final_rank, completed, xp, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, participant_id) DO NOTHING;`

	now := time.Now()
	b := &pgx.Batch{}
	for _, a := range st.Awards {
		b.Queue(stmt, st.SessionID, a.ParticipantID, st.ChallengeID, string(st.Difficulty), a.Rank, a.Completed, a.XP, now)
	}

	if err = tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert awards: session=%s: %w", st.SessionID, err)
	}

	return tx.Commit(ctx)
}

type ListAwardsRequest struct {
	SessionID string
}

// ListAwards returns the recorded awards of a session, best rank first.
func (s *Service) ListAwards(ctx context.Context, req ListAwardsRequest) ([]domain.Award, error) {
	const stmt = `
SELECT participant_id, final_rank, completed, xp
FROM rewards
WHERE session_id = $1
ORDER BY final_rank;`

	rows, err := s.db.Query(ctx, stmt, req.SessionID)
	if err != nil {
		return nil, err
	}

	awards, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Award, error) {
		var a domain.Award
		if err := r.Scan(&a.ParticipantID, &a.Rank, &a.Completed, &a.XP); err != nil {
			return domain.Award{}, err
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	return awards, nil
}

type TotalXPRequest struct {
	ParticipantID string
}

type TotalXPResponse struct {
	TotalXP        int64
	BattlesWon     int64
	BattlesPlayed  int64
	ChallengesDone int64
}

// TotalXP aggregates a participant's record over every settled session.
func (s *Service) TotalXP(ctx context.Context, req TotalXPRequest) (*TotalXPResponse, error) {
	const stmt = `
SELECT
	COALESCE(SUM(xp), 0),
	COUNT(*) FILTER (WHERE final_rank = 1 AND completed),
	COUNT(*),
	COUNT(*) FILTER (WHERE completed)
FROM rewards
WHERE participant_id = $1;`

	var resp TotalXPResponse
	if err := s.db.QueryRow(ctx, stmt, req.ParticipantID).Scan(
		&resp.TotalXP, &resp.BattlesWon, &resp.BattlesPlayed, &resp.ChallengesDone,
	); err != nil {
		return nil, fmt.Errorf("total xp: participant=%s: %w", req.ParticipantID, err)
	}

	return &resp, nil
}
