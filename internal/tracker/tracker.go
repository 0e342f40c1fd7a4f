package tracker

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/errors"
)

const DefaultScoreScale = 10

const (
	ReasonRegressionRejected = "RegressionRejected"
	ReasonInvalidProgress    = "InvalidProgress"
)

var (
	ErrRegressionRejected = errors.New(errors.CodeFailedPrecondition, errors.WithReason(ReasonRegressionRejected))
	ErrInvalidProgress    = errors.New(errors.CodeInvalidArgument, errors.WithReason(ReasonInvalidProgress))
)

var hundred = decimal.NewFromInt(100)

// Tracker applies progress updates to a single participant and derives its score and completion.
type Tracker struct {
	scale decimal.Decimal
}

func New(scoreScale int64) *Tracker {
	if scoreScale <= 0 {
		scoreScale = DefaultScoreScale
	}

	return &Tracker{scale: decimal.NewFromInt(scoreScale)}
}

// Score returns round(progress * scale).
func (t *Tracker) Score(progress decimal.Decimal) int64 {
	return progress.Mul(t.scale).Round(0).IntPart()
}

type Update struct {
	Progress decimal.Decimal
	Verdict  domain.VerdictSummary
	// ElapsedSeconds is the session time the update is applied at.
	ElapsedSeconds int
}

// Check reports whether u can be applied to p without changing anything.
func (t *Tracker) Check(p domain.Participant, u Update) error {
	if u.Progress.IsNegative() || u.Progress.GreaterThan(hundred) {
		return ErrInvalidProgress.With(errors.WithMessagef("progress must be within [0, 100]: got %s", u.Progress))
	}

	if u.Progress.LessThan(p.Progress) {
		return ErrRegressionRejected.With(errors.WithMessagef("progress can not go backward: participant=%s, current=%s, got=%s",
			p.ParticipantID, p.Progress, u.Progress))
	}

	return nil
}

// Apply validates u and applies it to p. p is left untouched on error.
func (t *Tracker) Apply(p *domain.Participant, u Update) error {
	if err := t.Check(*p, u); err != nil {
		return err
	}

	p.Progress = u.Progress
	p.Score = t.Score(u.Progress)
	p.LastVerdict = u.Verdict

	if !p.Completed && u.Progress.GreaterThanOrEqual(hundred) {
		at := u.ElapsedSeconds
		p.Completed = true
		p.CompletedAt = &at
	}

	return nil
}
