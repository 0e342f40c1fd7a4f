package progress

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/victornm/ebattle/internal/clock"
	"github.com/victornm/ebattle/internal/domain"
)

// Sink is the session a Simulator drives.
type Sink interface {
	// Bots returns the simulated participants and whether the session still accepts progress.
	Bots() ([]domain.Participant, bool)
	ApplyBotProgress(ctx context.Context, participantID string, progress decimal.Decimal) error
}

type SimulatorConfig struct {
	Sink      Sink
	Generator Generator
	Ticker    clock.Ticker
}

// Simulator advances every bot of a session on each tick until the session stops accepting progress.
type Simulator struct {
	sink   Sink
	gen    Generator
	ticker clock.Ticker
}

func NewSimulator(c SimulatorConfig) *Simulator {
	return &Simulator{
		sink:   c.Sink,
		gen:    c.Generator,
		ticker: c.Ticker,
	}
}

// Run blocks until ctx is done or the session is no longer active. The ticker is stopped on return.
func (s *Simulator) Run(ctx context.Context) {
	defer s.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ticker.C():
			if !s.Step(ctx) {
				return
			}
		}
	}
}

// Step advances every unfinished bot once. It returns false once the session stops accepting progress.
func (s *Simulator) Step(ctx context.Context) bool {
	bots, active := s.sink.Bots()
	if !active {
		return false
	}

	for _, b := range bots {
		if b.Completed {
			continue
		}

		next := s.gen.Next(b.ParticipantID, b.Progress)
		if next.Equal(b.Progress) {
			continue
		}

		if err := s.sink.ApplyBotProgress(ctx, b.ParticipantID, next); err != nil {
			slog.WarnContext(ctx, "progress: apply bot progress failed",
				"participant", b.ParticipantID,
				"error", err,
			)
		}
	}

	return true
}
