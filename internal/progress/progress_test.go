package progress_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/ebattle/internal/clock"
	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/progress"
)

func TestPercent(t *testing.T) {
	tests := map[string]struct {
		verdicts []progress.Verdict
		want     string
		wantErr  bool
	}{
		"all passed": {
			verdicts: []progress.Verdict{{TestID: "t1", Passed: true}, {TestID: "t2", Passed: true}},
			want:     "100",
		},
		"half passed": {
			verdicts: []progress.Verdict{{TestID: "t1", Passed: true}, {TestID: "t2", Passed: false}},
			want:     "50",
		},
		"none passed": {
			verdicts: []progress.Verdict{{TestID: "t1"}},
			want:     "0",
		},
		"no tests should fail": {
			verdicts: nil,
			wantErr:  true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := progress.Percent(progress.Summarize(tt.verdicts))
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestRandomWalk_Next(t *testing.T) {
	g := progress.NewRandomWalk(3, 1)

	cur := decimal.Zero
	for range 1000 {
		next := g.Next("bot", cur)
		require.True(t, next.GreaterThanOrEqual(cur), "progress should never decrease")
		require.True(t, next.LessThanOrEqual(decimal.NewFromInt(100)), "progress should be capped at 100")
		require.True(t, next.Sub(cur).LessThan(decimal.NewFromInt(3).Add(decimal.NewFromFloat(0.01))))
		cur = next
	}

	assert.True(t, cur.Equal(decimal.NewFromInt(100)))
}

func TestSequence_Next(t *testing.T) {
	g := progress.NewSequence(map[string][]decimal.Decimal{
		"bot": {decimal.NewFromInt(10), decimal.NewFromInt(5), decimal.NewFromInt(120)},
	})

	cur := decimal.Zero
	var got []string
	for range 4 {
		cur = g.Next("bot", cur)
		got = append(got, cur.String())
	}

	assert.Equal(t, []string{"10", "10", "100", "100"}, got)
	assert.True(t, g.Next("unknown", decimal.NewFromInt(7)).Equal(decimal.NewFromInt(7)))
}

func TestSimulator_Run(t *testing.T) {
	sink := &fakeSink{
		active: true,
		bots: map[string]*domain.Participant{
			"b1": {ParticipantID: "b1", Bot: true},
			"b2": {ParticipantID: "b2", Bot: true},
		},
	}

	tk := clock.NewManualTicker()
	sim := progress.NewSimulator(progress.SimulatorConfig{
		Sink: sink,
		Generator: progress.NewSequence(map[string][]decimal.Decimal{
			"b1": {decimal.NewFromInt(40), decimal.NewFromInt(100)},
			"b2": {decimal.NewFromInt(20)},
		}),
		Ticker: tk,
	})

	done := make(chan struct{})
	go func() {
		sim.Run(context.Background())
		close(done)
	}()

	require.True(t, tk.Fire())
	require.True(t, tk.Fire())
	require.True(t, tk.Fire())

	sink.setActive(false)
	tk.Fire()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator should stop once the session is inactive")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"b1=40", "b2=20", "b1=100"}, sink.applied)
	<-tk.Stopped()
}

type fakeSink struct {
	mu      sync.Mutex
	active  bool
	bots    map[string]*domain.Participant
	applied []string
}

func (f *fakeSink) Bots() ([]domain.Participant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Participant
	for _, id := range []string{"b1", "b2"} {
		out = append(out, *f.bots[id])
	}

	return out, f.active
}

func (f *fakeSink) ApplyBotProgress(_ context.Context, id string, p decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.bots[id]
	b.Progress = p
	b.Completed = p.GreaterThanOrEqual(decimal.NewFromInt(100))
	f.applied = append(f.applied, id+"="+p.String())
	return nil
}

func (f *fakeSink) setActive(v bool) {
	f.mu.Lock()
	f.active = v
	f.mu.Unlock()
}
