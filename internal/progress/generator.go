package progress

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// Generator produces the next progress of a simulated participant. Returned progress
// must never be below current, and never above 100.
type Generator interface {
	Next(participantID string, current decimal.Decimal) decimal.Decimal
}

// RandomWalk advances progress by a uniform random step in [0, MaxStep).
type RandomWalk struct {
	maxStep float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomWalk(maxStep float64, seed int64) *RandomWalk {
	return &RandomWalk{
		maxStep: maxStep,
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

func (g *RandomWalk) Next(_ string, current decimal.Decimal) decimal.Decimal {
	g.mu.Lock()
	step := g.rnd.Float64() * g.maxStep
	g.mu.Unlock()

	return clamp(current, current.Add(decimal.NewFromFloat(step).Round(2)))
}

// Sequence replays fixed progress values per participant, then holds the last one.
type Sequence struct {
	mu     sync.Mutex
	values map[string][]decimal.Decimal
}

func NewSequence(values map[string][]decimal.Decimal) *Sequence {
	return &Sequence{values: values}
}

func (g *Sequence) Next(participantID string, current decimal.Decimal) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()

	vs := g.values[participantID]
	if len(vs) == 0 {
		return current
	}

	next := vs[0]
	if len(vs) > 1 {
		g.values[participantID] = vs[1:]
	}

	return clamp(current, next)
}

func clamp(current, next decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(current, next), hundred)
}
