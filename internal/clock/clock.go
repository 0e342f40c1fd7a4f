package clock

import (
	"time"
)

// Source supplies the elapsed time of a session's countdown in whole seconds.
// Implementations are not safe for concurrent use; the owning session serializes access.
type Source interface {
	// Start begins counting from zero. Starting a running source is a no-op.
	Start()
	// Advance moves the clock forward and returns the new elapsed time, never past the duration.
	Advance(deltaSeconds int) int
	Elapsed() int
	Remaining() int
	Expired() bool
}

// Countdown is a tick driven Source with a fixed duration.
type Countdown struct {
	duration int
	elapsed  int
	running  bool
}

func NewCountdown(durationSeconds int) *Countdown {
	return &Countdown{duration: durationSeconds}
}

func (c *Countdown) Start() {
	if c.running {
		return
	}

	c.running = true
	c.elapsed = 0
}

func (c *Countdown) Advance(deltaSeconds int) int {
	if !c.running || deltaSeconds <= 0 {
		return c.elapsed
	}

	c.elapsed = min(c.elapsed+deltaSeconds, c.duration)
	return c.elapsed
}

func (c *Countdown) Elapsed() int { return c.elapsed }

func (c *Countdown) Remaining() int { return c.duration - c.elapsed }

func (c *Countdown) Expired() bool { return c.elapsed >= c.duration }

// Ticker delivers ticks on its own cadence.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type NewTickerFunc func(d time.Duration) Ticker

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &stdTicker{t: time.NewTicker(d)}
}

type stdTicker struct {
	t *time.Ticker
}

func (t *stdTicker) C() <-chan time.Time { return t.t.C }

func (t *stdTicker) Stop() { t.t.Stop() }

// ManualTicker is a Ticker fired by hand, for tests and replays.
type ManualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (t *ManualTicker) C() <-chan time.Time { return t.c }

func (t *ManualTicker) Stop() {
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
}

// Fire delivers one tick and blocks until it is received. It returns false if the ticker was stopped.
func (t *ManualTicker) Fire() bool {
	select {
	case t.c <- time.Now():
		return true
	case <-t.stopped:
		return false
	}
}

// Stopped is closed once Stop is called.
func (t *ManualTicker) Stopped() <-chan struct{} { return t.stopped }
