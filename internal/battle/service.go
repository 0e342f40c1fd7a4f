package battle

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victornm/ebattle/internal/clock"
	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/errors"
	"github.com/victornm/ebattle/internal/event"
	"github.com/victornm/ebattle/internal/progress"
)

type Config struct {
	EventBus *event.Bus

	// Defaults apply when a create request leaves the field zero.
	DurationSeconds int
	MaxParticipants int
	AllowLateJoin   bool
	ScoreScale      int64

	// TickInterval drives the countdown of active sessions. Zero leaves ticking to callers.
	TickInterval time.Duration
	// AutoSettle settles a session as soon as it is completed.
	AutoSettle bool
	// Retention keeps a completed session readable before it is evicted. Defaults to DefaultRetention.
	Retention time.Duration

	Bot struct {
		// Interval between simulated progress steps. Zero disables simulation.
		Interval time.Duration
		MaxStep  float64
	}

	NewTickerFunc    clock.NewTickerFunc
	NewGeneratorFunc func() progress.Generator
}

// Service owns every battle session of the process.
type Service struct {
	c  Config
	eb *event.Bus

	mu         sync.RWMutex
	sessions   map[string]*Session
	simulating map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DefaultRetention matches the expiry of a completed leaderboard.
const DefaultRetention = 24 * time.Hour

func NewService(c Config) *Service {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.NewTickerFunc == nil {
		c.NewTickerFunc = clock.NewTicker
	}
	if c.NewGeneratorFunc == nil {
		maxStep := c.Bot.MaxStep
		c.NewGeneratorFunc = func() progress.Generator {
			return progress.NewRandomWalk(maxStep, time.Now().UnixNano())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		c:          c,
		eb:         c.EventBus,
		sessions:   make(map[string]*Session),
		simulating: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}

	if c.AutoSettle && s.eb != nil {
		s.eb.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
			return s.settleCompleted(ctx, e.(domain.EventSessionCompleted))
		})
	}

	return s
}

// CreateSessionRequest represents a request to create a new battle session.
type CreateSessionRequest struct {
	Challenge       domain.Challenge
	DurationSeconds int
	MaxParticipants int
	// AllowLateJoin overrides the service default when set.
	AllowLateJoin *bool
	// Participants are joined in order before the session is returned.
	Participants []NewParticipant
}

// CreateSession creates a new waiting session.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if req.Challenge.ChallengeID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("challenge id is required"))
	}
	if !req.Challenge.Difficulty.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown difficulty: %q", req.Challenge.Difficulty))
	}
	if req.DurationSeconds < 0 || req.MaxParticipants < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("duration and max participants must not be negative"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	c := SessionConfig{
		SessionID:       id.String(),
		Challenge:       req.Challenge,
		DurationSeconds: cmp.Or(req.DurationSeconds, s.c.DurationSeconds),
		MaxParticipants: cmp.Or(req.MaxParticipants, s.c.MaxParticipants),
		AllowLateJoin:   s.c.AllowLateJoin,
		ScoreScale:      s.c.ScoreScale,
		EventBus:        s.eb,
	}
	if req.AllowLateJoin != nil {
		c.AllowLateJoin = *req.AllowLateJoin
	}

	ss := NewSession(c)
	for _, np := range req.Participants {
		if _, err := ss.Join(ctx, np); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.sessions[ss.ID()] = ss
	s.mu.Unlock()

	s.goRun(func() { s.evict(ss) })

	slog.InfoContext(ctx, "battle: session created",
		"session", ss.ID(),
		"challenge", req.Challenge.ChallengeID,
		"participants", len(req.Participants),
	)

	return ss, nil
}

// Get returns the session with the given id.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, ErrUnknownSession.With(errors.WithMessagef("session not found: %s", id))
	}

	return ss, nil
}

type JoinRequest struct {
	SessionID string
	NewParticipant
}

func (s *Service) Join(ctx context.Context, req JoinRequest) (domain.Participant, error) {
	ss, err := s.Get(req.SessionID)
	if err != nil {
		return domain.Participant{}, err
	}

	p, err := ss.Join(ctx, req.NewParticipant)
	if err != nil {
		return domain.Participant{}, err
	}

	// A bot joining late is simulated like the ones present at start.
	if _, active := ss.Bots(); p.Bot && active {
		s.simulate(ss)
	}

	return p, nil
}

type StartRequest struct {
	SessionID string
}

// Start activates a session and launches its countdown and bot simulation when configured.
func (s *Service) Start(ctx context.Context, req StartRequest) (domain.Snapshot, error) {
	ss, err := s.Get(req.SessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap, err := ss.Start(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if s.c.TickInterval > 0 {
		s.goRun(func() { s.runTimer(ss) })
	}

	if bots, _ := ss.Bots(); len(bots) > 0 {
		s.simulate(ss)
	}

	slog.InfoContext(ctx, "battle: session started", "session", ss.ID())
	return snap, nil
}

type ApplyProgressRequest struct {
	SessionID     string
	ParticipantID string
	Progress      decimal.Decimal
	Verdict       domain.VerdictSummary
}

func (s *Service) ApplyProgress(ctx context.Context, req ApplyProgressRequest) (*ProgressResult, error) {
	ss, err := s.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	return ss.ApplyProgress(ctx, ProgressUpdate{
		ParticipantID: req.ParticipantID,
		Progress:      req.Progress,
		Verdict:       req.Verdict,
	})
}

type SubmitRequest struct {
	SessionID     string
	ParticipantID string
	Verdicts      []progress.Verdict
}

func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmissionResult, error) {
	ss, err := s.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	return ss.Submit(ctx, req.ParticipantID, req.Verdicts)
}

type TickRequest struct {
	SessionID    string
	DeltaSeconds int
}

func (s *Service) Tick(ctx context.Context, req TickRequest) (TickResult, error) {
	ss, err := s.Get(req.SessionID)
	if err != nil {
		return TickResult{}, err
	}

	return ss.Tick(ctx, req.DeltaSeconds)
}

func (s *Service) Snapshot(_ context.Context, sessionID string) (domain.Snapshot, error) {
	ss, err := s.Get(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	return ss.Snapshot(), nil
}

func (s *Service) Settle(ctx context.Context, sessionID string) (domain.Settlement, error) {
	ss, err := s.Get(sessionID)
	if err != nil {
		return domain.Settlement{}, err
	}

	return ss.Settle(ctx)
}

// ReplaySettlement publishes the awards already issued for a session again, so that
// subscribers which failed to record them the first time can catch up.
func (s *Service) ReplaySettlement(ctx context.Context, sessionID string) (domain.Settlement, error) {
	ss, err := s.Get(sessionID)
	if err != nil {
		return domain.Settlement{}, err
	}

	st, err := ss.Settlement()
	if err != nil {
		return domain.Settlement{}, err
	}

	if len(st.Awards) > 0 && s.eb != nil {
		s.eb.Publish(ctx, domain.EventRewardsSettled{Settlement: st})
	}

	slog.InfoContext(ctx, "battle: settlement replayed", "session", sessionID, "awards", len(st.Awards))
	return st, nil
}

// End forces a session to completed, the administrative cancel.
func (s *Service) End(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	ss, err := s.Get(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap, err := ss.End(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	slog.InfoContext(ctx, "battle: session ended by override", "session", sessionID)
	return snap, nil
}

// Stop halts timers and simulations and waits for them to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) settleCompleted(ctx context.Context, e domain.EventSessionCompleted) error {
	ss, err := s.Get(e.Snapshot.SessionID)
	if err != nil {
		return err
	}

	st, err := ss.Settle(ctx)
	if err != nil {
		return fmt.Errorf("auto settle: session=%s: %w", ss.ID(), err)
	}

	slog.InfoContext(ctx, "battle: session settled",
		"session", ss.ID(),
		"cause", e.Snapshot.Cause,
		"awards", len(st.Awards),
	)

	return nil
}

// runTimer ticks ss in whole seconds until it is completed or the service stops.
func (s *Service) runTimer(ss *Session) {
	t := s.c.NewTickerFunc(s.c.TickInterval)
	defer t.Stop()

	var acc time.Duration
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ss.Done():
			return
		case <-t.C():
			acc += s.c.TickInterval
			whole := int(acc / time.Second)
			if whole == 0 {
				continue
			}
			acc -= time.Duration(whole) * time.Second

			if _, err := ss.Tick(s.ctx, whole); err != nil {
				slog.ErrorContext(s.ctx, "battle: tick failed", "session", ss.ID(), "error", err)
			}
		}
	}
}

// simulate starts the bot simulator of ss unless it is disabled or already running.
func (s *Service) simulate(ss *Session) {
	if s.c.Bot.Interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.simulating[ss.ID()] {
		s.mu.Unlock()
		return
	}
	s.simulating[ss.ID()] = true
	s.mu.Unlock()

	sim := progress.NewSimulator(progress.SimulatorConfig{
		Sink:      ss,
		Generator: s.c.NewGeneratorFunc(),
		Ticker:    s.c.NewTickerFunc(s.c.Bot.Interval),
	})
	s.goRun(func() { sim.Run(s.ctx) })
}

// evict removes ss from the registry once it has been completed for the retention period.
func (s *Service) evict(ss *Session) {
	select {
	case <-s.ctx.Done():
		return
	case <-ss.Done():
	}

	t := time.NewTimer(s.c.Retention)
	defer t.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-t.C:
	}

	s.mu.Lock()
	delete(s.sessions, ss.ID())
	delete(s.simulating, ss.ID())
	s.mu.Unlock()

	slog.InfoContext(s.ctx, "battle: session evicted", "session", ss.ID())
}

func (s *Service) goRun(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}
