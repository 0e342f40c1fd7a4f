package battle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/victornm/ebattle/internal/clock"
	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/errors"
	"github.com/victornm/ebattle/internal/event"
	"github.com/victornm/ebattle/internal/progress"
	"github.com/victornm/ebattle/internal/ranking"
	"github.com/victornm/ebattle/internal/reward"
	"github.com/victornm/ebattle/internal/telemetry"
	"github.com/victornm/ebattle/internal/tracker"
)

const (
	DefaultDurationSeconds = 900
	DefaultMaxParticipants = 4
)

type SessionConfig struct {
	SessionID       string
	Challenge       domain.Challenge
	DurationSeconds int
	MaxParticipants int
	AllowLateJoin   bool
	ScoreScale      int64
	// Clock defaults to a countdown of DurationSeconds.
	Clock    clock.Source
	EventBus *event.Bus
}

// Session coordinates the lifecycle of one battle. All mutations are serialized and
// either fully apply, including the ranking and completion recomputation, or leave the
// session untouched. Snapshot reads run concurrently with each other.
type Session struct {
	mu       sync.RWMutex
	state    domain.Session
	index    map[string]int
	snapshot domain.Snapshot

	clock   clock.Source
	tracker *tracker.Tracker
	eb      *event.Bus

	done     chan struct{}
	doneOnce sync.Once
}

func NewSession(c SessionConfig) *Session {
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = DefaultDurationSeconds
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = DefaultMaxParticipants
	}
	if c.Clock == nil {
		c.Clock = clock.NewCountdown(c.DurationSeconds)
	}

	s := &Session{
		state: domain.Session{
			SessionID:       c.SessionID,
			Challenge:       c.Challenge,
			Status:          domain.StatusWaiting,
			DurationSeconds: c.DurationSeconds,
			MaxParticipants: c.MaxParticipants,
			AllowLateJoin:   c.AllowLateJoin,
		},
		index:   make(map[string]int),
		clock:   c.Clock,
		tracker: tracker.New(c.ScoreScale),
		eb:      c.EventBus,
		done:    make(chan struct{}),
	}
	s.recompute()

	return s
}

func (s *Session) ID() string { return s.state.SessionID }

// Done is closed once the session is completed.
func (s *Session) Done() <-chan struct{} { return s.done }

type NewParticipant struct {
	ParticipantID string
	DisplayName   string
	Bot           bool
}

// Join adds a participant. While active, joining requires the late join policy and the
// participant starts from zero with no time credit.
func (s *Session) Join(ctx context.Context, np NewParticipant) (domain.Participant, error) {
	if np.ParticipantID == "" {
		return domain.Participant{}, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant id is required"))
	}

	s.mu.Lock()

	switch s.state.Status {
	case domain.StatusCompleted:
		s.mu.Unlock()
		return domain.Participant{}, ErrAlreadyCompleted.With(errors.WithMessagef("session is completed: session=%s", s.state.SessionID))
	case domain.StatusActive:
		if !s.state.AllowLateJoin {
			s.mu.Unlock()
			return domain.Participant{}, ErrAlreadyActive.With(errors.WithMessagef("session does not allow late join: session=%s", s.state.SessionID))
		}
	}

	if _, ok := s.index[np.ParticipantID]; ok {
		s.mu.Unlock()
		return domain.Participant{}, ErrAlreadyJoined.With(errors.WithMessagef("participant already joined: session=%s, participant=%s", s.state.SessionID, np.ParticipantID))
	}

	if len(s.state.Participants) >= s.state.MaxParticipants {
		s.mu.Unlock()
		return domain.Participant{}, ErrCapacityExceeded.With(errors.WithMessagef("session is full: session=%s, max=%d", s.state.SessionID, s.state.MaxParticipants))
	}

	name := np.DisplayName
	if name == "" {
		name = np.ParticipantID
	}

	s.index[np.ParticipantID] = len(s.state.Participants)
	s.state.Participants = append(s.state.Participants, domain.Participant{
		ParticipantID: np.ParticipantID,
		DisplayName:   name,
		Bot:           np.Bot,
		JoinOrder:     len(s.state.Participants),
		Progress:      decimal.Zero,
	})
	s.recompute()

	p := s.participant(np.ParticipantID)
	snap := s.snapshot
	s.mu.Unlock()

	s.publish(ctx, domain.EventRankingUpdated{Snapshot: snap})
	return p, nil
}

// Start moves a waiting session to active and starts the clock from zero.
func (s *Session) Start(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()

	switch s.state.Status {
	case domain.StatusActive:
		s.mu.Unlock()
		return domain.Snapshot{}, ErrAlreadyActive.With(errors.WithMessagef("session already started: session=%s", s.state.SessionID))
	case domain.StatusCompleted:
		s.mu.Unlock()
		return domain.Snapshot{}, ErrAlreadyCompleted.With(errors.WithMessagef("session is completed: session=%s", s.state.SessionID))
	}

	s.state.Status = domain.StatusActive
	s.clock.Start()
	s.state.ElapsedSeconds = s.clock.Elapsed()
	s.recompute()

	snap := s.snapshot
	s.mu.Unlock()

	telemetry.ActiveSessions.Inc()
	s.publish(ctx, domain.EventSessionStarted{Snapshot: snap}, domain.EventRankingUpdated{Snapshot: snap})
	return snap, nil
}

type ProgressUpdate struct {
	ParticipantID string
	Progress      decimal.Decimal
	Verdict       domain.VerdictSummary
}

type ProgressResult struct {
	Participant domain.Participant
	Rank        int
	Snapshot    domain.Snapshot
}

// ApplyProgress records a participant's progress. Progress never goes backward, a lower
// value is rejected without touching the participant.
func (s *Session) ApplyProgress(ctx context.Context, u ProgressUpdate) (*ProgressResult, error) {
	res, events, err := s.applyProgress(u)
	if err != nil {
		telemetry.ProgressUpdates.WithLabelValues("rejected").Inc()
		return nil, err
	}

	telemetry.ProgressUpdates.WithLabelValues("accepted").Inc()
	s.publish(ctx, events...)
	return res, nil
}

func (s *Session) applyProgress(u ProgressUpdate) (*ProgressResult, []event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[u.ParticipantID]
	if !ok {
		return nil, nil, ErrUnknownParticipant.With(errors.WithMessagef("participant not found: session=%s, participant=%s", s.state.SessionID, u.ParticipantID))
	}

	if s.state.Status != domain.StatusActive {
		return nil, nil, ErrSessionNotActive.With(errors.WithMessagef("session is %s: session=%s", s.state.Status, s.state.SessionID))
	}

	if err := s.tracker.Apply(&s.state.Participants[i], tracker.Update{
		Progress:       u.Progress,
		Verdict:        u.Verdict,
		ElapsedSeconds: s.state.ElapsedSeconds,
	}); err != nil {
		return nil, nil, err
	}

	s.recompute()
	events := []event.Event{
		domain.EventProgressApplied{SessionID: s.state.SessionID, Participant: s.state.Participants[i]},
	}
	events = append(events, s.rankingOrCompletion()...)

	p := s.state.Participants[i]
	return &ProgressResult{
		Participant: p,
		Rank:        p.Rank,
		Snapshot:    s.snapshot,
	}, events, nil
}

type SubmissionResult struct {
	Progress decimal.Decimal
	*ProgressResult
}

// Submit converts graded test verdicts into progress and applies it.
func (s *Session) Submit(ctx context.Context, participantID string, verdicts []progress.Verdict) (*SubmissionResult, error) {
	summary := progress.Summarize(verdicts)
	pct, err := progress.Percent(summary)
	if err != nil {
		return nil, err
	}

	res, err := s.ApplyProgress(ctx, ProgressUpdate{
		ParticipantID: participantID,
		Progress:      pct,
		Verdict:       summary,
	})
	if err != nil {
		return nil, err
	}

	return &SubmissionResult{Progress: pct, ProgressResult: res}, nil
}

type TickResult struct {
	ElapsedSeconds   int
	RemainingSeconds int
	Status           domain.Status
}

// Tick advances the countdown. It is a no-op unless the session is active.
func (s *Session) Tick(ctx context.Context, deltaSeconds int) (TickResult, error) {
	if deltaSeconds < 0 {
		return TickResult{}, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("delta must not be negative: got %d", deltaSeconds))
	}

	s.mu.Lock()

	if s.state.Status != domain.StatusActive {
		res := s.tickResult()
		s.mu.Unlock()
		return res, nil
	}

	s.state.ElapsedSeconds = s.clock.Advance(deltaSeconds)
	s.recompute()
	events := s.rankingOrCompletion()

	res := s.tickResult()
	s.mu.Unlock()

	s.publish(ctx, events...)
	return res, nil
}

func (s *Session) tickResult() TickResult {
	return TickResult{
		ElapsedSeconds:   s.state.ElapsedSeconds,
		RemainingSeconds: s.state.RemainingSeconds(),
		Status:           s.state.Status,
	}
}

// End forces the session to completed ahead of time. Settlement still applies afterwards.
func (s *Session) End(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()

	if s.state.Status == domain.StatusCompleted {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrAlreadyCompleted.With(errors.WithMessagef("session is completed: session=%s", s.state.SessionID))
	}

	events := s.complete(domain.CauseCancelled)
	snap := s.snapshot
	s.mu.Unlock()

	s.publish(ctx, events...)
	return snap, nil
}

// Snapshot returns the ranked view of the session as of the last mutation.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

// State returns a copy of the session record.
func (s *Session) State() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	st.Participants = append([]domain.Participant(nil), s.state.Participants...)
	return st
}

// Settle issues XP once the session is completed. Every finisher is rewarded exactly once,
// calls after the first return an empty settlement.
func (s *Session) Settle(ctx context.Context) (domain.Settlement, error) {
	s.mu.Lock()

	st := domain.Settlement{
		SessionID:   s.state.SessionID,
		ChallengeID: s.state.Challenge.ChallengeID,
		Difficulty:  s.state.Challenge.Difficulty,
	}

	if s.state.Status != domain.StatusCompleted {
		s.mu.Unlock()
		return domain.Settlement{}, ErrSessionNotCompleted.With(errors.WithMessagef("session is %s: session=%s", s.state.Status, s.state.SessionID))
	}

	if s.state.Settled {
		s.mu.Unlock()
		return st, nil
	}

	for _, e := range s.snapshot.Ranking {
		p := &s.state.Participants[s.index[e.Participant.ParticipantID]]
		if p.RewardIssued {
			continue
		}

		xp := reward.XP(s.state.Challenge.Difficulty, p.Completed)
		p.RewardIssued = true
		p.XPAwarded = xp

		st.Awards = append(st.Awards, domain.Award{
			ParticipantID: p.ParticipantID,
			Rank:          e.Rank,
			Completed:     p.Completed,
			XP:            xp,
		})
	}
	s.state.Settled = true
	s.recompute()
	s.mu.Unlock()

	total := 0
	for _, a := range st.Awards {
		total += a.XP
	}
	telemetry.XPAwarded.WithLabelValues(string(st.Difficulty)).Add(float64(total))

	s.publish(ctx, domain.EventRewardsSettled{Settlement: st})
	return st, nil
}

// Settlement rebuilds the awards issued by Settle, in rank order. It is empty until the session is settled.
func (s *Session) Settlement() (domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.Status != domain.StatusCompleted {
		return domain.Settlement{}, ErrSessionNotCompleted.With(errors.WithMessagef("session is %s: session=%s", s.state.Status, s.state.SessionID))
	}

	st := domain.Settlement{
		SessionID:   s.state.SessionID,
		ChallengeID: s.state.Challenge.ChallengeID,
		Difficulty:  s.state.Challenge.Difficulty,
	}

	for _, e := range s.snapshot.Ranking {
		p := s.participant(e.Participant.ParticipantID)
		if !p.RewardIssued {
			continue
		}

		st.Awards = append(st.Awards, domain.Award{
			ParticipantID: p.ParticipantID,
			Rank:          e.Rank,
			Completed:     p.Completed,
			XP:            p.XPAwarded,
		})
	}

	return st, nil
}

// Bots returns the simulated participants and whether the session accepts progress.
func (s *Session) Bots() ([]domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bots []domain.Participant
	for _, p := range s.state.Participants {
		if p.Bot {
			bots = append(bots, p)
		}
	}

	return bots, s.state.Status == domain.StatusActive
}

// ApplyBotProgress applies generated progress to a simulated participant.
func (s *Session) ApplyBotProgress(ctx context.Context, participantID string, p decimal.Decimal) error {
	s.mu.RLock()
	i, ok := s.index[participantID]
	bot := ok && s.state.Participants[i].Bot
	s.mu.RUnlock()

	if ok && !bot {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant is not a bot: %s", participantID))
	}

	_, err := s.ApplyProgress(ctx, ProgressUpdate{ParticipantID: participantID, Progress: p})
	return err
}

// rankingOrCompletion returns the events of a mutation on an active session: the ranking
// update, plus the completion if the mutation ended the session.
func (s *Session) rankingOrCompletion() []event.Event {
	if events := s.checkCompletion(); len(events) > 0 {
		return events
	}

	return []event.Event{domain.EventRankingUpdated{Snapshot: s.snapshot}}
}

// checkCompletion completes an active session when time is up or every participant finished.
// Callers must hold the write lock.
func (s *Session) checkCompletion() []event.Event {
	if s.state.Status != domain.StatusActive {
		return nil
	}

	if s.clock.Expired() {
		return s.complete(domain.CauseTimeExpired)
	}

	if len(s.state.Participants) == 0 {
		return nil
	}

	for _, p := range s.state.Participants {
		if !p.Completed {
			return nil
		}
	}

	return s.complete(domain.CauseAllComplete)
}

func (s *Session) complete(cause domain.CompletionCause) []event.Event {
	if s.state.Status == domain.StatusActive {
		telemetry.ActiveSessions.Dec()
	}

	s.state.Status = domain.StatusCompleted
	s.state.Cause = cause
	s.recompute()
	s.doneOnce.Do(func() { close(s.done) })

	telemetry.SessionsCompleted.WithLabelValues(string(cause)).Inc()

	return []event.Event{
		domain.EventRankingUpdated{Snapshot: s.snapshot},
		domain.EventSessionCompleted{Snapshot: s.snapshot},
	}
}

// recompute refreshes ranks and the cached snapshot. Callers must hold the write lock.
func (s *Session) recompute() {
	entries := ranking.Rank(s.state.Participants)

	completed := 0
	for _, e := range entries {
		s.state.Participants[s.index[e.Participant.ParticipantID]].Rank = e.Rank
		if e.Participant.Completed {
			completed++
		}
	}

	snap := domain.Snapshot{
		SessionID:        s.state.SessionID,
		Version:          s.snapshot.Version + 1,
		ChallengeID:      s.state.Challenge.ChallengeID,
		Status:           s.state.Status,
		Cause:            s.state.Cause,
		ElapsedSeconds:   s.state.ElapsedSeconds,
		RemainingSeconds: s.state.RemainingSeconds(),
		Ranking:          entries,
		CompletedCount:   completed,
		PrizePool:        reward.PrizePool(s.state.Challenge.Difficulty, len(entries)),
	}

	if snap.Status == domain.StatusCompleted && len(entries) > 0 {
		snap.Winner = entries[0].Participant.ParticipantID
	}

	s.snapshot = snap
}

func (s *Session) participant(id string) domain.Participant {
	return s.state.Participants[s.index[id]]
}

func (s *Session) publish(ctx context.Context, events ...event.Event) {
	if s.eb == nil {
		return
	}

	for _, e := range events {
		s.eb.Publish(ctx, e)
	}
}
