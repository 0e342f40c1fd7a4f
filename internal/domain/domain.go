package domain

import (
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a battle session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// CompletionCause records which condition moved a session to completed.
type CompletionCause string

const (
	CauseNone        CompletionCause = ""
	CauseTimeExpired CompletionCause = "time_expired"
	CauseAllComplete CompletionCause = "all_completed"
	CauseCancelled   CompletionCause = "cancelled"
)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
	DifficultyExpert       Difficulty = "Expert"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyExpert:
		return true
	}
	return false
}

// Challenge is the immutable content record a session is played on.
// Test cases are carried through untouched, grading happens elsewhere.
type Challenge struct {
	ChallengeID string
	Title       string
	Difficulty  Difficulty
	XPReward    int
	TestCases   []TestCase
}

type TestCase struct {
	Input          string
	ExpectedOutput string
	Description    string
}

// Session represents a battle session.
type Session struct {
	SessionID       string
	Challenge       Challenge
	Status          Status
	DurationSeconds int
	ElapsedSeconds  int
	MaxParticipants int
	AllowLateJoin   bool
	// Participants are kept in join order.
	Participants []Participant
	Cause        CompletionCause
	Settled      bool
}

// RemainingSeconds returns the time left on the countdown.
func (s *Session) RemainingSeconds() int {
	return s.DurationSeconds - s.ElapsedSeconds
}

// Participant represents a player's state within a session.
type Participant struct {
	ParticipantID string
	DisplayName   string
	Bot           bool
	// JoinOrder is the zero based position the participant joined at.
	JoinOrder int
	Progress  decimal.Decimal
	Score     int64
	Completed bool
	// CompletedAt is the session's elapsed seconds at completion, nil until completed.
	CompletedAt  *int
	Rank         int
	LastVerdict  VerdictSummary
	RewardIssued bool
	XPAwarded    int
}

// VerdictSummary is the pass count of a graded submission.
type VerdictSummary struct {
	Passed int
	Total  int
}

// RankEntry is one row of a ranking.
type RankEntry struct {
	Rank        int
	Participant Participant
}

// Snapshot is a consistent view of a session, ranked best first.
type Snapshot struct {
	SessionID string
	// Version increases with every mutation, consumers use it to drop stale snapshots.
	Version          int64
	ChallengeID      string
	Status           Status
	Cause            CompletionCause
	ElapsedSeconds   int
	RemainingSeconds int
	Ranking          []RankEntry
	CompletedCount   int
	PrizePool        int
	// Winner is the rank 1 participant once the session is completed.
	Winner string
}

// Award is the XP issued to one participant at settlement.
type Award struct {
	ParticipantID string
	Rank          int
	Completed     bool
	XP            int
}

// Settlement lists the awards issued by one settle call.
type Settlement struct {
	SessionID   string
	ChallengeID string
	Difficulty  Difficulty
	Awards      []Award
}
