package api

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/ebattle/internal/battle"
	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/ledger"
	"github.com/victornm/ebattle/internal/progress"
)

type (
	Challenge struct {
		ChallengeID string     `json:"challenge_id" binding:"required"`
		Title       string     `json:"title"`
		Difficulty  string     `json:"difficulty" binding:"required"`
		XPReward    int        `json:"xp_reward"`
		TestCases   []TestCase `json:"test_cases,omitempty"`
	}

	TestCase struct {
		Input          string `json:"input"`
		ExpectedOutput string `json:"expected_output"`
		Description    string `json:"description,omitempty"`
	}

	NewParticipant struct {
		ParticipantID string `json:"participant_id" binding:"required"`
		DisplayName   string `json:"display_name"`
		Bot           bool   `json:"bot"`
	}

	CreateSessionRequest struct {
		Challenge       Challenge        `json:"challenge"`
		DurationSeconds int              `json:"duration_seconds"`
		MaxParticipants int              `json:"max_participants"`
		AllowLateJoin   *bool            `json:"allow_late_join"`
		Participants    []NewParticipant `json:"participants"`
	}

	ApplyProgressRequest struct {
		Progress decimal.Decimal `json:"progress"`
		Passed   int             `json:"passed"`
		Total    int             `json:"total"`
	}

	SubmitRequest struct {
		Verdicts []Verdict `json:"verdicts"`
	}

	Verdict struct {
		TestID string `json:"test_id"`
		Passed bool   `json:"passed"`
	}

	TickRequest struct {
		DeltaSeconds int `json:"delta_seconds"`
	}
)

type (
	Participant struct {
		ParticipantID string          `json:"participant_id"`
		DisplayName   string          `json:"display_name"`
		Bot           bool            `json:"bot"`
		Progress      decimal.Decimal `json:"progress"`
		Score         int64           `json:"score"`
		Completed     bool            `json:"completed"`
		CompletedAt   *int            `json:"completed_at,omitempty"`
		Rank          int             `json:"rank"`
		TestsPassed   int             `json:"tests_passed"`
		TestsTotal    int             `json:"tests_total"`
		XPAwarded     int             `json:"xp_awarded"`
	}

	Snapshot struct {
		SessionID        string        `json:"session_id"`
		Version          int64         `json:"version"`
		ChallengeID      string        `json:"challenge_id"`
		Status           string        `json:"status"`
		Cause            string        `json:"cause,omitempty"`
		ElapsedSeconds   int           `json:"elapsed_seconds"`
		RemainingSeconds int           `json:"remaining_seconds"`
		Ranking          []Participant `json:"ranking"`
		CompletedCount   int           `json:"completed_count"`
		PrizePool        int           `json:"prize_pool"`
		Winner           string        `json:"winner,omitempty"`
	}

	ProgressResponse struct {
		Participant Participant `json:"participant"`
		Rank        int         `json:"rank"`
		Snapshot    Snapshot    `json:"snapshot"`
	}

	TickResponse struct {
		ElapsedSeconds   int    `json:"elapsed_seconds"`
		RemainingSeconds int    `json:"remaining_seconds"`
		Status           string `json:"status"`
	}

	Award struct {
		ParticipantID string `json:"participant_id"`
		Rank          int    `json:"rank"`
		Completed     bool   `json:"completed"`
		XP            int    `json:"xp"`
	}

	Settlement struct {
		SessionID   string  `json:"session_id"`
		ChallengeID string  `json:"challenge_id"`
		Difficulty  string  `json:"difficulty"`
		Awards      []Award `json:"awards"`
	}

	Leaderboard struct {
		SessionID string             `json:"session_id"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		ParticipantID string `json:"participant_id"`
		Rank          int    `json:"rank"`
		Score         int64  `json:"score"`
	}

	ParticipantXP struct {
		ParticipantID  string `json:"participant_id"`
		TotalXP        int64  `json:"total_xp"`
		BattlesWon     int64  `json:"battles_won"`
		BattlesPlayed  int64  `json:"battles_played"`
		ChallengesDone int64  `json:"challenges_done"`
	}
)

func (r CreateSessionRequest) toService() battle.CreateSessionRequest {
	tcs := make([]domain.TestCase, 0, len(r.Challenge.TestCases))
	for _, tc := range r.Challenge.TestCases {
		tcs = append(tcs, domain.TestCase(tc))
	}

	ps := make([]battle.NewParticipant, 0, len(r.Participants))
	for _, p := range r.Participants {
		ps = append(ps, battle.NewParticipant(p))
	}

	return battle.CreateSessionRequest{
		Challenge: domain.Challenge{
			ChallengeID: r.Challenge.ChallengeID,
			Title:       r.Challenge.Title,
			Difficulty:  domain.Difficulty(r.Challenge.Difficulty),
			XPReward:    r.Challenge.XPReward,
			TestCases:   tcs,
		},
		DurationSeconds: r.DurationSeconds,
		MaxParticipants: r.MaxParticipants,
		AllowLateJoin:   r.AllowLateJoin,
		Participants:    ps,
	}
}

func (r SubmitRequest) toVerdicts() []progress.Verdict {
	vs := make([]progress.Verdict, 0, len(r.Verdicts))
	for _, v := range r.Verdicts {
		vs = append(vs, progress.Verdict(v))
	}
	return vs
}

func toParticipant(p domain.Participant) Participant {
	return Participant{
		ParticipantID: p.ParticipantID,
		DisplayName:   p.DisplayName,
		Bot:           p.Bot,
		Progress:      p.Progress,
		Score:         p.Score,
		Completed:     p.Completed,
		CompletedAt:   p.CompletedAt,
		Rank:          p.Rank,
		TestsPassed:   p.LastVerdict.Passed,
		TestsTotal:    p.LastVerdict.Total,
		XPAwarded:     p.XPAwarded,
	}
}

func toSnapshot(s domain.Snapshot) Snapshot {
	ranking := make([]Participant, 0, len(s.Ranking))
	for _, r := range s.Ranking {
		p := toParticipant(r.Participant)
		p.Rank = r.Rank
		ranking = append(ranking, p)
	}

	return Snapshot{
		SessionID:        s.SessionID,
		Version:          s.Version,
		ChallengeID:      s.ChallengeID,
		Status:           string(s.Status),
		Cause:            string(s.Cause),
		ElapsedSeconds:   s.ElapsedSeconds,
		RemainingSeconds: s.RemainingSeconds,
		Ranking:          ranking,
		CompletedCount:   s.CompletedCount,
		PrizePool:        s.PrizePool,
		Winner:           s.Winner,
	}
}

func toProgressResponse(r *battle.ProgressResult) ProgressResponse {
	return ProgressResponse{
		Participant: toParticipant(r.Participant),
		Rank:        r.Rank,
		Snapshot:    toSnapshot(r.Snapshot),
	}
}

func toSettlement(s domain.Settlement) Settlement {
	return Settlement{
		SessionID:   s.SessionID,
		ChallengeID: s.ChallengeID,
		Difficulty:  string(s.Difficulty),
		Awards:      toAwards(s.Awards),
	}
}

func toAwards(as []domain.Award) []Award {
	awards := make([]Award, 0, len(as))
	for _, a := range as {
		awards = append(awards, Award(a))
	}
	return awards
}

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	entries := make([]LeaderboardEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, LeaderboardEntry(e))
	}

	return Leaderboard{
		SessionID: l.SessionID,
		Entries:   entries,
	}
}

func toParticipantXP(participant string, r *ledger.TotalXPResponse) ParticipantXP {
	return ParticipantXP{
		ParticipantID:  participant,
		TotalXP:        r.TotalXP,
		BattlesWon:     r.BattlesWon,
		BattlesPlayed:  r.BattlesPlayed,
		ChallengesDone: r.ChallengesDone,
	}
}
