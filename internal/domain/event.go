package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameSessionCompleted   = "session.completed"
	EventNameProgressApplied    = "progress.applied"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNameRankingUpdated     = "ranking.updated"
	EventNameRewardsSettled     = "rewards.settled"
)

type EventSessionStarted struct {
	Snapshot Snapshot
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventSessionCompleted struct {
	Snapshot Snapshot
}

func (EventSessionCompleted) Name() string { return EventNameSessionCompleted }

type EventProgressApplied struct {
	SessionID   string
	Participant Participant
}

func (EventProgressApplied) Name() string { return EventNameProgressApplied }

// EventRankingUpdated is published after every mutation that may change the ranking.
type EventRankingUpdated struct {
	Snapshot Snapshot
}

func (EventRankingUpdated) Name() string { return EventNameRankingUpdated }

// EventLeaderboardUpdated is the debounced ranking publication for observers.
type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventRewardsSettled struct {
	Settlement Settlement
}

func (EventRewardsSettled) Name() string { return EventNameRewardsSettled }

// Leaderboard is the mirrored ranking of a session, sorted by rank.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	ParticipantID string
	Rank          int
	Score         int64
}
