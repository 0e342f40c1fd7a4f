package reward

import (
	"github.com/victornm/ebattle/internal/domain"
)

var xpTable = map[domain.Difficulty]int{
	domain.DifficultyBeginner:     50,
	domain.DifficultyIntermediate: 100,
	domain.DifficultyAdvanced:     200,
	domain.DifficultyExpert:       500,
}

// XP returns the XP awarded for finishing a challenge of difficulty d, regardless of rank.
// Unfinished challenges award nothing, as do unknown difficulties.
func XP(d domain.Difficulty, completed bool) int {
	if !completed {
		return 0
	}

	return xpTable[d]
}

// PrizePool is the XP on offer for a session: every finisher earns XP(d, true).
func PrizePool(d domain.Difficulty, participants int) int {
	return XP(d, true) * participants
}
