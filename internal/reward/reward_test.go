package reward_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/reward"
)

func TestXP(t *testing.T) {
	tests := map[string]struct {
		difficulty domain.Difficulty
		completed  bool
		want       int
	}{
		"beginner completed":     {difficulty: domain.DifficultyBeginner, completed: true, want: 50},
		"intermediate completed": {difficulty: domain.DifficultyIntermediate, completed: true, want: 100},
		"advanced completed":     {difficulty: domain.DifficultyAdvanced, completed: true, want: 200},
		"expert completed":       {difficulty: domain.DifficultyExpert, completed: true, want: 500},
		"advanced not completed": {difficulty: domain.DifficultyAdvanced, completed: false, want: 0},
		"unknown difficulty":     {difficulty: domain.Difficulty("Legendary"), completed: true, want: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, reward.XP(tt.difficulty, tt.completed))
		})
	}
}

func TestPrizePool(t *testing.T) {
	assert.Equal(t, 400, reward.PrizePool(domain.DifficultyIntermediate, 4))
	assert.Equal(t, 0, reward.PrizePool(domain.DifficultyExpert, 0))
}
