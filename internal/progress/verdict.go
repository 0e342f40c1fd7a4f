// Package progress turns submission verdicts and simulated opponents into progress updates.
package progress

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/errors"
)

var hundred = decimal.NewFromInt(100)

// Verdict is the grading result of one test case.
type Verdict struct {
	TestID string
	Passed bool
}

func Summarize(vs []Verdict) domain.VerdictSummary {
	s := domain.VerdictSummary{Total: len(vs)}
	for _, v := range vs {
		if v.Passed {
			s.Passed++
		}
	}

	return s
}

// Percent returns 100 * passed / total.
func Percent(s domain.VerdictSummary) (decimal.Decimal, error) {
	if s.Total <= 0 || s.Passed < 0 || s.Passed > s.Total {
		return decimal.Zero, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid verdict summary: passed=%d, total=%d", s.Passed, s.Total))
	}

	return hundred.Mul(decimal.NewFromInt(int64(s.Passed))).Div(decimal.NewFromInt(int64(s.Total))), nil
}
