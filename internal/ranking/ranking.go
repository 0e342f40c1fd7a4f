// Package ranking orders the participants of a session.
package ranking

import (
	"cmp"
	"slices"

	"github.com/victornm/ebattle/internal/domain"
)

// Rank returns participants ordered best first with ranks 1..N assigned.
//
// Order: higher score, then completed before not completed, then earlier completion time
// (participants without one go last), then earlier join order. The input is not modified.
func Rank(participants []domain.Participant) []domain.RankEntry {
	sorted := slices.Clone(participants)
	slices.SortStableFunc(sorted, Compare)

	entries := make([]domain.RankEntry, 0, len(sorted))
	for i, p := range sorted {
		p.Rank = i + 1
		entries = append(entries, domain.RankEntry{
			Rank:        i + 1,
			Participant: p,
		})
	}

	return entries
}

// Compare returns a negative number when a ranks above b.
func Compare(a, b domain.Participant) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}

	if a.Completed != b.Completed {
		if a.Completed {
			return -1
		}
		return 1
	}

	if c := compareCompletedAt(a.CompletedAt, b.CompletedAt); c != 0 {
		return c
	}

	return cmp.Compare(a.JoinOrder, b.JoinOrder)
}

func compareCompletedAt(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	return cmp.Compare(*a, *b)
}
