package rarity

import (
	"math"
	"slices"

	"github.com/revealrank/revealrank/internal/domain"
)

// rankItems assigns competition ranks, rank percentages and outlier values for every
// score variant. items must already carry Scores.
func rankItems(items []*domain.Item, primary domain.ScoreKey) {
	n := len(items)
	if n == 0 {
		return
	}

	order := make([]*domain.Item, n)
	values := make([]float64, n)
	for _, key := range domain.ScoreKeys {
		copy(order, items)
		slices.SortStableFunc(order, func(a, b *domain.Item) int {
			va, vb := a.Scores.Get(key).Value, b.Scores.Get(key).Value
			switch {
			case va > vb:
				return -1
			case va < vb:
				return 1
			}
			return a.ID - b.ID
		})

		rank := 0
		for i, item := range order {
			s := item.Scores.Get(key)
			if i == 0 || s.Value != order[i-1].Scores.Get(key).Value {
				rank = i + 1
			}
			s.Rank = rank
			s.RankPct = float64(rank) / float64(n)
			values[n-1-i] = s.Value
		}

		// values is ascending here.
		q1 := Percentile(values, 0.25)
		q3 := Percentile(values, 0.75)
		iqr := q3 - q1
		for _, item := range order {
			s := item.Scores.Get(key)
			s.Outlier = nil
			if iqr > 0 {
				v := (s.Value - q3) / iqr
				s.Outlier = &v
			}
		}
	}

	for _, item := range items {
		item.Scores.Key = primary
	}
}

// Percentile returns the p-th quantile (0 ≤ p ≤ 1) of ascending sorted values using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return math.NaN()
	case n == 1:
		return sorted[0]
	}
	p = math.Max(0, math.Min(1, p))
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
