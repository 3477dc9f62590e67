package domain

import "fmt"

// ScoreKey selects one of the four rarity score variants.
type ScoreKey string

const (
	ScoreRarity                ScoreKey = "rarity"
	ScoreRarityNormalized      ScoreKey = "rarityNormalized"
	ScoreRarityCount           ScoreKey = "rarityCount"
	ScoreRarityCountNormalized ScoreKey = "rarityCountNormalized"
)

// ScoreKeys lists every variant in a fixed order.
var ScoreKeys = []ScoreKey{
	ScoreRarity,
	ScoreRarityNormalized,
	ScoreRarityCount,
	ScoreRarityCountNormalized,
}

// ParseScoreKey validates a score key name.
func ParseScoreKey(s string) (ScoreKey, error) {
	for _, k := range ScoreKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown score key %q", s)
}

// Score is one score variant of an item together with its ranking.
type Score struct {
	Value   float64 `json:"value"`
	Rank    int     `json:"rank"`
	RankPct float64 `json:"rank_pct"`

	// Outlier is (value - Q3) / IQR; nil when the IQR is zero.
	Outlier *float64 `json:"outlier,omitempty"`
}

// Scores holds all variants of an item's rarity score.
type Scores struct {
	Rarity                Score `json:"rarity"`
	RarityNormalized      Score `json:"rarity_normalized"`
	RarityCount           Score `json:"rarity_count"`
	RarityCountNormalized Score `json:"rarity_count_normalized"`

	// Key is the variant aliased by Primary.
	Key ScoreKey `json:"key"`
}

// Get returns a pointer to the variant selected by key.
func (s *Scores) Get(key ScoreKey) *Score {
	switch key {
	case ScoreRarity:
		return &s.Rarity
	case ScoreRarityNormalized:
		return &s.RarityNormalized
	case ScoreRarityCount:
		return &s.RarityCount
	case ScoreRarityCountNormalized:
		return &s.RarityCountNormalized
	default:
		return nil
	}
}

// Primary returns the externally chosen score variant.
func (s *Scores) Primary() Score {
	if v := s.Get(s.Key); v != nil {
		return *v
	}
	return s.Rarity
}
