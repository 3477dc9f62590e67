package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Lifecycle(t *testing.T) {
	item := NewItem(42, "https://example.com/meta/42")
	assert.Equal(t, ItemStatusPending, item.Status)
	assert.Equal(t, "42", item.Key())

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	item.MarkInFlight(start)
	assert.Equal(t, ItemStatusInFlight, item.Status)
	assert.Equal(t, 1, item.Attempt)
	require.NotNil(t, item.FetchStartedAt)
	assert.Nil(t, item.FetchEndedAt)

	item.Attributes = []Attribute{{TraitType: "Eyes", Value: "laser"}}
	item.TraitCount = 1
	item.Finish(ItemStatusDone, start.Add(time.Second))
	assert.True(t, item.Status.Terminal())
	assert.Len(t, item.Attributes, 1)
	require.NotNil(t, item.FetchEndedAt)

	// A retry starts a new attempt.
	item.MarkInFlight(start.Add(time.Minute))
	assert.Equal(t, 2, item.Attempt)
	assert.Nil(t, item.FetchEndedAt)
}

func TestItem_FinishClearsNonDone(t *testing.T) {
	item := NewItem(1, "u")
	item.Attributes = []Attribute{{TraitType: "Eyes", Value: "laser"}}
	item.SpecialAttributes = []Attribute{{TraitType: "Boost", Value: "5", DisplayType: "boost_number"}}
	item.TraitCount = 1
	item.Scores = &Scores{}

	item.Finish(ItemStatusError, time.Now())

	assert.False(t, item.Status.Terminal())
	assert.Nil(t, item.Attributes)
	assert.Nil(t, item.SpecialAttributes)
	assert.Zero(t, item.TraitCount)
	assert.Nil(t, item.Scores)
}

func TestItem_HasTraitType(t *testing.T) {
	item := &Item{Attributes: []Attribute{{TraitType: "Eyes", Value: "laser"}, {TraitType: "Hat", Value: NoneValue}}}

	assert.True(t, item.HasTraitType("Eyes"))
	assert.True(t, item.HasTraitType("Hat"))
	assert.False(t, item.HasTraitType("Mouth"))
	assert.True(t, item.Attributes[1].IsNone())
}

func TestParseScoreKey(t *testing.T) {
	for _, k := range ScoreKeys {
		got, err := ParseScoreKey(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseScoreKey("rarityScore")
	assert.Error(t, err)
}

func TestScores_Primary(t *testing.T) {
	s := &Scores{
		Rarity:                Score{Value: 1},
		RarityNormalized:      Score{Value: 2},
		RarityCount:           Score{Value: 3},
		RarityCountNormalized: Score{Value: 4},
	}

	for i, k := range ScoreKeys {
		s.Key = k
		assert.InDelta(t, float64(i+1), s.Primary().Value, 1e-9, k)
	}

	s.Key = "bogus"
	assert.Nil(t, s.Get(s.Key))
	assert.InDelta(t, 1.0, s.Primary().Value, 1e-9)
}

func TestProgress_Resolved(t *testing.T) {
	p := Progress{Total: 10, Done: 5, Skipped: 2, Errored: 1}
	assert.Equal(t, 8, p.Resolved())
}
