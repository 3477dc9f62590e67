package rarity

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// doneItem builds a completed item from alternating trait type/value pairs.
func doneItem(id int, pairs ...string) *domain.Item {
	item := domain.NewItem(id, fmt.Sprintf("https://x/%d", id))
	item.Status = domain.ItemStatusDone
	item.Image = fmt.Sprintf("https://x/%d.png", id)
	for i := 0; i+1 < len(pairs); i += 2 {
		item.Attributes = append(item.Attributes, domain.Attribute{TraitType: pairs[i], Value: pairs[i+1]})
		if pairs[i+1] != domain.NoneValue {
			item.TraitCount++
		}
	}
	return item
}

func newCollection(t *testing.T, items ...*domain.Item) *Collection {
	t.Helper()
	c := NewCollection("apes", domain.ScoreRarityNormalized, quietLogger())
	for _, item := range items {
		require.NoError(t, c.Ingest(item))
	}
	c.Recompute()
	return c
}

func TestCollection_IngestRejectsMalformed(t *testing.T) {
	c := NewCollection("apes", "", quietLogger())

	noAttrs := doneItem(1)
	assert.ErrorIs(t, c.Ingest(noAttrs), domainerrors.ErrMalformedPayload)

	noImage := doneItem(2, "Hat", "Cap")
	noImage.Image = ""
	assert.ErrorIs(t, c.Ingest(noImage), domainerrors.ErrMalformedPayload)

	blankType := doneItem(3, "Hat", "Cap", " ", "x")
	assert.ErrorIs(t, c.Ingest(blankType), domainerrors.ErrMalformedPayload)

	pending := doneItem(4, "Hat", "Cap")
	pending.Status = domain.ItemStatusPending
	assert.ErrorIs(t, c.Ingest(pending), domainerrors.ErrValidation)

	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.TraitTypes(), "rejected items must not register trait types")
}

func TestCollection_BackfillsMissingTraitTypes(t *testing.T) {
	a := doneItem(1, "Hat", "Cap")
	b := doneItem(2, "Hat", "Crown")
	c := newCollection(t, a, b)

	late := doneItem(3, "Eyes", "Laser")
	require.NoError(t, c.Ingest(late))
	c.Recompute()

	for _, item := range []*domain.Item{a, b, late} {
		assert.True(t, item.HasTraitType("Hat"), "item %d", item.ID)
		assert.True(t, item.HasTraitType("Eyes"), "item %d", item.ID)
		assert.Len(t, item.Attributes, 2)
		assert.Equal(t, 1, item.TraitCount, "backfilled values never count as traits")
	}
	assert.Equal(t, domain.NoneValue, a.Attributes[1].Value)
	assert.True(t, a.Attributes[1].Backfilled)

	eyes := c.TraitTable("Eyes")
	require.Len(t, eyes, 2)
	// Hat has {Cap, Crown, none} and Eyes {Laser, none}: 2.5 values per type.
	want := domain.TraitValueStat{TraitType: "Eyes", Value: "Laser", Count: 1, Frequency: 1.0 / 3, Rarity: 3, RarityNormalized: 3 * 2.5 / 2}
	assert.Equal(t, roundStat(want), roundStat(eyes[0]))
	assert.Equal(t, 2, eyes[1].Count)
}

func roundStat(s domain.TraitValueStat) domain.TraitValueStat {
	r := func(f float64) float64 { return math.Round(f*1e9) / 1e9 }
	s.Frequency = r(s.Frequency)
	s.Rarity = r(s.Rarity)
	s.RarityNormalized = r(s.RarityNormalized)
	return s
}

func TestCollection_NormalizationCancelsCardinality(t *testing.T) {
	var items []*domain.Item
	for i := range 100 {
		items = append(items, doneItem(i,
			"A", fmt.Sprintf("a%d", i%2),
			"B", fmt.Sprintf("b%d", i%10),
		))
	}
	c := newCollection(t, items...)

	avg := c.AvgValuesPerTraitType()
	assert.InDelta(t, 6.0, avg, 1e-9)

	for traitType, k := range map[string]int{"A": 2, "B": 10} {
		table := c.TraitTable(traitType)
		require.Len(t, table, k)
		var sum float64
		for _, v := range table {
			sum += v.RarityNormalized
		}
		assert.InDelta(t, float64(k)*avg, sum, 1e-9, traitType)
	}

	// Every item is equally rare under normalization.
	for _, item := range items {
		assert.InDelta(t, 12.0, item.Scores.RarityNormalized.Value, 1e-9)
		assert.Equal(t, 1, item.Scores.RarityNormalized.Rank)
		assert.Nil(t, item.Scores.RarityNormalized.Outlier, "zero IQR leaves outlier undefined")
	}
}

func TestCollection_TieRanksUseCompetitionRanking(t *testing.T) {
	c := newCollection(t,
		doneItem(1, "Hat", "Cap"),
		doneItem(2, "Hat", "Cap"),
		doneItem(3, "Hat", "Cap"),
		doneItem(4, "Hat", "Crown"),
		doneItem(5, "Hat", "Beanie"),
		doneItem(6, "Hat", "Beanie"),
	)

	ranks := map[int]int{}
	for _, item := range c.Items() {
		ranks[item.ID] = item.Scores.Rarity.Rank
	}
	// Crown (1/6) > Beanie (2/6) > Cap (3/6).
	assert.Equal(t, map[int]int{4: 1, 5: 2, 6: 2, 1: 4, 2: 4, 3: 4}, ranks)

	items := c.Items()
	assert.Equal(t, []int{4, 5, 6, 1, 2, 3}, ids(items))
}

func ids(items []*domain.Item) []int {
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestCollection_TraitCountVariants(t *testing.T) {
	c := newCollection(t,
		doneItem(1, "Hat", "Cap", "Eyes", "Laser"),
		doneItem(2, "Hat", "Cap", "Eyes", domain.NoneValue),
		doneItem(3, "Hat", "Cap", "Eyes", domain.NoneValue),
		doneItem(4, "Hat", "Cap", "Eyes", domain.NoneValue),
	)

	counts := c.TraitCountTable()
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[0].TraitCount)
	assert.Equal(t, 3, counts[0].Count)
	assert.Equal(t, 2, counts[1].TraitCount)
	assert.InDelta(t, 4.0, counts[1].Rarity, 1e-9)

	item, ok := c.Item(1)
	require.True(t, ok)
	s := item.Scores
	assert.InDelta(t, s.Rarity.Value+counts[1].Rarity, s.RarityCount.Value, 1e-9)
	assert.InDelta(t, s.RarityNormalized.Value+counts[1].RarityNormalized, s.RarityCountNormalized.Value, 1e-9)
	assert.Equal(t, domain.ScoreRarityNormalized, s.Key)
	assert.Equal(t, s.RarityNormalized, s.Primary())
}

func TestCollection_RecomputeIsOrderIndependent(t *testing.T) {
	build := func(order []int) map[int]domain.Scores {
		rng := rand.New(rand.NewPCG(7, 7))
		items := make(map[int]*domain.Item)
		for id := range 40 {
			items[id] = doneItem(id,
				"Hat", fmt.Sprintf("h%d", rng.IntN(4)),
				"Eyes", fmt.Sprintf("e%d", rng.IntN(7)),
			)
		}
		c := NewCollection("apes", domain.ScoreRarity, quietLogger())
		for _, id := range order {
			require.NoError(t, c.Ingest(items[id]))
			if id%9 == 0 {
				c.Recompute()
			}
		}
		c.Recompute()
		c.Recompute()

		out := map[int]domain.Scores{}
		for id, item := range items {
			out[id] = *item.Scores
		}
		return out
	}

	forward := make([]int, 40)
	for i := range forward {
		forward[i] = i
	}
	reversed := make([]int, 40)
	for i := range reversed {
		reversed[i] = 39 - i
	}
	assert.Equal(t, build(forward), build(reversed))
}

func TestCollection_DirtyAfterReplace(t *testing.T) {
	c := newCollection(t, doneItem(1, "Hat", "Cap"), doneItem(2, "Hat", "Crown"))
	assert.False(t, c.Dirty())

	// Same ID, new trait value: the item count is unchanged but tables are stale.
	require.NoError(t, c.Ingest(doneItem(2, "Hat", "Cap")))
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Dirty())

	c.Recompute()
	assert.False(t, c.Dirty())
	table := c.TraitTable("Hat")
	require.Len(t, table, 1)
	assert.Equal(t, "Cap", table[0].Value)
	assert.Equal(t, 2, table[0].Count)

	// Rejected items leave the collection clean.
	assert.Error(t, c.Ingest(&domain.Item{ID: 3, Status: domain.ItemStatusDone}))
	assert.False(t, c.Dirty())
}

func TestCollection_EmptyRecompute(t *testing.T) {
	c := NewCollection("apes", domain.ScoreRarity, quietLogger())
	c.Recompute()
	assert.Empty(t, c.Items())
	assert.Empty(t, c.TraitCountTable())
	assert.Nil(t, c.TraitTable("Hat"))
}

func TestCollection_EndToEnd(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	valueSets := map[string][]string{
		"Background": {"Blue", "Red", "Green", "Gold"},
		"Hat":        {"Cap", "Crown", "Beanie", "Halo", "Fez", domain.NoneValue},
		"Eyes":       {"Laser", "Sleepy", "Wide"},
		"Mouth":      {"Grin", "Pipe"},
		"Earring":    {"Gold", "Silver", "Diamond", "Pearl", "Hoop"},
	}
	types := []string{"Background", "Hat", "Eyes", "Mouth", "Earring"}

	c := NewCollection("apes", domain.ScoreRarityNormalized, quietLogger())
	for id := 1; id <= 500; id++ {
		var pairs []string
		for _, i := range rng.Perm(len(types))[:3] {
			set := valueSets[types[i]]
			pairs = append(pairs, types[i], set[rng.IntN(len(set))])
		}
		if id == 250 {
			// A one-of-one value.
			pairs = []string{"Hat", "Golden Halo", "Eyes", "Laser", "Mouth", "Grin"}
		}
		require.NoError(t, c.Ingest(doneItem(id, pairs...)))
	}
	c.Recompute()
	require.Equal(t, 500, c.Len())

	for _, traitType := range c.TraitTypes() {
		total := 0
		for _, v := range c.TraitTable(traitType) {
			total += v.Count
		}
		assert.Equal(t, 500, total, traitType)
	}

	var maxAttr float64
	for _, table := range c.TraitTables() {
		for _, v := range table {
			maxAttr = math.Max(maxAttr, v.RarityNormalized)
		}
	}

	items := c.Items()
	top := items[0]
	assert.Equal(t, 1, top.Scores.RarityNormalized.Rank)
	assert.Equal(t, 250, top.ID)
	hasMax := false
	for _, a := range top.Attributes {
		for _, v := range c.TraitTable(a.TraitType) {
			if v.Value == a.Value && v.RarityNormalized == maxAttr {
				hasMax = true
			}
		}
	}
	assert.True(t, hasMax, "top item should carry the rarest normalized attribute")

	for _, key := range domain.ScoreKeys {
		prevValue := math.Inf(1)
		prevPct := 0.0
		ordered := append([]*domain.Item(nil), items...)
		sortByScore(ordered, key)
		for i, item := range ordered {
			s := item.Scores.Get(key)
			assert.Greater(t, s.RankPct, 0.0)
			assert.LessOrEqual(t, s.RankPct, 1.0)
			assert.GreaterOrEqual(t, s.RankPct, prevPct, "rankPct must not decrease as score decreases")
			if i > 0 && s.Value == prevValue {
				assert.Equal(t, ordered[i-1].Scores.Get(key).Rank, s.Rank)
			} else {
				assert.Equal(t, i+1, s.Rank)
			}
			prevValue, prevPct = s.Value, s.RankPct
		}
	}
}

func sortByScore(items []*domain.Item, key domain.ScoreKey) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Scores.Get(key).Value > items[j-1].Scores.Get(key).Value; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
