// Package rarity aggregates completed items into global trait frequency tables and
// derives per-item rarity scores, competition ranks and IQR outlier values.
package rarity

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/metrics"
)

// Collection is the aggregate of completed items of one project. It has a single
// writer and is not safe for concurrent use.
type Collection struct {
	project  string
	scoreKey domain.ScoreKey
	logger   *slog.Logger

	items      map[int]*domain.Item
	traitTypes map[string]struct{}

	traits       map[string]*domain.TraitTypeStat
	counts       map[int]*domain.TraitCountStat
	avgValues    float64
	lastComputed time.Time

	// generation counts accepted ingests; computedAt is its value at the last Recompute.
	generation uint64
	computedAt uint64
}

// NewCollection creates an empty collection ranking by scoreKey.
func NewCollection(project string, scoreKey domain.ScoreKey, logger *slog.Logger) *Collection {
	if scoreKey == "" {
		scoreKey = domain.ScoreRarityNormalized
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection{
		project:    project,
		scoreKey:   scoreKey,
		logger:     logger.With("project", project),
		items:      make(map[int]*domain.Item),
		traitTypes: make(map[string]struct{}),
		traits:     make(map[string]*domain.TraitTypeStat),
		counts:     make(map[int]*domain.TraitCountStat),
	}
}

// Ingest adds a completed item. Items without attributes or image are rejected
// untouched. Re-ingesting an ID replaces the previous record.
func (c *Collection) Ingest(item *domain.Item) error {
	if item == nil {
		return domainerrors.Validation("rarity: nil item")
	}
	if item.Status != domain.ItemStatusDone {
		return domainerrors.Validation("rarity: item " + item.Key() + " is " + string(item.Status))
	}
	if len(item.Attributes) == 0 {
		return domainerrors.MalformedPayloadf("rarity: item %d has no attributes", item.ID)
	}
	if item.Image == "" {
		return domainerrors.MalformedPayloadf("rarity: item %d has no image", item.ID)
	}

	for _, a := range item.Attributes {
		if strings.TrimSpace(a.TraitType) == "" {
			return domainerrors.MalformedPayloadf("rarity: item %d has an attribute without trait type", item.ID)
		}
	}

	for _, a := range item.Attributes {
		if _, known := c.traitTypes[a.TraitType]; !known {
			c.traitTypes[a.TraitType] = struct{}{}
			c.logger.Debug("trait type discovered", "trait_type", a.TraitType, "id", item.ID)
		}
	}
	c.items[item.ID] = item
	c.generation++
	return nil
}

// Len returns the number of ingested items.
func (c *Collection) Len() int {
	return len(c.items)
}

// Dirty reports whether items were ingested or replaced since the last Recompute.
func (c *Collection) Dirty() bool {
	return c.generation != c.computedAt
}

// ScoreKey returns the variant items are ordered by.
func (c *Collection) ScoreKey() domain.ScoreKey {
	return c.scoreKey
}

// Recompute rebuilds every table and score from the full item set. It is
// idempotent and independent of ingestion order.
func (c *Collection) Recompute() {
	start := time.Now()
	n := len(c.items)
	c.traits = make(map[string]*domain.TraitTypeStat, len(c.traitTypes))
	c.counts = make(map[int]*domain.TraitCountStat)
	c.avgValues = 0
	c.computedAt = c.generation
	if n == 0 {
		return
	}

	types := c.TraitTypes()
	items := c.sortedByID()
	for _, item := range items {
		backfill(item, types)
	}

	c.buildTraitTables(items)
	c.buildCountTable(items)
	c.scoreItems(items, types)
	rankItems(items, c.scoreKey)

	c.lastComputed = time.Now()
	metrics.ObserveRecompute(c.project, time.Since(start))
	c.logger.Debug("rarity recomputed",
		"items", n,
		"trait_types", len(types),
		"duration", time.Since(start),
	)
}

// backfill gives item the sentinel value for every known trait type it lacks.
func backfill(item *domain.Item, types []string) {
	for _, t := range types {
		if !item.HasTraitType(t) {
			item.Attributes = append(item.Attributes, domain.Attribute{
				TraitType:  t,
				Value:      domain.NoneValue,
				Backfilled: true,
			})
		}
	}
}

func (c *Collection) buildTraitTables(items []*domain.Item) {
	n := float64(len(items))

	for _, item := range items {
		seen := make(map[string]bool, len(item.Attributes))
		for _, a := range item.Attributes {
			if seen[a.TraitType] {
				continue
			}
			seen[a.TraitType] = true

			tt, ok := c.traits[a.TraitType]
			if !ok {
				tt = &domain.TraitTypeStat{TraitType: a.TraitType, Values: make(map[string]*domain.TraitValueStat)}
				c.traits[a.TraitType] = tt
			}
			v, ok := tt.Values[a.Value]
			if !ok {
				v = &domain.TraitValueStat{TraitType: a.TraitType, Value: a.Value}
				tt.Values[a.Value] = v
			}
			v.Count++
		}
	}

	distinct := 0
	for _, tt := range c.traits {
		distinct += len(tt.Values)
	}
	c.avgValues = float64(distinct) / float64(len(c.traits))

	for _, tt := range c.traits {
		k := float64(len(tt.Values))
		for _, v := range tt.Values {
			v.Frequency = float64(v.Count) / n
			v.Rarity = 1 / v.Frequency
			v.RarityNormalized = v.Rarity * c.avgValues / k
		}
	}
}

func (c *Collection) buildCountTable(items []*domain.Item) {
	n := float64(len(items))
	for _, item := range items {
		s, ok := c.counts[item.TraitCount]
		if !ok {
			s = &domain.TraitCountStat{TraitCount: item.TraitCount}
			c.counts[item.TraitCount] = s
		}
		s.Count++
	}

	k := float64(len(c.counts))
	for _, s := range c.counts {
		s.Frequency = float64(s.Count) / n
		s.Rarity = 1 / s.Frequency
		s.RarityNormalized = s.Rarity * c.avgValues / k
	}
}

// scoreItems sums attribute rarities in trait type order so equal attribute
// sets always produce bit-identical scores.
func (c *Collection) scoreItems(items []*domain.Item, types []string) {
	for _, item := range items {
		values := make(map[string]string, len(item.Attributes))
		for _, a := range item.Attributes {
			if _, ok := values[a.TraitType]; !ok {
				values[a.TraitType] = a.Value
			}
		}

		var raw, normalized float64
		for _, t := range types {
			stat := c.traits[t].Values[values[t]]
			raw += stat.Rarity
			normalized += stat.RarityNormalized
		}
		count := c.counts[item.TraitCount]

		item.Scores = &domain.Scores{
			Rarity:                domain.Score{Value: raw},
			RarityNormalized:      domain.Score{Value: normalized},
			RarityCount:           domain.Score{Value: raw + count.Rarity},
			RarityCountNormalized: domain.Score{Value: normalized + count.RarityNormalized},
			Key:                   c.scoreKey,
		}
	}
}

// TraitTypes returns the known trait types in sorted order.
func (c *Collection) TraitTypes() []string {
	types := make([]string, 0, len(c.traitTypes))
	for t := range c.traitTypes {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// AvgValuesPerTraitType is the mean number of distinct values per trait type as of
// the last Recompute.
func (c *Collection) AvgValuesPerTraitType() float64 {
	return c.avgValues
}

// Items returns the ingested items ordered by rank of the primary score, ties and
// unscored collections by ID.
func (c *Collection) Items() []*domain.Item {
	items := c.sortedByID()
	slices.SortStableFunc(items, func(a, b *domain.Item) int {
		ra, rb := primaryRank(a), primaryRank(b)
		return ra - rb
	})
	return items
}

// Item returns the ingested item with id.
func (c *Collection) Item(id int) (*domain.Item, bool) {
	item, ok := c.items[id]
	return item, ok
}

// TraitTable returns the value stats of traitType sorted by ascending count.
func (c *Collection) TraitTable(traitType string) []domain.TraitValueStat {
	tt, ok := c.traits[traitType]
	if !ok {
		return nil
	}
	out := make([]domain.TraitValueStat, 0, len(tt.Values))
	for _, v := range tt.Values {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b domain.TraitValueStat) int {
		if a.Count != b.Count {
			return a.Count - b.Count
		}
		return strings.Compare(a.Value, b.Value)
	})
	return out
}

// TraitTables returns all value stats grouped by trait type in sorted order.
func (c *Collection) TraitTables() map[string][]domain.TraitValueStat {
	out := make(map[string][]domain.TraitValueStat, len(c.traits))
	for t := range c.traits {
		out[t] = c.TraitTable(t)
	}
	return out
}

// TraitCountTable returns the trait count stats sorted by trait count.
func (c *Collection) TraitCountTable() []domain.TraitCountStat {
	out := make([]domain.TraitCountStat, 0, len(c.counts))
	for _, s := range c.counts {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b domain.TraitCountStat) int {
		return a.TraitCount - b.TraitCount
	})
	return out
}

// LastComputed returns when Recompute last finished with a non-empty collection.
func (c *Collection) LastComputed() time.Time {
	return c.lastComputed
}

func (c *Collection) sortedByID() []*domain.Item {
	items := make([]*domain.Item, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b *domain.Item) int {
		return a.ID - b.ID
	})
	return items
}

func primaryRank(item *domain.Item) int {
	if item.Scores == nil {
		return 0
	}
	return item.Scores.Primary().Rank
}
