package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "badger"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func scoredItem(id int, value string) *domain.Item {
	item := domain.NewItem(id, "https://x/"+value)
	item.Status = domain.ItemStatusDone
	item.Image = "img"
	item.Attributes = []domain.Attribute{{TraitType: "Hat", Value: value}}
	item.TraitCount = 1
	item.Scores = &domain.Scores{Rarity: domain.Score{Value: 2, Rank: 1, RankPct: 0.5}, Key: domain.ScoreRarity}
	return item
}

func TestStore_Items(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []*domain.Item{scoredItem(10, "Cap"), scoredItem(2, "Crown"), scoredItem(100, "Fez")}
	require.NoError(t, s.SaveItems(ctx, "apes", items))
	require.NoError(t, s.SaveItems(ctx, "apes-v2", []*domain.Item{scoredItem(1, "Halo")}))

	got, err := s.ListItems(ctx, "apes")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{2, 10, 100}, []int{got[0].ID, got[1].ID, got[2].ID}, "items list in numeric id order")
	assert.Equal(t, items[0].Attributes, got[1].Attributes)
	assert.Equal(t, items[0].Scores, got[1].Scores)

	one, err := s.GetItem(ctx, "apes", 100)
	require.NoError(t, err)
	assert.Equal(t, "Fez", one.Attributes[0].Value)

	_, err = s.GetItem(ctx, "apes", 3)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestStore_SaveItemsOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveItems(ctx, "apes", []*domain.Item{scoredItem(1, "Cap")}))
	require.NoError(t, s.SaveItems(ctx, "apes", []*domain.Item{scoredItem(1, "Crown")}))

	got, err := s.ListItems(ctx, "apes")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Crown", got[0].Attributes[0].Value)
}

func TestStore_RejectsNegativeIDs(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveItems(context.Background(), "apes", []*domain.Item{scoredItem(-1, "Cap")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBatchWriter_AutoFlush(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := s.NewBatchWriter("apes", 2)
	for id := range 5 {
		require.NoError(t, w.PutItem(ctx, scoredItem(id, "Cap")))
	}
	assert.Equal(t, 4, w.Total())
	assert.Equal(t, 1, w.Count())
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, 5, w.Total())

	got, err := s.ListItems(ctx, "apes")
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestStore_Projects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	revealed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := &domain.Project{
		Key:         "apes",
		FirstID:     1,
		LastID:      100,
		URITemplate: "https://x/{id}",
		ScoreKey:    domain.ScoreRarityNormalized,
		RevealedAt:  &revealed,
		Progress:    domain.Progress{Total: 100, Done: 90, Skipped: 4, Errored: 1},
	}
	require.NoError(t, s.SaveProject(ctx, p))
	assert.False(t, p.UpdatedAt.IsZero())

	got, err := s.GetProject(ctx, "apes")
	require.NoError(t, err)
	assert.Equal(t, p.URITemplate, got.URITemplate)
	assert.True(t, revealed.Equal(*got.RevealedAt))
	assert.Equal(t, 95, got.Progress.Resolved())

	_, err = s.GetProject(ctx, "ape")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.SaveProject(ctx, &domain.Project{}), ErrInvalidInput)
}

func TestStore_TraitTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tables := map[string][]domain.TraitValueStat{
		"Hat":  {{TraitType: "Hat", Value: "Cap", Count: 3, Frequency: 0.75, Rarity: 4.0 / 3}},
		"Eyes": {{TraitType: "Eyes", Value: "Laser", Count: 1, Frequency: 0.25, Rarity: 4}},
	}
	counts := []domain.TraitCountStat{{TraitCount: 1, Count: 4, Frequency: 1, Rarity: 1}}
	require.NoError(t, s.SaveTraitTables(ctx, "apes", tables, counts))

	gotTables, gotCounts, err := s.LoadTraitTables(ctx, "apes")
	require.NoError(t, err)
	assert.Equal(t, tables, gotTables)
	assert.Equal(t, counts, gotCounts)

	// A later checkpoint replaces tables that no longer exist.
	require.NoError(t, s.SaveTraitTables(ctx, "apes", map[string][]domain.TraitValueStat{"Hat": tables["Hat"]}, counts))
	gotTables, _, err = s.LoadTraitTables(ctx, "apes")
	require.NoError(t, err)
	assert.Len(t, gotTables, 1)

	empty, noCounts, err := s.LoadTraitTables(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Nil(t, noCounts)
}

func TestStore_DeleteProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProject(ctx, &domain.Project{Key: "apes"}))
	require.NoError(t, s.SaveProject(ctx, &domain.Project{Key: "apes2"}))
	require.NoError(t, s.SaveItems(ctx, "apes", []*domain.Item{scoredItem(1, "Cap")}))
	require.NoError(t, s.SaveItems(ctx, "apes2", []*domain.Item{scoredItem(1, "Cap")}))
	require.NoError(t, s.SaveTraitTables(ctx, "apes", nil, nil))

	require.NoError(t, s.DeleteProject(ctx, "apes"))

	_, err := s.GetProject(ctx, "apes")
	assert.ErrorIs(t, err, ErrNotFound)
	items, err := s.ListItems(ctx, "apes")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.GetProject(ctx, "apes2")
	assert.NoError(t, err)
	items, err = s.ListItems(ctx, "apes2")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStore_InMemory(t *testing.T) {
	s, err := New("", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveItems(context.Background(), "apes", []*domain.Item{scoredItem(1, "Cap")}))
	items, err := s.ListItems(context.Background(), "apes")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
