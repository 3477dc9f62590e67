package store

import (
	"context"
	"fmt"

	"github.com/revealrank/revealrank/internal/domain"
)

// SaveItems writes items of project in batches.
func (s *Store) SaveItems(ctx context.Context, project string, items []*domain.Item) error {
	w := s.NewBatchWriter(project, 1000)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			w.Cancel()
			return err
		}
		if err := w.PutItem(ctx, item); err != nil {
			w.Cancel()
			return fmt.Errorf("save item %d: %w", item.ID, err)
		}
	}
	return w.Flush(ctx)
}

// GetItem returns one item of project.
func (s *Store) GetItem(_ context.Context, project string, id int) (*domain.Item, error) {
	key := buildKey(itemPrefix, project, itemSuffix(id))
	defer releaseKey(key)

	var item domain.Item
	if err := s.get(key, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns every stored item of project ordered by ID.
func (s *Store) ListItems(ctx context.Context, project string) ([]*domain.Item, error) {
	var items []*domain.Item
	err := scan(s, projectScope(itemPrefix, project), func(item *domain.Item) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}
