package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/revealrank/revealrank/internal/domain"
)

// BatchWriter provides efficient bulk item writes using BadgerDB's WriteBatch.
type BatchWriter struct {
	store   *Store
	project string
	batch   *badger.WriteBatch
	maxSize int
	count   int
	total   int
}

// NewBatchWriter creates a batch writer for project that flushes every maxSize items.
func (s *Store) NewBatchWriter(project string, maxSize int) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &BatchWriter{
		store:   s,
		project: project,
		batch:   s.db.NewWriteBatch(),
		maxSize: maxSize,
	}
}

// PutItem adds an item to the batch, flushing when the batch is full.
func (b *BatchWriter) PutItem(ctx context.Context, item *domain.Item) error {
	if item.ID < 0 {
		return fmt.Errorf("%w: negative item id %d", ErrInvalidInput, item.ID)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	// WriteBatch keeps the key until flush; it must not come from the pool.
	key := []byte(itemPrefix + b.project + ":" + itemSuffix(item.ID))
	if err := b.batch.Set(key, data); err != nil {
		return fmt.Errorf("batch set item: %w", err)
	}

	b.count++
	if b.count >= b.maxSize {
		if err := b.Flush(ctx); err != nil {
			return fmt.Errorf("auto flush: %w", err)
		}
	}
	return nil
}

// Flush commits all pending writes in the batch.
func (b *BatchWriter) Flush(ctx context.Context) error {
	if b.count == 0 {
		return nil
	}

	if err := b.batch.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	b.store.logger.LogAttrs(ctx, slog.LevelDebug, "batch flushed",
		slog.String("project", b.project),
		slog.Int("count", b.count),
	)

	b.total += b.count
	b.count = 0
	b.batch = b.store.db.NewWriteBatch()
	return nil
}

// Cancel discards all pending writes in the batch.
func (b *BatchWriter) Cancel() {
	b.batch.Cancel()
	b.count = 0
}

// Count returns the number of items in the current batch.
func (b *BatchWriter) Count() int {
	return b.count
}

// Total returns the number of items flushed so far.
func (b *BatchWriter) Total() int {
	return b.total
}
