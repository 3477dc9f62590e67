package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/revealrank/revealrank/internal/domain"
)

type traitTableRecord struct {
	TraitType string                  `json:"trait_type"`
	Values    []domain.TraitValueStat `json:"values"`
}

// SaveTraitTables replaces the trait value and trait count tables of project.
func (s *Store) SaveTraitTables(_ context.Context, project string, tables map[string][]domain.TraitValueStat, counts []domain.TraitCountStat) error {
	scope := projectScope(traitPrefix, project)

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scope
		opts.PrefetchValues = false

		var stale [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete trait table: %w", err)
			}
		}

		for traitType, values := range tables {
			data, err := json.Marshal(traitTableRecord{TraitType: traitType, Values: values})
			if err != nil {
				return fmt.Errorf("marshal trait table %s: %w", traitType, err)
			}
			if err := txn.Set([]byte(traitPrefix+project+":"+traitType), data); err != nil {
				return fmt.Errorf("set trait table %s: %w", traitType, err)
			}
		}

		data, err := json.Marshal(counts)
		if err != nil {
			return fmt.Errorf("marshal trait counts: %w", err)
		}
		return txn.Set(projectScope(traitCountPrefix, project), data)
	})
}

// LoadTraitTables returns the trait value and trait count tables of project.
func (s *Store) LoadTraitTables(_ context.Context, project string) (map[string][]domain.TraitValueStat, []domain.TraitCountStat, error) {
	tables := make(map[string][]domain.TraitValueStat)
	err := scan(s, projectScope(traitPrefix, project), func(rec *traitTableRecord) error {
		tables[rec.TraitType] = rec.Values
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load trait tables: %w", err)
	}

	var counts []domain.TraitCountStat
	if err := s.get(projectScope(traitCountPrefix, project), &counts); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("load trait counts: %w", err)
	}
	return tables, counts, nil
}
