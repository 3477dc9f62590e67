package store

import (
	"context"
	"fmt"
	"time"

	"github.com/revealrank/revealrank/internal/domain"
)

// SaveProject writes the project record, stamping UpdatedAt.
func (s *Store) SaveProject(_ context.Context, p *domain.Project) error {
	if p.Key == "" {
		return fmt.Errorf("%w: project key is empty", ErrInvalidInput)
	}
	p.UpdatedAt = time.Now().UTC()
	return s.set(projectScope(projectPrefix, p.Key), p)
}

// GetProject returns the project record stored under key.
func (s *Store) GetProject(_ context.Context, key string) (*domain.Project, error) {
	var p domain.Project
	if err := s.get(projectScope(projectPrefix, key), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProject removes the project record with all its items and tables.
func (s *Store) DeleteProject(_ context.Context, key string) error {
	err := s.db.DropPrefix(
		projectScope(projectPrefix, key),
		projectScope(itemPrefix, key),
		projectScope(traitPrefix, key),
		projectScope(traitCountPrefix, key),
	)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", key, err)
	}
	s.logger.Info("project deleted", "project", key)
	return nil
}
