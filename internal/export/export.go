// Package export writes ranked items and trait tables of a project into a SQLite
// database that report generation reads.
package export

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/revealrank/revealrank/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Snapshot is everything exported for one project.
type Snapshot struct {
	Project     *domain.Project
	Items       []*domain.Item
	TraitTables map[string][]domain.TraitValueStat
	TraitCounts []domain.TraitCountStat
}

// Exporter writes snapshots into a SQLite database.
type Exporter struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the export database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Exporter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps foreign key pragmas and transactions on one handle.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (e *Exporter) Close() error {
	return e.db.Close()
}

// Write replaces the project's exported rows with snap in one transaction.
func (e *Exporter) Write(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.Project == nil || snap.Project.Key == "" {
		return fmt.Errorf("export: snapshot without project")
	}
	p := snap.Project
	start := time.Now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Cascades to items, attributes and tables.
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE key = ?`, p.Key); err != nil {
		return fmt.Errorf("clear project: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (
			key, first_id, last_id, uri_template, score_key, revealed_at,
			total, done, skipped, errored, exported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Key, p.FirstID, p.LastID, p.URITemplate, string(p.ScoreKey), nullTime(p.RevealedAt),
		p.Progress.Total, p.Progress.Done, p.Progress.Skipped, p.Progress.Errored,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	if err := writeItems(ctx, tx, p.Key, snap.Items); err != nil {
		return err
	}
	if err := writeTraitTables(ctx, tx, p.Key, snap.TraitTables, snap.TraitCounts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	e.logger.Info("export written",
		"project", p.Key,
		"items", len(snap.Items),
		"trait_types", len(snap.TraitTables),
		"duration", time.Since(start),
	)
	return nil
}

func writeItems(ctx context.Context, tx *sql.Tx, project string, items []*domain.Item) error {
	itemStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (
			project, id, name, image, fetch_uri, trait_count, price,
			score, rank, rank_pct, outlier,
			rarity, rarity_normalized, rarity_count, rarity_count_normalized
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare items: %w", err)
	}
	defer itemStmt.Close()

	attrStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_attributes (project, item_id, trait_type, value, special, backfilled, display_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attributes: %w", err)
	}
	defer attrStmt.Close()

	for _, item := range items {
		if item.Scores == nil {
			continue
		}
		primary := item.Scores.Primary()
		_, err := itemStmt.ExecContext(ctx,
			project, item.ID, item.Name, item.Image, item.FetchURI, item.TraitCount, nullFloat(item.Price),
			primary.Value, primary.Rank, primary.RankPct, nullFloat(primary.Outlier),
			item.Scores.Rarity.Value, item.Scores.RarityNormalized.Value,
			item.Scores.RarityCount.Value, item.Scores.RarityCountNormalized.Value,
		)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", item.ID, err)
		}

		for _, a := range item.Attributes {
			if _, err := attrStmt.ExecContext(ctx, project, item.ID, a.TraitType, a.Value, false, a.Backfilled, a.DisplayType); err != nil {
				return fmt.Errorf("insert attribute of %d: %w", item.ID, err)
			}
		}
		for _, a := range item.SpecialAttributes {
			if _, err := attrStmt.ExecContext(ctx, project, item.ID, a.TraitType, a.Value, true, false, a.DisplayType); err != nil {
				return fmt.Errorf("insert special attribute of %d: %w", item.ID, err)
			}
		}
	}
	return nil
}

func writeTraitTables(ctx context.Context, tx *sql.Tx, project string, tables map[string][]domain.TraitValueStat, counts []domain.TraitCountStat) error {
	for traitType, values := range tables {
		for _, v := range values {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO trait_values (project, trait_type, value, count, frequency, rarity, rarity_normalized)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				project, traitType, v.Value, v.Count, v.Frequency, v.Rarity, v.RarityNormalized,
			)
			if err != nil {
				return fmt.Errorf("insert trait value %s=%s: %w", traitType, v.Value, err)
			}
		}
	}

	for _, c := range counts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trait_counts (project, trait_count, count, frequency, rarity, rarity_normalized)
			VALUES (?, ?, ?, ?, ?, ?)`,
			project, c.TraitCount, c.Count, c.Frequency, c.Rarity, c.RarityNormalized,
		)
		if err != nil {
			return fmt.Errorf("insert trait count %d: %w", c.TraitCount, err)
		}
	}
	return nil
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
