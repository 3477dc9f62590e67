// Package cache keeps fetched metadata payloads keyed by fetch URI for one process run
// and persists them wholesale as snapshots. Read failures degrade to cache misses.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one cached value.
type Entry struct {
	Value    any       `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

type snapshot struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// Store is a key→value map with store timestamps. There is no eviction.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	updatedAt time.Time
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[string]Entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Put stores value under key. With overwrite=false an existing value is kept and
// Put returns false.
func (s *Store) Put(key string, value any, overwrite bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists && !overwrite {
		return false
	}
	now := s.now()
	s.entries[key] = Entry{Value: value, StoredAt: now}
	s.updatedAt = now
	return true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// UpdatedAt returns the time of the last successful Put.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// LoadSnapshot merges a JSON snapshot into the store. Keys already present win.
// On a decode error the store is left unchanged.
func (s *Store) LoadSnapshot(r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var snap snapshot
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("decode cache snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range snap.Entries {
		if _, exists := s.entries[k]; !exists {
			s.entries[k] = e
		}
	}
	if snap.UpdatedAt.After(s.updatedAt) {
		s.updatedAt = snap.UpdatedAt
	}
	return nil
}

// DumpSnapshot writes the whole store as JSON.
func (s *Store) DumpSnapshot(w io.Writer) error {
	s.mu.RLock()
	snap := snapshot{UpdatedAt: s.updatedAt, Entries: make(map[string]Entry, len(s.entries))}
	for k, e := range s.entries {
		snap.Entries[k] = e
	}
	s.mu.RUnlock()

	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	return nil
}

// LoadFile loads a snapshot file; paths ending in .zst are zstd-compressed.
// A missing or corrupt file is logged and treated as an empty cache.
func (s *Store) LoadFile(path string) {
	data, err := os.ReadFile(path) //#nosec G304 -- cache path is operator input
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("cache snapshot unreadable, starting empty", "path", path, "error", err)
		}
		return
	}

	var r io.Reader = bytes.NewReader(data)
	if isCompressed(path) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			s.logger.Warn("cache snapshot decompressor failed, starting empty", "path", path, "error", err)
			return
		}
		defer dec.Close()
		r = dec
	}

	if err := s.LoadSnapshot(r); err != nil {
		s.logger.Warn("cache snapshot corrupt, starting empty", "path", path, "error", err)
		return
	}
	s.logger.Info("cache snapshot loaded", "path", path, "entries", s.Len())
}

// SaveFile writes a snapshot atomically via a temp file in the same directory.
func (s *Store) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.writeTo(tmp, isCompressed(path)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cache snapshot: %w", err)
	}
	return nil
}

func (s *Store) writeTo(w io.Writer, compress bool) error {
	if !compress {
		return s.DumpSnapshot(w)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := s.DumpSnapshot(enc); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush zstd writer: %w", err)
	}
	return nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Registry hands out one Store per project so runs for different projects never
// share a cache namespace.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{stores: make(map[string]*Store), logger: logger}
}

// For returns the store for project, creating it on first use.
func (r *Registry) For(project string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[project]
	if !ok {
		logger := r.logger
		if logger != nil {
			logger = logger.With("cache", project)
		}
		s = New(logger)
		r.stores[project] = s
	}
	return s
}

// Drop forgets project's store; the next For call starts empty.
func (r *Registry) Drop(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, project)
}
