// Package cache implements the append-only subcall cache log.
package cache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

// Store implements ports.SubcallCache over a JSONL log. Entries are only
// ever appended; the in-memory index is rebuilt at load time with
// last-write-wins semantics per request hash.
type Store struct {
	path  string
	mu    sync.RWMutex
	index map[string]domain.CacheEntry
}

var _ ports.SubcallCache = (*Store)(nil)

// NewStore opens (or lazily creates) the cache log at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  filepath.Clean(path),
		index: make(map[string]domain.CacheEntry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path) //nolint:gosec // Path is cleaned and provided by trusted caller
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return domain.Annotate(domain.ErrCacheReadFailed, "path", s.path)
	}
	defer f.Close() //nolint:errcheck // Read-only close in defer

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return zerr.Wrap(err, "failed to decode cache record")
		}
		// Last write wins for a repeated key.
		s.index[entry.RequestHash] = entry
	}
	if err := scanner.Err(); err != nil {
		return zerr.Wrap(err, "failed to scan cache log")
	}
	return nil
}

// Get returns the entry for the given request hash.
func (s *Store) Get(requestHash string) (*domain.CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.index[requestHash]
	if !ok {
		return nil, false
	}
	return &entry, true
}

// Put appends the entry to the log and updates the index. Existing log
// lines are never rewritten.
func (s *Store) Put(entry domain.CacheEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal cache record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return domain.Annotate(domain.ErrCacheWriteFailed, "path", s.path)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return domain.Annotate(domain.ErrCacheWriteFailed, "path", s.path)
	}
	defer f.Close() //nolint:errcheck // Flushed by the write below

	if _, err := f.Write(append(line, '\n')); err != nil {
		return domain.Annotate(domain.ErrCacheWriteFailed, "path", s.path)
	}

	s.index[entry.RequestHash] = entry
	return nil
}

// Len returns the number of distinct request hashes in the index.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}
