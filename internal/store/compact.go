package store

import (
	"encoding/json"
	"fmt"
	"os"
)

// Compactor rewrites a log file at a path to drop Registered records whose
// Terminal has already been seen, bounding file growth for a long-lived
// daemon. It operates directly on a path with no open Store, for use
// against an already-closed log (tests, offline maintenance). A live
// Store compacts itself through (*Store).Compact instead, which
// coordinates the rewrite with its own append lock.
type Compactor struct {
	path string
}

// NewCompactor returns a Compactor for the log at path.
func NewCompactor(path string) *Compactor {
	return &Compactor{path: path}
}

// Compact rewrites the log, keeping every Terminal record and every
// Registered record that has no matching Terminal yet.
func (c *Compactor) Compact() error {
	return compactFile(c.path)
}

// Compact rewrites s's log file in place, keeping every Terminal record
// and every Registered record with no matching Terminal yet. It holds
// s.mu for the duration: append calls made meanwhile block on s.mu before
// they can enqueue into s.batchChan, and s.batchWriter's flush blocks on
// the same lock until
// Compact finishes, so no flush can race the rewrite. Once the rewrite is
// on disk, Compact closes and reopens the store's file handle so queued
// appends land in the compacted file rather than the unlinked original.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return fmt.Errorf("store: closed")
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("store: compact: sync before rewrite: %w", err)
	}
	if err := compactFile(s.path); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("store: compact: close old file: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("store: compact: reopen: %w", err)
	}
	s.file = f
	s.encoder = json.NewEncoder(f)
	return nil
}

func compactFile(path string) error {
	keepTerminal := make(map[string]Record)
	pendingRegistered := make(map[string]Record)
	order := make([]string, 0)

	err := replayFile(path, func(rec Record) error {
		key := string(rec.JobID)
		switch rec.Type {
		case EventRegistered:
			if _, seen := pendingRegistered[key]; !seen {
				if _, done := keepTerminal[key]; !done {
					order = append(order, key)
				}
			}
			pendingRegistered[key] = rec
		case EventTerminal:
			keepTerminal[key] = rec
			delete(pendingRegistered, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: compact: replay: %w", err)
	}

	tmpPath := path + ".compact.tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: compact: create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, key := range order {
		if rec, ok := pendingRegistered[key]; ok {
			if err := enc.Encode(rec); err != nil {
				f.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("store: compact: write pending record: %w", err)
			}
		}
	}
	for _, key := range order {
		if rec, ok := keepTerminal[key]; ok {
			if err := enc.Encode(rec); err != nil {
				f.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("store: compact: write terminal record: %w", err)
			}
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: compact: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: compact: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: compact: rename: %w", err)
	}
	return nil
}
