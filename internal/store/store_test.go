package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chuliyu/smart-wait/internal/waitjob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(id waitjob.ID) *waitjob.Job {
	now := time.Now()
	return &waitjob.Job{
		ID:        id,
		Target:    waitjob.Target{Kind: waitjob.TargetScreen},
		Display:   ":0",
		Criteria:  "a login dialog is visible",
		CreatedAt: now,
		Deadline:  now.Add(30 * time.Second),
		TaskID:    "task-1",
	}
}

func TestStoreRecordAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	s, err := Open(path, 0, 0)
	require.NoError(t, err)

	job := newTestJob("job-1")
	require.NoError(t, s.RecordRegistered(job))

	job.Status = waitjob.StatusResolved
	job.LastDetail = "condition satisfied"
	require.NoError(t, s.RecordTerminal(job))

	require.NoError(t, s.Close())

	var seen []EventType
	err = replayFile(path, func(rec Record) error {
		seen = append(seen, rec.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventRegistered, EventTerminal}, seen)
}

func TestRecoverFindsOrphanedJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	s, err := Open(path, 0, 0)
	require.NoError(t, err)

	resolved := newTestJob("job-resolved")
	require.NoError(t, s.RecordRegistered(resolved))
	resolved.Status = waitjob.StatusResolved
	require.NoError(t, s.RecordTerminal(resolved))

	orphaned := newTestJob("job-orphaned")
	require.NoError(t, s.RecordRegistered(orphaned))

	require.NoError(t, s.Close())

	orphans, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, waitjob.ID("job-orphaned"), orphans[0].JobID)
}

func TestRecoverOnMissingFile(t *testing.T) {
	orphans, err := Recover(filepath.Join(t.TempDir(), "missing.log"))
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestCompactDropsResolvedRegistrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	s, err := Open(path, 0, 0)
	require.NoError(t, err)

	resolved := newTestJob("job-resolved")
	require.NoError(t, s.RecordRegistered(resolved))
	resolved.Status = waitjob.StatusTimeout
	require.NoError(t, s.RecordTerminal(resolved))

	orphaned := newTestJob("job-orphaned")
	require.NoError(t, s.RecordRegistered(orphaned))

	require.NoError(t, s.Close())

	require.NoError(t, NewCompactor(path).Compact())

	var types []EventType
	err = replayFile(path, func(rec Record) error {
		types = append(types, rec.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, types, 2)

	orphans, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, waitjob.ID("job-orphaned"), orphans[0].JobID)
}

func TestStoreDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	s, err := Open(path, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.RecordRegistered(newTestJob("job-1")))
	require.NoError(t, s.Close())

	// Append a structurally valid record with a checksum that doesn't
	// match its contents, simulating a torn or bit-flipped write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(f).Encode(Record{
		Seq: 2, JobID: "job-2", Type: EventRegistered, Checksum: 0xdeadbeef,
	}))
	require.NoError(t, f.Close())

	_, err = Recover(path)
	assert.ErrorIs(t, err, ErrCorrupted)
}
