// Package store implements a durable, append-only, checksummed,
// batch-flushed record of job registration and terminal outcomes, used
// only for crash-recovery listing — never to resume an in-flight job.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// EventType distinguishes the two durable facts this store records.
type EventType string

const (
	// EventRegistered is written once, synchronously, by Register.
	EventRegistered EventType = "REGISTERED"
	// EventTerminal is written once per job, by the engine's terminal
	// transition right after the job has left the active set, or by
	// orphan recovery at startup.
	EventTerminal EventType = "TERMINAL"
)

// Record is one durable log entry.
type Record struct {
	Seq       uint64        `json:"seq"`
	Type      EventType     `json:"type"`
	JobID     waitjob.ID    `json:"job_id"`
	Timestamp int64         `json:"timestamp_ms"`
	Checksum  uint32        `json:"checksum"`

	// Populated when Type == EventRegistered.
	Target   string  `json:"target,omitempty"`
	Display  string  `json:"display,omitempty"`
	Criteria string  `json:"criteria,omitempty"`
	TimeoutS float64 `json:"timeout_s,omitempty"`
	TaskID   string  `json:"task_id,omitempty"`

	// Populated when Type == EventTerminal.
	Status waitjob.Status `json:"status,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// batchRequest is a single append awaiting its batch's fsync.
type batchRequest struct {
	record Record
	errCh  chan error
}

// Store is a durable append-only log of Record values.
type Store struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	path    string
	seq     uint64

	batchChan     chan batchRequest
	bufferSize    int
	flushInterval time.Duration
	closed        chan struct{}
	wg            sync.WaitGroup
	isClosed      bool
}

// Open creates or reopens a Store at path. bufferSize/flushInterval tune the
// batch-commit behavior; both fall back to sane defaults when zero.
func Open(path string, bufferSize int, flushInterval time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open file: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}

	var lastSeq uint64
	if last, err := lastRecord(path); err == nil && last != nil {
		lastSeq = last.Seq
	}

	s := &Store{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           lastSeq,
		batchChan:     make(chan batchRequest, bufferSize*2),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		closed:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.batchWriter()

	return s, nil
}

// RecordRegistered durably records a job's creation. It must complete
// before Register returns to the caller (persists its creation
// to the Store, and returns").
func (s *Store) RecordRegistered(job *waitjob.Job) error {
	return s.append(Record{
		JobID:    job.ID,
		Type:     EventRegistered,
		Target:   job.Target.String(),
		Display:  job.Display,
		Criteria: job.Criteria,
		TimeoutS: job.Deadline.Sub(job.CreatedAt).Seconds(),
		TaskID:   job.TaskID,
	})
}

// RecordTerminal durably records a job's terminal outcome
// step 3). Store write failure here is logged and swallowed by the caller
// per the failure table — the job still leaves the active set.
func (s *Store) RecordTerminal(job *waitjob.Job) error {
	return s.append(Record{
		JobID:  job.ID,
		Type:   EventTerminal,
		Status: job.Status,
		Detail: job.LastDetail,
	})
}

func (s *Store) append(rec Record) error {
	s.mu.Lock()
	s.seq++
	rec.Seq = s.seq
	s.mu.Unlock()

	rec.Timestamp = time.Now().UnixMilli()
	rec.Checksum = checksum(rec)

	errCh := make(chan error, 1)
	select {
	case s.batchChan <- batchRequest{record: rec, errCh: errCh}:
		return <-errCh
	case <-s.closed:
		return fmt.Errorf("store: closed")
	}
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]batchRequest, 0, s.bufferSize)

	for {
		select {
		case req := <-s.batchChan:
			batch = append(batch, req)
			if len(batch) >= s.bufferSize {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-s.closed:
			if len(batch) > 0 {
				s.flushBatch(batch)
			}
			return
		}
	}
}

func (s *Store) flushBatch(batch []batchRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flushErr error
	for i := range batch {
		if err := s.encoder.Encode(batch[i].record); err != nil {
			flushErr = fmt.Errorf("store: encode record: %w", err)
			break
		}
	}
	if flushErr == nil {
		if err := s.file.Sync(); err != nil {
			flushErr = fmt.Errorf("store: sync: %w", err)
		}
	}

	for i := range batch {
		batch[i].errCh <- flushErr
		close(batch[i].errCh)
	}
}

// Close flushes any pending batch and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	close(s.closed)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Replay reads every record in the log, in order, calling handler for each.
func (s *Store) Replay(handler func(Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replayFile(s.path, handler)
}

func replayFile(path string, handler func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open for replay: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("store: decode record: %w", err)
		}
		if !verifyChecksum(rec) {
			return fmt.Errorf("%w: seq=%d", ErrCorrupted, rec.Seq)
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
}

func lastRecord(path string) (*Record, error) {
	var last *Record
	err := replayFile(path, func(rec Record) error {
		r := rec
		last = &r
		return nil
	})
	return last, err
}
