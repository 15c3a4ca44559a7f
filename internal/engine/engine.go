// Package engine implements the Smart-Wait Engine's control loop: the
// scheduler that owns the set of in-flight wait jobs, drives each one's
// capture/evaluate/decide cycle, enforces timeouts, and emits exactly-once
// terminal notifications.
//
// A single struct holds a guarded map of active jobs plus the capability
// seams it depends on. Start recovers from persistence before entering
// the scheduler loop; Stop ends the loop and waits for the tick in
// progress, including the evaluations it fanned out, to finish. Stop does
// not reject later control calls and does not close the Store, which
// stays with the caller.
// Every job is either watching or already gone — no separate queue to
// drain, since evaluation is fanned out per tick rather than pulled off a
// fixed worker pool.
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chuliyu/smart-wait/internal/capture"
	"github.com/chuliyu/smart-wait/internal/capturelock"
	"github.com/chuliyu/smart-wait/internal/diffgate"
	"github.com/chuliyu/smart-wait/internal/notify"
	"github.com/chuliyu/smart-wait/internal/store"
	"github.com/chuliyu/smart-wait/internal/tasksink"
	"github.com/chuliyu/smart-wait/internal/vision"
	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// Deps bundles the engine's inbound capability seams (capture, vision,
// notify, task sink) plus its persistence and observability seams.
type Deps struct {
	Capture  capture.Func
	Vision   vision.Adapter
	Notifier notify.Notifier
	Sink     tasksink.Sink
	Store    *store.Store
	Gate     *diffgate.Gate
	Metrics  MetricsRecorder
	Logger   *log.Logger
}

// Engine is the top-level scheduler.
type Engine struct {
	cfg   Config
	deps  Deps
	locks *capturelock.Locks

	mu      sync.Mutex
	active  map[waitjob.ID]*scheduledJob
	heap    jobHeap
	wake    chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger *log.Logger
}

// New constructs an Engine. The caller must call Start before registering
// jobs and Stop to shut down cleanly.
func New(cfg Config, deps Deps) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		locks:  capturelock.New(),
		active: make(map[waitjob.ID]*scheduledJob),
		heap:   jobHeap{},
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: deps.Logger,
	}
}

// Start recovers orphaned jobs from the Store (any job left watching
// from a prior run is marked terminal with status error, never resumed)
// and starts the scheduler loop.
func (e *Engine) Start() error {
	if e.deps.Store != nil {
		if err := e.recoverOrphans(); err != nil {
			return fmt.Errorf("engine: recover orphans: %w", err)
		}
	}

	go e.run()
	return nil
}

// Stop signals the scheduler loop to exit and waits for it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	<-e.doneCh
}

func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Register registers a new job and schedules its first check. timeoutS <= 0
// falls back to the engine's configured default timeout.
func (e *Engine) Register(target waitjob.Target, display, criteria string, timeoutS, pollIntervalS float64, taskID string) (waitjob.ID, error) {
	if timeoutS <= 0 {
		timeoutS = e.cfg.DefaultTimeoutS
	}
	if timeoutS <= 0 {
		return "", fmt.Errorf("%w: timeout_s must be positive", waitjob.ErrInvalidArg)
	}
	if criteria == "" {
		return "", fmt.Errorf("%w: criteria must not be empty", waitjob.ErrInvalidArg)
	}
	if display == "" {
		return "", fmt.Errorf("%w: display must not be empty", waitjob.ErrInvalidArg)
	}

	now := time.Now()
	job := &waitjob.Job{
		ID:            waitjob.NewID(),
		Target:        target,
		Display:       display,
		Criteria:      criteria,
		CreatedAt:     now,
		Deadline:      now.Add(time.Duration(timeoutS * float64(time.Second))),
		PollIntervalS: e.cfg.clampPoll(pollIntervalS),
		NextCheckAt:   now,
		Status:        waitjob.StatusWatching,
		TaskID:        taskID,
	}

	if e.deps.Store != nil {
		if err := e.deps.Store.RecordRegistered(job); err != nil {
			return "", fmt.Errorf("engine: persist registration: %w", err)
		}
	}

	sj := &scheduledJob{job: job}

	e.mu.Lock()
	e.active[job.ID] = sj
	heapPush(&e.heap, sj)
	watching := len(e.active)
	e.mu.Unlock()

	e.deps.Metrics.JobRegistered()
	e.deps.Metrics.SetWatching(watching)
	e.signalWake()

	return job.ID, nil
}

// Status reports job state. id == nil returns every
// active job's snapshot.
func (e *Engine) Status(id *waitjob.ID) ([]waitjob.Snapshot, error) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if id != nil {
		sj, ok := e.active[*id]
		if !ok {
			return nil, fmt.Errorf("%w: job %q", ErrNotFound, *id)
		}
		return []waitjob.Snapshot{sj.job.ToSnapshot(now)}, nil
	}

	out := make([]waitjob.Snapshot, 0, len(e.active))
	for _, sj := range e.active {
		out = append(out, sj.job.ToSnapshot(now))
	}
	return out, nil
}

// Update updates a watching job's criteria, deadline, or history in place.
func (e *Engine) Update(id waitjob.ID, criteria *string, timeoutS *float64, note string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sj, ok := e.active[id]
	if !ok {
		return fmt.Errorf("%w: job %q", ErrNotFound, id)
	}
	if sj.job.Status.Terminal() {
		return fmt.Errorf("%w: job %q", ErrAlreadyTerminal, id)
	}

	if criteria != nil && *criteria != "" {
		sj.job.Criteria = *criteria
	}
	if timeoutS != nil {
		sj.job.Deadline = time.Now().Add(time.Duration(*timeoutS * float64(time.Second)))
	}
	if note != "" {
		sj.job.History = append(sj.job.History, note)
	}

	e.signalWake()
	return nil
}

// Cancel transitions
// watching → cancelled atomically and notifies once.
func (e *Engine) Cancel(id waitjob.ID, reason string) error {
	e.mu.Lock()
	sj, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		// Already terminal (or unknown): cancel is idempotent, not an error.
		return nil
	}

	detail := reason
	if detail == "" {
		detail = "(no reason)"
	}
	e.terminalTransition(sj.job, waitjob.StatusCancelled, detail)
	return nil
}
