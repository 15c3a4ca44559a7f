package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chuliyu/smart-wait/internal/verdict"
	"github.com/chuliyu/smart-wait/internal/waitjob"
)

const idleSleep = time.Hour

func (e *Engine) run() {
	defer close(e.doneCh)

	timer := time.NewTimer(idleSleep)
	defer timer.Stop()

	for {
		wait := e.nextWait()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-e.stopCh:
			return
		case <-e.wake:
		case <-timer.C:
		}

		e.tick()
	}
}

func (e *Engine) nextWait() time.Duration {
	e.mu.Lock()
	next, ok := e.heap.nextDeadline()
	e.mu.Unlock()

	if !ok {
		return idleSleep
	}
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// tick handles timeout-expired jobs before due jobs, then evaluates all
// due jobs concurrently.
func (e *Engine) tick() {
	now := time.Now()

	e.mu.Lock()
	var timeoutJobs []*waitjob.Job
	var timeoutDetails []string
	timeoutSet := make(map[waitjob.ID]bool)
	for id, sj := range e.active {
		if sj.job.Evaluating() {
			continue
		}
		if sj.job.Status == waitjob.StatusWatching && !sj.job.Deadline.After(now) {
			timeoutJobs = append(timeoutJobs, sj.job)
			timeoutDetails = append(timeoutDetails, sj.job.LastDetail)
			timeoutSet[id] = true
		}
	}

	var dueJobs []*waitjob.Job
	for e.heap.Len() > 0 && !e.heap[0].job.NextCheckAt.After(now) {
		top := e.heap[0]
		heapRemove(&e.heap, top)
		if timeoutSet[top.job.ID] {
			continue
		}
		top.job.SetEvaluating(true)
		dueJobs = append(dueJobs, top.job)
	}
	e.mu.Unlock()

	for i, job := range timeoutJobs {
		e.terminalTransition(job, waitjob.StatusTimeout, timeoutDetails[i])
	}

	if len(dueJobs) == 0 {
		return
	}
	e.evaluateAll(dueJobs)
}

// evaluateAll fans out one evaluation per due job and waits for all of
// them: every due job gets its own goroutine, not a shared queue slot.
func (e *Engine) evaluateAll(jobs []*waitjob.Job) {
	var g errgroup.Group
	for _, job := range jobs {
		job := job
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			e.evaluateOne(job)
			return nil
		})
	}
	// errgroup.Group.Wait's error is never surfaced further: an unexpected
	// panic already became the job's own terminal error inside
	// evaluateOne's recover path below (caught, logged, status set to
	// error).
	_ = g.Wait()
}

// evaluateOne runs one job's capture/diff-gate/vision/verdict sequence.
// It always leaves the job either rescheduled (still watching, requeued
// into the heap) or terminal (removed via terminalTransition).
func (e *Engine) evaluateOne(job *waitjob.Job) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("engine: evaluation panic for job %s: %v", job.ID, r)
			e.terminalTransition(job, waitjob.StatusError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	start := time.Now()
	defer func() {
		e.deps.Metrics.ObserveEvaluation(time.Since(start))
	}()

	ctx := context.Background()

	// Criteria can change underneath a running evaluation (Update takes
	// e.mu too); read it once, under lock, rather than touching
	// job.Criteria directly from this unlocked goroutine.
	e.mu.Lock()
	criteria := job.Criteria
	e.mu.Unlock()

	var frame []byte
	err := e.locks.WithLock(job.Display, func() error {
		var captureErr error
		frame, captureErr = e.deps.Capture(ctx, job.Display, job.Target)
		return captureErr
	})
	if err != nil {
		e.reschedule(job, fmt.Sprintf("capture failed: %v", err))
		return
	}

	changed, err := e.deps.Gate.ShouldEvaluate(&job.Diff, frame)
	if err != nil {
		// A frame the gate couldn't even decode is treated the same as a
		// transient capture failure: retried until timeout, never fatal.
		e.reschedule(job, fmt.Sprintf("capture failed: %v", err))
		return
	}
	if !changed {
		e.reschedule(job, "no visible change")
		return
	}

	e.deps.Metrics.AddVisionInFlight(1)
	reply, err := e.deps.Vision.Evaluate(ctx, frame, criteria)
	e.deps.Metrics.AddVisionInFlight(-1)
	if err != nil {
		e.reschedule(job, fmt.Sprintf("vision call failed: %v", err))
		return
	}

	v := verdict.Parse(reply)
	if v.Resolved {
		e.terminalTransition(job, waitjob.StatusResolved, v.Detail)
		return
	}

	e.reschedule(job, v.Detail)
}

// reschedule records the outcome of a finished evaluation and returns job
// to the heap with a fresh next_check_at, unless it has gone terminal in
// the meantime (cancelled while evaluating, say), in which case its
// terminal detail is kept. detail, evaluating, and next_check_at are all
// set under e.mu, the same lock tick() reads them under.
func (e *Engine) reschedule(job *waitjob.Job, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job.SetEvaluating(false)

	sj, stillActive := e.active[job.ID]
	if !stillActive {
		return
	}
	job.LastDetail = detail
	job.NextCheckAt = time.Now().Add(time.Duration(job.PollIntervalS * float64(time.Second)))
	heapPush(&e.heap, sj)
}
