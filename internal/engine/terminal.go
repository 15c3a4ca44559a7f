package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chuliyu/smart-wait/internal/tasksink"
	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// terminalTransition is the single serialized path for every terminal
// status. The first call for a given job wins; every subsequent call for
// an already-terminal job is a no-op — this is the sole mechanism
// enforcing at-most-once notification.
func (e *Engine) terminalTransition(job *waitjob.Job, status waitjob.Status, detail string) {
	now := time.Now()

	e.mu.Lock()
	sj, stillActive := e.active[job.ID]
	if !stillActive {
		e.mu.Unlock()
		return
	}
	delete(e.active, job.ID)
	heapRemove(&e.heap, sj)
	job.Status = status
	job.LastDetail = detail
	job.ResolvedAt = now
	watching := len(e.active)
	e.mu.Unlock()

	e.deps.Metrics.SetWatching(watching)
	e.deps.Metrics.ObserveTimeToTerminal(now.Sub(job.CreatedAt))
	switch status {
	case waitjob.StatusResolved:
		e.deps.Metrics.JobResolved()
	case waitjob.StatusTimeout:
		e.deps.Metrics.JobTimeout()
	case waitjob.StatusCancelled:
		e.deps.Metrics.JobCancelled()
	case waitjob.StatusError:
		e.deps.Metrics.JobError()
	}

	if e.deps.Store != nil {
		if err := e.deps.Store.RecordTerminal(job); err != nil {
			e.logger.Printf("engine: store write failed for job %s: %v", job.ID, err)
		}
	}

	// The task sink post and wake notifier dispatch run off the scheduler
	// goroutine: the wake must not block the control loop, and
	// terminalTransition may itself be called directly from the scheduler
	// (the timeout path in tick).
	go e.notifyTerminal(job)
}

func (e *Engine) notifyTerminal(job *waitjob.Job) {
	timeout := e.cfg.WakeNotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if job.TaskID != "" && e.deps.Sink != nil {
		content := fmt.Sprintf("Wait %s: %s → %s", job.Status, job.Criteria, job.LastDetail)
		if err := e.deps.Sink.PostWaitMessage(ctx, job.TaskID, content); err != nil {
			e.logger.Printf("engine: task sink post failed for job %s: %v", job.ID, err)
		}
		update := tasksink.WaitStateUpdate{
			RemoveWaitID:    string(job.ID),
			LastWaitState:   string(job.Status),
			LastWaitEventAt: job.ResolvedAt,
		}
		if err := e.deps.Sink.UpdateWaitState(ctx, job.TaskID, update); err != nil {
			e.logger.Printf("engine: task sink wait-state update failed for job %s: %v", job.ID, err)
		}
	}

	if e.deps.Notifier == nil {
		return
	}
	text := wakeText(e.cfg.WakeStatePrefix, job)
	if err := e.deps.Notifier.Notify(ctx, text); err != nil {
		e.logger.Printf("engine: wake notify failed for job %s: %v", job.ID, err)
	}
}

// wakeText renders the one-line wake summary delivered to the agent.
func wakeText(prefix string, job *waitjob.Job) string {
	switch job.Status {
	case waitjob.StatusResolved:
		return fmt.Sprintf("[%s resolved] %s: %s → %s", prefix, job.ID, job.Criteria, job.LastDetail)
	case waitjob.StatusTimeout:
		timeoutS := job.Deadline.Sub(job.CreatedAt).Seconds()
		return fmt.Sprintf("[%s timeout] %s: %s — Timeout after %gs. Last observation: %s",
			prefix, job.ID, job.Criteria, timeoutS, job.LastDetail)
	case waitjob.StatusCancelled:
		return fmt.Sprintf("[%s cancelled] %s: %s — %s", prefix, job.ID, job.Criteria, job.LastDetail)
	case waitjob.StatusError:
		return fmt.Sprintf("[%s error] %s: %s — %s", prefix, job.ID, job.Criteria, job.LastDetail)
	default:
		return fmt.Sprintf("[%s] %s: %s — %s", prefix, job.ID, job.Criteria, job.LastDetail)
	}
}
