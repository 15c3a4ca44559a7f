package engine

import (
	"fmt"
	"time"

	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// orphanDetail is the fixed detail text recorded for any job found
// active at a prior crash.
const orphanDetail = "daemon restarted while watching"

// recoverOrphans marks every job the Store shows as registered without a
// matching terminal record as error with a fixed detail. No wake is
// emitted for these: the prior process is gone, nothing is listening.
//
// This deliberately bypasses terminalTransition: there is no in-memory
// job in the active set to remove, and the notify/task-sink dispatch
// terminalTransition spawns must never run for these records.
func (e *Engine) recoverOrphans() error {
	orphans, err := e.deps.Store.Recover()
	if err != nil {
		return err
	}

	for _, o := range orphans {
		now := time.Now()
		job := &waitjob.Job{
			ID:         o.JobID,
			Status:     waitjob.StatusError,
			LastDetail: orphanDetail,
			ResolvedAt: now,
			CreatedAt:  now,
			Deadline:   now,
		}
		if err := e.deps.Store.RecordTerminal(job); err != nil {
			e.logger.Printf("engine: failed to record recovery terminal for job %s: %v", o.JobID, err)
			continue
		}
		e.logger.Printf("engine: recovered orphaned job %s (%s): %s", o.JobID, o.Target, orphanDetail)
	}
	return nil
}
