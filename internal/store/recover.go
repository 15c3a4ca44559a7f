package store

import "github.com/chuliyu/smart-wait/internal/waitjob"

// Orphan describes a job the log shows was registered but never reached a
// terminal record — the daemon crashed or was killed while it was active.
type Orphan struct {
	JobID  waitjob.ID
	Target string
}

// Recover replays path and returns every job that was Registered without a
// matching Terminal record. These jobs are never resumed: the caller
// turns each into a synthetic error terminal record with detail "daemon
// restarted while watching" and records it directly, with no wake or
// task-sink dispatch — a job mid capture/vision pipeline at crash time has
// no listener left to notify.
func (s *Store) Recover() ([]Orphan, error) {
	return Recover(s.path)
}

// Recover is the package-level form of (*Store).Recover, usable against a
// log path with no open Store (e.g. before a daemon opens it for
// appending).
func Recover(path string) ([]Orphan, error) {
	pending := make(map[waitjob.ID]string)
	order := make([]waitjob.ID, 0)

	err := replayFile(path, func(rec Record) error {
		switch rec.Type {
		case EventRegistered:
			if _, seen := pending[rec.JobID]; !seen {
				order = append(order, rec.JobID)
			}
			pending[rec.JobID] = rec.Target
		case EventTerminal:
			delete(pending, rec.JobID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	orphans := make([]Orphan, 0, len(pending))
	for _, id := range order {
		if target, ok := pending[id]; ok {
			orphans = append(orphans, Orphan{JobID: id, Target: target})
		}
	}
	return orphans, nil
}
