// Package waitjob defines the core domain model of the Smart-Wait Engine:
// the wait job record, its target, and its status lifecycle.
package waitjob

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidArg is returned by operations whose input fails validation
// (synchronous InvalidArg errors from ParseTarget and register).
var ErrInvalidArg = errors.New("invalid argument")

// ID uniquely identifies a wait job for the lifetime of the engine process.
type ID string

// NewID mints a fresh random job ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// TargetKind distinguishes what a job captures.
type TargetKind int

const (
	TargetScreen TargetKind = iota
	TargetWindow
	TargetPtySession
)

// Target is the tagged capture target of a job: the whole screen, a named
// or numbered window, or a pty session (captured identically to the screen,
// the pty identity is advisory only).
type Target struct {
	Kind TargetKind
	// WindowID is set when Kind == TargetWindow and the target was given as
	// a hex window id (e.g. "window:0x3a00007").
	WindowID string
	// WindowName is set when Kind == TargetWindow and the target was given
	// as a title substring, resolved again at every capture.
	WindowName string
	// PtySessionID is set when Kind == TargetPtySession.
	PtySessionID string
}

func (t Target) String() string {
	switch t.Kind {
	case TargetScreen:
		return "screen"
	case TargetWindow:
		if t.WindowID != "" {
			return "window:" + t.WindowID
		}
		return "window:" + t.WindowName
	case TargetPtySession:
		return "pty:" + t.PtySessionID
	default:
		return "unknown"
	}
}

// ParseTarget parses the target syntax:
//
//	screen            — whole display
//	window:<0x...>     — window by hex id
//	window:<name>      — window by title substring
//	pty:<session-id>   — pty session (advisory; captured as the screen)
func ParseTarget(s string) (Target, error) {
	switch {
	case s == "screen":
		return Target{Kind: TargetScreen}, nil
	case strings.HasPrefix(s, "window:"):
		id := strings.TrimPrefix(s, "window:")
		if id == "" {
			return Target{}, fmt.Errorf("%w: empty window target", ErrInvalidArg)
		}
		if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
			return Target{Kind: TargetWindow, WindowID: id}, nil
		}
		return Target{Kind: TargetWindow, WindowName: id}, nil
	case strings.HasPrefix(s, "pty:"):
		id := strings.TrimPrefix(s, "pty:")
		if id == "" {
			return Target{}, fmt.Errorf("%w: empty pty session id", ErrInvalidArg)
		}
		return Target{Kind: TargetPtySession, PtySessionID: id}, nil
	default:
		return Target{}, fmt.Errorf("%w: unrecognized target %q", ErrInvalidArg, s)
	}
}

// Status is a wait job's lifecycle state.
type Status string

const (
	StatusWatching  Status = "watching"
	StatusResolved  Status = "resolved"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether s is one of the terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusTimeout, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// DiffState is the per-job state the Diff Gate carries across evaluations.
// It is opaque to everything outside internal/diffgate.
type DiffState struct {
	// Width/Height/Pixels hold the previous downsampled grayscale frame.
	// Pixels is nil until the first evaluation.
	Width, Height int
	Pixels        []byte
}

// Job is the in-memory record of a single registered wait.
type Job struct {
	ID       ID
	Target   Target
	Display  string
	Criteria string

	CreatedAt time.Time
	Deadline  time.Time

	PollIntervalS float64
	NextCheckAt   time.Time

	// Status, LastDetail, NextCheckAt, ResolvedAt, Criteria, and evaluating
	// are mutated by more than one engine goroutine over a job's life
	// (the scheduler loop, a per-job evaluation goroutine, Update, Cancel)
	// and are only ever written while holding the engine's active-set
	// lock. Once a job has left the active set they are no longer written,
	// and the terminal notification reads them without the lock.
	Status     Status
	LastDetail string

	Diff DiffState

	TaskID     string
	ResolvedAt time.Time

	// History records update() notes and is surfaced for diagnostics; it is
	// not part of any invariant.
	History []string

	// evaluating is true while a per-job evaluation goroutine is in flight.
	evaluating bool
}

// Evaluating reports whether the job currently has an evaluation in flight.
func (j *Job) Evaluating() bool { return j.evaluating }

// SetEvaluating marks whether the job currently has an evaluation in flight.
func (j *Job) SetEvaluating(v bool) { j.evaluating = v }

// Snapshot is the read-only view returned by Engine.Status.
type Snapshot struct {
	ID         ID
	Status     Status
	ElapsedS   float64
	Target     string
	Criteria   string
	LastDetail string
	TimeoutS   float64
	TaskID     string
}

// ToSnapshot renders a point-in-time read-only view of the job.
func (j *Job) ToSnapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:         j.ID,
		Status:     j.Status,
		ElapsedS:   now.Sub(j.CreatedAt).Seconds(),
		Target:     j.Target.String(),
		Criteria:   j.Criteria,
		LastDetail: j.LastDetail,
		TimeoutS:   j.Deadline.Sub(j.CreatedAt).Seconds(),
		TaskID:     j.TaskID,
	}
}
