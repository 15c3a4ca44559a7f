// Package capture defines the inbound capture seam the engine consumes
// (capture(display, target) → frame) and a concrete
// implementation backed by an external capture binary.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// Func is the capability the engine requires: read one frame from display
// for target. Implementations must tolerate two concurrent calls on
// different displays but never need to guard against concurrent calls on
// the same display themselves — the engine's Capture Arbiter does that.
type Func func(ctx context.Context, display string, target waitjob.Target) ([]byte, error)

// X11 captures frames by shelling out to an external capture command
// (an xwd/import-style tool), keeping cgo X11 bindings out of this module.
// Capture returns any failure as an error; the engine treats such errors
// as transient and retries on its next check.
type X11 struct {
	// Command is the capture binary, e.g. "import" or "maim". It receives
	// "-display <display>" and, for a named/numbered window, "-window <id>".
	Command string
	// WindowResolver resolves a window-name target to a concrete window id
	// at capture time, resolved fresh on each capture. Required only
	// for Target{Kind: TargetWindow, WindowName: ...}.
	WindowResolver func(ctx context.Context, display, namePart string) (string, error)
	// Timeout bounds a single capture invocation.
	Timeout time.Duration
}

// Capture implements Func.
func (x X11) Capture(ctx context.Context, display string, target waitjob.Target) ([]byte, error) {
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-display", display}

	switch target.Kind {
	case waitjob.TargetScreen, waitjob.TargetPtySession:
		args = append(args, "-root")
	case waitjob.TargetWindow:
		id := target.WindowID
		if id == "" {
			if x.WindowResolver == nil {
				return nil, fmt.Errorf("capture: window name target %q requires a resolver", target.WindowName)
			}
			resolved, err := x.WindowResolver(ctx, display, target.WindowName)
			if err != nil {
				return nil, fmt.Errorf("capture: resolve window %q: %w", target.WindowName, err)
			}
			id = resolved
		}
		args = append(args, "-window", id)
	default:
		return nil, fmt.Errorf("capture: unsupported target kind %v", target.Kind)
	}

	cmd := exec.CommandContext(ctx, x.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("capture: %s: %s", x.Command, msg)
	}

	return stdout.Bytes(), nil
}
