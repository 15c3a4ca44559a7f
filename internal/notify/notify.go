// Package notify implements bounded-latency, best-effort delivery of a
// terminal wake message back to the hosting agent.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Notifier is the capability the engine requires. Implementations must
// respect ctx's deadline and must not propagate blocking failures: a
// failed notify is logged and swallowed by the caller, never fatal to
// the control loop.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ProcessNotifier delivers a wake by spawning a configured CLI command with
// text as its final argument, kept generic so any host-side notification
// tool can be wired in without a code change.
type ProcessNotifier struct {
	// Command is the executable to invoke, e.g. "agent-notify".
	Command string
	// Args are prepended before the wake text.
	Args []string
}

// Notify implements Notifier.
func (p ProcessNotifier) Notify(ctx context.Context, text string) error {
	args := append(append([]string{}, p.Args...), text)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("notify: %s: %w", p.Command, err)
	}
	return nil
}

// WithTimeout wraps n so that every Notify call is bounded by timeout,
// regardless of the ctx the caller passes in.
func WithTimeout(n Notifier, timeout time.Duration) Notifier {
	return timeoutNotifier{n: n, timeout: timeout}
}

type timeoutNotifier struct {
	n       Notifier
	timeout time.Duration
}

func (t timeoutNotifier) Notify(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.n.Notify(ctx, text)
}
