// Package tasksink posts a typed message into an external task's thread
// and updates its wait-state metadata on a terminal transition. The
// engine only ever sees this narrow interface; whatever task-memory
// backend sits behind it is the caller's concern.
package tasksink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MessageType is the fixed message kind posted for every wait outcome, a
// named constant so callers don't have to know the literal.
const MessageType = "wait"

// WaitStateUpdate is the metadata mutation applied to a task on a terminal
// transition.
type WaitStateUpdate struct {
	RemoveWaitID    string    `json:"remove_wait_id"`
	LastWaitState   string    `json:"last_wait_state"`
	LastWaitEventAt time.Time `json:"last_wait_event_at"`
}

// Sink is the capability the engine requires.
type Sink interface {
	PostWaitMessage(ctx context.Context, taskID, content string) error
	UpdateWaitState(ctx context.Context, taskID string, update WaitStateUpdate) error
}

// Noop discards every call — used when a daemon is configured with no
// task-memory backend, and in tests that don't exercise task linkage.
type Noop struct{}

func (Noop) PostWaitMessage(ctx context.Context, taskID, content string) error { return nil }
func (Noop) UpdateWaitState(ctx context.Context, taskID string, update WaitStateUpdate) error {
	return nil
}

// HTTPSink posts to a task-memory service's HTTP API.
type HTTPSink struct {
	Client   *http.Client
	Endpoint string // base URL, e.g. "http://localhost:8900"
}

type postMessageRequest struct {
	TaskID  string `json:"task_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s HTTPSink) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// PostWaitMessage implements Sink.
func (s HTTPSink) PostWaitMessage(ctx context.Context, taskID, content string) error {
	body, err := json.Marshal(postMessageRequest{TaskID: taskID, Type: MessageType, Content: content})
	if err != nil {
		return fmt.Errorf("tasksink: encode message: %w", err)
	}
	return s.post(ctx, "/tasks/"+taskID+"/messages", body)
}

// UpdateWaitState implements Sink.
func (s HTTPSink) UpdateWaitState(ctx context.Context, taskID string, update WaitStateUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("tasksink: encode wait-state update: %w", err)
	}
	return s.post(ctx, "/tasks/"+taskID+"/wait-state", body)
}

func (s HTTPSink) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tasksink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("tasksink: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tasksink: unexpected status %d", resp.StatusCode)
	}
	return nil
}
