// Package vision defines the vision model adapter seam (a single
// "evaluate(frame_bytes, condition) → reply_text | Error") and an HTTP
// client implementation for a remote or local vision-model server.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Adapter is the capability the engine requires. Implementations must be
// safe for concurrent use — the engine may invoke Evaluate for many jobs
// in parallel across jobs.
type Adapter interface {
	Evaluate(ctx context.Context, frame []byte, condition string) (string, error)
}

// HTTPAdapter talks JSON-over-HTTP to a vision-model server: POST a
// base64-encoded frame and the condition string, get back free-form reply
// text for the Verdict Parser to interpret.
type HTTPAdapter struct {
	Client   *http.Client
	Endpoint string

	// MaxElapsed bounds the cenkalti/backoff retry loop around one
	// Evaluate call; a zero value keeps the library's default cap
	// (backoff.DefaultMaxElapsedTime, 15 minutes). The caller's ctx also
	// bounds total wall time.
	MaxElapsed time.Duration
}

type evaluateRequest struct {
	FrameJPEGBase64 string `json:"frame_jpeg_base64"`
	Condition       string `json:"condition"`
}

type evaluateResponse struct {
	Reply string `json:"reply"`
}

// Evaluate implements Adapter. Network/HTTP failures are retried with
// exponential backoff inside the call (grounded on thediveo-whalewatcher's
// watcher.Watch, which wraps its engine-client calls in the same
// cenkalti/backoff library) — a vision call
// network error is "retried next tick" at the engine level, so this
// in-call retry only absorbs sub-tick blips; it never masks a genuine
// timeout, since ctx still governs the outer deadline.
func (a HTTPAdapter) Evaluate(ctx context.Context, frame []byte, condition string) (string, error) {
	reqBody, err := json.Marshal(evaluateRequest{
		FrameJPEGBase64: base64.StdEncoding.EncodeToString(frame),
		Condition:       condition,
	})
	if err != nil {
		return "", fmt.Errorf("vision: encode request: %w", err)
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if a.MaxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = a.MaxElapsed
		bo = backoff.WithContext(eb, ctx)
	}

	var reply string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("vision: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("vision: request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("vision: read response: %w", err)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("vision: server error %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("vision: client error %d: %s", resp.StatusCode, string(body)))
		}

		var parsed evaluateResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("vision: decode response: %w", err))
		}
		reply = parsed.Reply
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return reply, nil
}
