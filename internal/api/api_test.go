package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuliyu/smart-wait/internal/diffgate"
	"github.com/chuliyu/smart-wait/internal/engine"
	"github.com/chuliyu/smart-wait/internal/tasksink"
	"github.com/chuliyu/smart-wait/internal/waitjob"
)

type stubCapture struct{}

func (stubCapture) capture(ctx context.Context, display string, target waitjob.Target) ([]byte, error) {
	return nil, context.DeadlineExceeded
}

type stubVision struct{}

func (stubVision) Evaluate(ctx context.Context, frame []byte, condition string) (string, error) {
	return "still waiting", nil
}

type stubNotifier struct{}

func (stubNotifier) Notify(ctx context.Context, text string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.MinPollS = 0.05
	cfg.MaxPollS = 1
	eng := engine.New(cfg, engine.Deps{
		Capture:  stubCapture{}.capture,
		Vision:   stubVision{},
		Notifier: stubNotifier{},
		Sink:     tasksink.Noop{},
		Gate:     diffgate.New(diffgate.DefaultConfig()),
	})
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)
	return New(eng)
}

func TestHandleRegisterAndGetStatus(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(registerRequest{
		Target:        "screen",
		Display:       ":0",
		Criteria:      "a login dialog is visible",
		TimeoutS:      30,
		PollIntervalS: 1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/waits", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var created registerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/waits/"+created.ID, nil)
	getRR := httptest.NewRecorder()
	srv.ServeHTTP(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)

	var snap waitjob.Snapshot
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &snap))
	assert.Equal(t, waitjob.ID(created.ID), snap.ID)
	assert.Equal(t, waitjob.StatusWatching, snap.Status)
}

func TestHandleRegisterRejectsInvalidTarget(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(registerRequest{
		Target:   "not-a-real-target",
		Display:  ":0",
		Criteria: "anything",
		TimeoutS: 10,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/waits", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGetStatusUnknownID(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/waits/does-not-exist", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleCancel(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(registerRequest{
		Target: "screen", Display: ":0", Criteria: "x", TimeoutS: 30,
	})
	req := httptest.NewRequest(http.MethodPost, "/waits", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var created registerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	cancelBody, _ := json.Marshal(cancelRequest{Reason: "no longer needed"})
	cancelReq := httptest.NewRequest(http.MethodPost, "/waits/"+created.ID+"/cancel", bytes.NewReader(cancelBody))
	cancelRR := httptest.NewRecorder()
	srv.ServeHTTP(cancelRR, cancelReq)
	assert.Equal(t, http.StatusNoContent, cancelRR.Code)

	require.Eventually(t, func() bool {
		getReq := httptest.NewRequest(http.MethodGet, "/waits/"+created.ID, nil)
		getRR := httptest.NewRecorder()
		srv.ServeHTTP(getRR, getReq)
		if getRR.Code != http.StatusOK {
			return false
		}
		var snap waitjob.Snapshot
		_ = json.Unmarshal(getRR.Body.Bytes(), &snap)
		return snap.Status == waitjob.StatusCancelled
	}, time.Second, 5*time.Millisecond)
}

func TestHandleListStatus(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(registerRequest{Target: "screen", Display: ":0", Criteria: "x", TimeoutS: 30})
	req := httptest.NewRequest(http.MethodPost, "/waits", bytes.NewReader(body))
	srv.ServeHTTP(httptest.NewRecorder(), req)

	listReq := httptest.NewRequest(http.MethodGet, "/waits", nil)
	listRR := httptest.NewRecorder()
	srv.ServeHTTP(listRR, listReq)
	require.Equal(t, http.StatusOK, listRR.Code)

	var snaps []waitjob.Snapshot
	require.NoError(t, json.Unmarshal(listRR.Body.Bytes(), &snaps))
	assert.Len(t, snaps, 1)
}
