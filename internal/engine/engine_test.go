package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuliyu/smart-wait/internal/diffgate"
	"github.com/chuliyu/smart-wait/internal/tasksink"
	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// solidFrame renders a tiny 8x8 single-color JPEG that the Diff Gate's
// decoder accepts.
func solidFrame(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// fakeCapture serves frames from a slice in order, repeating the last one
// once exhausted, and counts how many times it was called.
type fakeCapture struct {
	mu     sync.Mutex
	frames [][]byte
	calls  int
}

func (f *fakeCapture) capture(ctx context.Context, display string, target waitjob.Target) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.frames) {
		idx = len(f.frames) - 1
	}
	f.calls++
	return f.frames[idx], nil
}

func (f *fakeCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeVision returns a fixed reply after a configurable number of calls
// have been made to it, "watching" before that.
type fakeVision struct {
	mu          sync.Mutex
	calls       int
	resolveAt   int
	resolveText string
}

func (v *fakeVision) Evaluate(ctx context.Context, frame []byte, condition string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.resolveAt > 0 && v.calls >= v.resolveAt {
		return v.resolveText, nil
	}
	return "still waiting", nil
}

func (v *fakeVision) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

func newTestEngine(t *testing.T, cap *fakeCapture, vis *fakeVision, notif *fakeNotifier) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinPollS = 0.01
	cfg.MaxPollS = 0.05
	eng := New(cfg, Deps{
		Capture:  cap.capture,
		Vision:   vis,
		Notifier: notif,
		Sink:     tasksink.Noop{},
		Gate:     diffgate.New(diffgate.DefaultConfig()),
	})
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)
	return eng
}

func TestEngineResolvesJobAndNotifiesOnce(t *testing.T) {
	cap := &fakeCapture{frames: [][]byte{solidFrame(t, 10), solidFrame(t, 200)}}
	vis := &fakeVision{resolveAt: 2, resolveText: "YES: dialog appeared"}
	notif := &fakeNotifier{}
	eng := newTestEngine(t, cap, vis, notif)

	id, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "a dialog is visible", 5, 0.01, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snaps, err := eng.Status(&id)
		return err == nil && len(snaps) == 1 && snaps[0].Status == waitjob.StatusResolved
	}, 2*time.Second, 5*time.Millisecond)

	snaps, err := eng.Status(&id)
	require.NoError(t, err)
	assert.Equal(t, "dialog appeared", snaps[0].LastDetail)

	// The terminal notify dispatch is asynchronous; give it a moment to run,
	// then confirm it fired exactly once.
	require.Eventually(t, func() bool { return notif.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, notif.count())
}

func TestEngineTimesOutWithoutResolution(t *testing.T) {
	cap := &fakeCapture{frames: [][]byte{solidFrame(t, 50), solidFrame(t, 220)}}
	vis := &fakeVision{}
	notif := &fakeNotifier{}
	eng := newTestEngine(t, cap, vis, notif)

	id, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "never happens", 0.05, 0.01, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snaps, err := eng.Status(&id)
		return err == nil && len(snaps) == 1 && snaps[0].Status == waitjob.StatusTimeout
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return notif.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngineCancelIsIdempotent(t *testing.T) {
	cap := &fakeCapture{frames: [][]byte{solidFrame(t, 10)}}
	vis := &fakeVision{}
	notif := &fakeNotifier{}
	eng := newTestEngine(t, cap, vis, notif)

	id, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "anything", 30, 5, "")
	require.NoError(t, err)

	require.NoError(t, eng.Cancel(id, "no longer needed"))
	require.Eventually(t, func() bool { return notif.count() == 1 }, time.Second, 5*time.Millisecond)

	// A second cancel of the same (now terminal) job is a no-op: no error,
	// no additional notification.
	require.NoError(t, eng.Cancel(id, "again"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, notif.count())

	// Cancelling an id that never existed is equally a no-op.
	require.NoError(t, eng.Cancel(waitjob.NewID(), "ghost"))
}

func TestEngineDiffGateSkipsUnchangedFrames(t *testing.T) {
	frame := solidFrame(t, 128)
	cap := &fakeCapture{frames: [][]byte{frame, frame, frame}}
	vis := &fakeVision{}
	notif := &fakeNotifier{}
	eng := newTestEngine(t, cap, vis, notif)

	_, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "irrelevant", 30, 0.01, "")
	require.NoError(t, err)

	// Let several ticks pass: capture runs each time, but since every
	// frame is identical the gate should only ever have let the first one
	// (establishing the baseline) through to the vision adapter.
	require.Eventually(t, func() bool { return cap.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, vis.callCount())
}

func TestEngineRegisterRejectsInvalidArgs(t *testing.T) {
	eng := newTestEngine(t, &fakeCapture{frames: [][]byte{solidFrame(t, 1)}}, &fakeVision{}, &fakeNotifier{})

	_, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "", 10, 1, "")
	assert.ErrorIs(t, err, waitjob.ErrInvalidArg)

	_, err = eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, "", "criteria", 10, 1, "")
	assert.ErrorIs(t, err, waitjob.ErrInvalidArg)
}

func TestEngineRegisterAppliesDefaultTimeout(t *testing.T) {
	eng := newTestEngine(t, &fakeCapture{frames: [][]byte{solidFrame(t, 1)}}, &fakeVision{}, &fakeNotifier{})

	id, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "criteria", 0, 1, "")
	require.NoError(t, err)

	snaps, err := eng.Status(&id)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, eng.cfg.DefaultTimeoutS, snaps[0].TimeoutS)
}

func TestEngineStatusNotFound(t *testing.T) {
	eng := newTestEngine(t, &fakeCapture{frames: [][]byte{solidFrame(t, 1)}}, &fakeVision{}, &fakeNotifier{})

	unknown := waitjob.NewID()
	_, err := eng.Status(&unknown)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineUpdateRejectsAlreadyTerminal(t *testing.T) {
	cap := &fakeCapture{frames: [][]byte{solidFrame(t, 10)}}
	vis := &fakeVision{}
	notif := &fakeNotifier{}
	eng := newTestEngine(t, cap, vis, notif)

	id, err := eng.Register(waitjob.Target{Kind: waitjob.TargetScreen}, ":0", "anything", 30, 5, "")
	require.NoError(t, err)
	require.NoError(t, eng.Cancel(id, "done"))
	require.Eventually(t, func() bool { return notif.count() == 1 }, time.Second, 5*time.Millisecond)

	newCriteria := "something else"
	err = eng.Update(id, &newCriteria, nil, "")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}
