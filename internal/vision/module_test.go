package vision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busPkg "github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
	"github.com/argusvision/sentinel/internal/ptzdrv"
)

// stubDetector returns a fixed set of raw detections every call.
type stubDetector struct {
	mu   sync.Mutex
	dets []RawDetection
	err  error
}

func (d *stubDetector) set(dets []RawDetection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dets = dets
}

func (d *stubDetector) Detect(ctx context.Context, frame *model.Frame) ([]RawDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]RawDetection(nil), d.dets...), nil
}

type recordingTransport struct {
	mu    sync.Mutex
	moves []recordedMove
}

type recordedMove struct {
	kind            string
	pan, tilt, zoom float64
}

func (r *recordingTransport) MoveContinuous(ctx context.Context, pan, tilt, zoom float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, recordedMove{"continuous", pan, tilt, zoom})
	return nil
}

func (r *recordingTransport) MoveAbsolute(ctx context.Context, panDeg, tiltDeg, zoom float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, recordedMove{"absolute", panDeg, tiltDeg, zoom})
	return nil
}

func (r *recordingTransport) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, recordedMove{kind: "stop"})
	return nil
}

func (r *recordingTransport) last() recordedMove {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.moves) == 0 {
		return recordedMove{}
	}
	return r.moves[len(r.moves)-1]
}

func newTestSetup(t *testing.T, cfg Config) (*Module, *stubDetector, *busPkg.Bus, *recordingTransport) {
	t.Helper()
	b, err := busPkg.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Shutdown(ctx)
	})

	tr := &recordingTransport{}
	driver := ptzdrv.NewLoggingDriver("test", tr)
	t.Cleanup(func() { driver.Close() })
	arb := ptzdrv.NewArbiter(driver)

	det := &stubDetector{}
	m := New(cfg, det, b, arb)
	t.Cleanup(m.Close)
	return m, det, b, tr
}

// waitForMove blocks until the transport's most recent dispatched move
// satisfies pred; the driver dispatches on its own worker, so assertions
// must not race the enqueue.
func waitForMove(t *testing.T, tr *recordingTransport, pred func(recordedMove) bool) recordedMove {
	t.Helper()
	require.Eventually(t, func() bool {
		return pred(tr.last())
	}, time.Second, 5*time.Millisecond)
	return tr.last()
}

// TestSilentPatrolReachesPatrolAfterDelay covers scenario 1: no detections
// for longer than patrol_return_delay eventually issues a patrol sweep.
func TestSilentPatrolReachesPatrolAfterDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Control.PatrolReturnDelay = 5 * time.Millisecond
	m, det, _, tr := newTestSetup(t, cfg)
	frame := &model.Frame{Width: 640, Height: 480, Pixels: make([]byte, 640*480*3)}

	// Enter Tracking first so a subsequent no-objects tick transitions to
	// Searching rather than staying in the initial Patrol state.
	det.set([]RawDetection{{Box: model.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, ClassName: "person", TrackerID: 1}})
	_, _, err := processOnce(m, frame)
	require.NoError(t, err)

	det.set(nil)
	kind, _, err := processOnce(m, frame)
	require.NoError(t, err)
	assert.Equal(t, model.StateSearching, kind)

	time.Sleep(10 * time.Millisecond)
	kind, _, err = processOnce(m, frame)
	require.NoError(t, err)
	assert.Equal(t, model.StatePatrol, kind)

	last := waitForMove(t, tr, func(mv recordedMove) bool {
		return mv.kind == "continuous" && mv.pan > 0.19
	})
	assert.InDelta(t, 0.2, last.pan, 1e-9)
}

// TestPersonCenteredTracksWithZeroVelocity covers scenario 2.
func TestPersonCenteredTracksWithZeroVelocity(t *testing.T) {
	m, det, b, tr := newTestSetup(t, DefaultConfig())
	frame := &model.Frame{Width: 640, Height: 480, Pixels: make([]byte, 640*480*3)}

	events := make(chan model.Event, 4)
	unsub := b.Subscribe(model.TopicYoloPersonDetected, func(ev model.Event) { events <- ev })
	defer unsub()

	det.set([]RawDetection{{
		Box:       model.Box{X1: 280, Y1: 180, X2: 360, Y2: 300},
		ClassID:   0,
		ClassName: "person",
		TrackerID: 1,
	}})

	res, err := m.Process(context.Background(), frame)
	require.NoError(t, err)
	assert.True(t, res.PersonDetected)
	assert.Equal(t, 1, len(res.Objects))

	last := waitForMove(t, tr, func(mv recordedMove) bool {
		return mv.kind == "continuous"
	})
	assert.InDelta(t, 0, last.pan, 1e-9)
	assert.InDelta(t, 0, last.tilt, 1e-9)

	select {
	case ev := <-events:
		payload, ok := model.DecodePayload[model.YoloPersonDetectedPayload](ev)
		require.True(t, ok)
		assert.Equal(t, 1, payload.Count)
	case <-time.After(time.Second):
		t.Fatal("expected yolo.person_detected event")
	}
}

// TestPersonOffCenterMatchesExpectedPanVelocity covers scenario 3.
func TestPersonOffCenterMatchesExpectedPanVelocity(t *testing.T) {
	m, det, _, tr := newTestSetup(t, DefaultConfig())
	frame := &model.Frame{Width: 640, Height: 480, Pixels: make([]byte, 640*480*3)}

	// center = (500,240): box centered there.
	det.set([]RawDetection{{
		Box:       model.Box{X1: 460, Y1: 180, X2: 540, Y2: 300},
		ClassID:   0,
		ClassName: "person",
		TrackerID: 1,
	}})

	_, err := m.Process(context.Background(), frame)
	require.NoError(t, err)

	last := waitForMove(t, tr, func(mv recordedMove) bool {
		return mv.kind == "continuous"
	})
	assert.InDelta(t, 0.225, last.pan, 1e-6)
	assert.InDelta(t, 0, last.tilt, 1e-9)
}

func TestDetectorErrorLeavesStateUnchanged(t *testing.T) {
	m, det, _, _ := newTestSetup(t, DefaultConfig())
	frame := &model.Frame{Width: 640, Height: 480, Pixels: make([]byte, 640*480*3)}

	det.set([]RawDetection{{Box: model.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, ClassName: "person", TrackerID: 1}})
	m.Process(context.Background(), frame)
	require.Equal(t, model.StateTracking, m.sm.State().Kind)

	det.err = assertError{}
	res, err := m.Process(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.Equal(t, model.StateTracking, m.sm.State().Kind, "a detector failure must not disturb the state machine")
}

type assertError struct{}

func (assertError) Error() string { return "detector failure" }

func processOnce(m *Module, frame *model.Frame) (model.TrackStateKind, *model.DetectedObject, error) {
	res, err := m.Process(context.Background(), frame)
	if err != nil {
		return 0, nil, err
	}
	kind := m.sm.State().Kind
	return kind, res.Target, nil
}
