package mic

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busPkg "github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/micdrv"
	"github.com/argusvision/sentinel/internal/model"
	"github.com/argusvision/sentinel/internal/ptzdrv"
)

func TestSectorQuantization(t *testing.T) {
	// round-trip property: sector(sector(theta)) == sector(theta)
	for theta := 0.0; theta < 360; theta += 1 {
		s1 := Sector(theta)
		s2 := Sector(s1)
		assert.Equal(t, s1, s2, "theta=%v", theta)
		assert.Equal(t, 0.0, math.Mod(s1, 30), "sector must be a multiple of 30, got %v", s1)
	}
}

func TestSectorKnownValues(t *testing.T) {
	assert.Equal(t, 90.0, Sector(95))
	assert.Equal(t, 0.0, Sector(0))
	assert.Equal(t, 0.0, Sector(359)) // (359+15)/30 = 12.46 -> floor 12 -> 360 mod 360 = 0
	assert.Equal(t, 30.0, Sector(29))
}

func TestCircularMeanConfidence(t *testing.T) {
	// Tight cluster around 95 degrees -> high confidence.
	tight := []float64{93, 94, 95, 96, 97}
	mean, conf := CircularMean(tight)
	assert.InDelta(t, 95, mean, 1.5)
	assert.Greater(t, conf, 0.95)

	// Uniformly spread -> confidence near zero.
	spread := []float64{0, 36, 72, 108, 144, 180, 216, 252, 288, 324}
	_, conf2 := CircularMean(spread)
	assert.Less(t, conf2, 0.1)
}

func newTestModule(t *testing.T, driver micdrv.Driver) (*Module, *busPkg.Bus, *ptzdrv.Arbiter, *recordingTransport) {
	t.Helper()
	b, err := busPkg.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Shutdown(ctx)
	})

	tr := &recordingTransport{}
	driverOut := ptzdrv.NewLoggingDriver("test", tr)
	t.Cleanup(func() { driverOut.Close() })
	arb := ptzdrv.NewArbiter(driverOut)

	cfg := DefaultConfig()
	cfg.SampleRate = 5 * time.Millisecond
	m := New(cfg, driver, b, arb)
	return m, b, arb, tr
}

type recordingTransport struct{}

func (recordingTransport) MoveContinuous(ctx context.Context, pan, tilt, zoom float64) error {
	return nil
}
func (recordingTransport) MoveAbsolute(ctx context.Context, panDeg, tiltDeg, zoom float64) error {
	return nil
}
func (recordingTransport) Stop(ctx context.Context) error { return nil }

func TestDOASectorChangeEmitsOnce(t *testing.T) {
	driver := micdrv.NewSimDriver(95, 0.5, 20)
	m, b, _, _ := newTestModule(t, driver)

	events := make(chan model.Event, 16)
	unsub := b.Subscribe(model.TopicMicDoaDetected, func(ev model.Event) { events <- ev })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Shutdown()

	select {
	case ev := <-events:
		payload, ok := model.DecodePayload[model.MicDoaDetectedPayload](ev)
		require.True(t, ok)
		assert.Equal(t, 90.0, payload.SectorAngle)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a mic.doa_detected event")
	}

	// Same sector should not repeat for a good while.
	select {
	case ev := <-events:
		t.Fatalf("unexpected duplicate doa_detected event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestZenithEmittedOnLowConfidenceLowGain(t *testing.T) {
	driver := micdrv.NewSimDriver(0, 180, 6) // wide jitter -> low confidence
	m, b, _, _ := newTestModule(t, driver)

	events := make(chan model.Event, 16)
	unsub := b.Subscribe(model.TopicMicZenithDetected, func(ev model.Event) { events <- ev })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Shutdown()

	select {
	case ev := <-events:
		payload, ok := model.DecodePayload[model.MicZenithDetectedPayload](ev)
		require.True(t, ok)
		assert.Less(t, payload.Confidence, 0.4)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a mic.zenith_detected event")
	}
}
