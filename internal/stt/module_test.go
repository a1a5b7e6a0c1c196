package stt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
)

// scriptedRecognizer replays a fixed sequence of Listen results, blocking
// briefly between them to behave like a real recognizer loop.
type scriptedRecognizer struct {
	mu      sync.Mutex
	calls   []func() (string, time.Duration, error)
	idx     int
	ambient int
}

func (s *scriptedRecognizer) AdjustForAmbientNoise(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambient++
	return nil
}

func (s *scriptedRecognizer) Listen(ctx context.Context, wait, limit time.Duration) (string, time.Duration, error) {
	s.mu.Lock()
	i := s.idx
	if i >= len(s.calls) {
		s.idx++
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return "", 0, ErrTimeout
	}
	s.idx++
	fn := s.calls[i]
	s.mu.Unlock()
	return fn()
}

type fixedDOA struct{ v *float64 }

func (f fixedDOA) LastDOASector() *float64 { return f.v }

func TestModule_PublishesRecognizedText(t *testing.T) {
	b, err := bus.New()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	recognized := make(chan model.SttTextRecognizedPayload, 1)
	b.Subscribe(model.TopicSttTextRecognized, func(ev model.Event) {
		if payload, ok := model.DecodePayload[model.SttTextRecognizedPayload](ev); ok {
			recognized <- payload
		}
	})

	rec := &scriptedRecognizer{calls: []func() (string, time.Duration, error){
		func() (string, time.Duration, error) { return "help there is a fire", 2 * time.Second, nil },
	}}
	angle := 90.0
	m := New(DefaultConfig(), rec, b, fixedDOA{&angle})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Shutdown()

	select {
	case p := <-recognized:
		assert.Equal(t, "help there is a fire", p.Text)
		require.NotNil(t, p.DOAAngle)
		assert.Equal(t, 90.0, *p.DOAAngle)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stt.text_recognized")
	}
}

func TestModule_RejectsShortRecordingsAsNoise(t *testing.T) {
	b, err := bus.New()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	var count int32
	var mu sync.Mutex
	b.Subscribe(model.TopicSttTextRecognized, func(ev model.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	rec := &scriptedRecognizer{calls: []func() (string, time.Duration, error){
		func() (string, time.Duration, error) { return "um", 100 * time.Millisecond, nil },
		func() (string, time.Duration, error) { return "real phrase", 1 * time.Second, nil },
	}}
	m := New(DefaultConfig(), rec, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Shutdown()

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	got := count
	mu.Unlock()
	assert.Equal(t, int32(1), got, "short recording must be dropped as noise")
}

func TestModule_UnavailableWithoutRecognizer(t *testing.T) {
	m := New(DefaultConfig(), nil, nil, nil)
	assert.False(t, m.Available())
	m.Start(context.Background())
	m.Shutdown() // must not hang
}
