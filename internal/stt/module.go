// Package stt implements the speech-to-text module: it listens on a
// background goroutine, transcribes recognized phrases, and publishes
// stt.text_recognized events. A newer utterance is handed off through a
// single mutex-guarded slot — see internal/llm, which consumes it.
package stt

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
)

const ownerName = "stt"

// minPhraseDuration rejects recordings shorter than this as noise.
const minPhraseDuration = 300 * time.Millisecond

// Recognizer is the abstract speech backend boundary. AdjustForAmbientNoise
// is called once at startup; Listen blocks up to waitTimeout for speech to
// start and up to phraseTimeLimit total, returning ErrTimeout if nothing was
// heard, ErrNetwork for a transient recognizer-service failure, or the
// recognized text otherwise.
type Recognizer interface {
	AdjustForAmbientNoise(ctx context.Context, d time.Duration) error
	Listen(ctx context.Context, waitTimeout, phraseTimeLimit time.Duration) (text string, duration time.Duration, err error)
}

// Sentinel errors Listen may return; any other error is treated as a
// generic recognizer failure.
var (
	ErrTimeout = recognizerError("stt: listen timeout")
	ErrNetwork = recognizerError("stt: network error")
)

type recognizerError string

func (e recognizerError) Error() string { return string(e) }

// DOASource supplies the most recently emitted mic.doa_detected sector angle
// so recognized utterances can be tagged with the direction they likely
// came from. internal/mic.Module implements this.
type DOASource interface {
	LastDOASector() *float64
}

// Config holds the module's tunables.
type Config struct {
	WaitTimeout     time.Duration // default 5s
	PhraseTimeLimit time.Duration // default 15s
	AmbientNoiseDur time.Duration // default 1s
	NetworkErrDelay time.Duration // default 2s
	OtherErrDelay   time.Duration // default 1s
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WaitTimeout:     5 * time.Second,
		PhraseTimeLimit: 15 * time.Second,
		AmbientNoiseDur: 1 * time.Second,
		NetworkErrDelay: 2 * time.Second,
		OtherErrDelay:   1 * time.Second,
	}
}

// Module runs the background listen loop, started by Start and stopped by
// Shutdown, which closes a done channel the loop checks before each Listen.
type Module struct {
	cfg        Config
	recognizer Recognizer
	bus        *bus.Bus
	doaSource  DOASource

	running int32
	done    chan struct{}
	stopped chan struct{}
}

// New returns a Module reading from recognizer and publishing to eventBus.
// recognizer may be nil if the microphone/recognizer is unavailable at
// init — Start is then a no-op and the rest of the system continues.
// doaSource may be nil (no DOA tagging).
func New(cfg Config, recognizer Recognizer, eventBus *bus.Bus, doaSource DOASource) *Module {
	return &Module{
		cfg:        cfg,
		recognizer: recognizer,
		bus:        eventBus,
		doaSource:  doaSource,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Available reports whether a recognizer was supplied.
func (m *Module) Available() bool { return m.recognizer != nil }

// Start spawns the listen loop. Safe to call once.
func (m *Module) Start(ctx context.Context) {
	if m.recognizer == nil {
		close(m.stopped)
		return
	}
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return
	}
	go m.loop(ctx)
}

func (m *Module) loop(ctx context.Context) {
	defer close(m.stopped)

	if err := m.recognizer.AdjustForAmbientNoise(ctx, m.cfg.AmbientNoiseDur); err != nil {
		log.Printf("[stt] ambient noise calibration failed (continuing anyway): %v", err)
	}

	m.publishState(model.TopicSttListeningStarted)
	defer m.publishState(model.TopicSttListeningStopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		text, duration, err := m.recognizer.Listen(ctx, m.cfg.WaitTimeout, m.cfg.PhraseTimeLimit)
		if err != nil {
			m.handleListenError(ctx, err)
			continue
		}
		if duration < minPhraseDuration {
			continue // reject as noise
		}
		if text == "" {
			continue
		}
		m.publishRecognized(text, duration)
	}
}

func (m *Module) handleListenError(ctx context.Context, err error) {
	switch err {
	case ErrTimeout:
		return // no speech heard this cycle, try again immediately
	case ErrNetwork:
		log.Printf("[stt] recognizer network error: %v", err)
		m.sleep(ctx, m.cfg.NetworkErrDelay)
	default:
		log.Printf("[stt] recognizer error: %v", err)
		m.sleep(ctx, m.cfg.OtherErrDelay)
	}
}

func (m *Module) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-m.done:
	case <-t.C:
	}
}

func (m *Module) publishRecognized(text string, duration time.Duration) {
	if m.bus == nil {
		return
	}
	var doaAngle *float64
	if m.doaSource != nil {
		doaAngle = m.doaSource.LastDOASector()
	}
	m.bus.Publish(model.Event{
		Topic:    model.TopicSttTextRecognized,
		Source:   ownerName,
		Priority: model.EventNormal,
		Payload: model.SttTextRecognizedPayload{
			Text:      text,
			Timestamp: time.Now(),
			Duration:  duration,
			DOAAngle:  doaAngle,
		},
	})
}

func (m *Module) publishState(topic string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(model.Event{
		Topic:    topic,
		Source:   ownerName,
		Priority: model.EventNormal,
	})
}

// Shutdown stops the listen loop and waits (best-effort) for it to exit.
func (m *Module) Shutdown() {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 2) {
		return
	}
	close(m.done)
	<-m.stopped
}
