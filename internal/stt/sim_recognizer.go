package stt

import (
	"context"
	"time"
)

// SimRecognizer is a deterministic, device-free Recognizer used by the
// `test://` configuration and by unit tests: it reports no speech until a
// phrase is queued by test code, then returns it once. Mirrors
// internal/micdrv.SimDriver's role for the microphone.
type SimRecognizer struct {
	queue chan simPhrase
}

type simPhrase struct {
	text     string
	duration time.Duration
}

// NewSimRecognizer returns a Recognizer with no queued phrases.
func NewSimRecognizer() *SimRecognizer {
	return &SimRecognizer{queue: make(chan simPhrase, 16)}
}

func (r *SimRecognizer) AdjustForAmbientNoise(ctx context.Context, d time.Duration) error {
	return nil
}

// Listen waits up to waitTimeout for a queued phrase (test hook via Queue);
// absent one, it returns ErrTimeout, matching a real recognizer's
// no-speech-heard behavior.
func (r *SimRecognizer) Listen(ctx context.Context, waitTimeout, phraseTimeLimit time.Duration) (string, time.Duration, error) {
	select {
	case p := <-r.queue:
		return p.text, p.duration, nil
	case <-time.After(waitTimeout):
		return "", 0, ErrTimeout
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

// Queue enqueues a phrase to be returned by the next Listen call (test/demo
// hook).
func (r *SimRecognizer) Queue(text string, duration time.Duration) {
	select {
	case r.queue <- simPhrase{text: text, duration: duration}:
	default:
	}
}
