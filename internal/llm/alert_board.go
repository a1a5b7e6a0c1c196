package llm

import (
	"sync"
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

// AlertBoard keeps the most recent emergency analysis visible for a
// configurable display window, so it reads as "still active" rather than
// flashing on for a single instant; a later non-emergency analysis does
// not clear it. This is a read model only, not new durable state. It is
// reachable through Module.Board; the ops server's /healthz response does
// not include it.
type AlertBoard struct {
	window time.Duration

	mu      sync.Mutex
	current *model.AnalysisResult
}

// NewAlertBoard returns an empty board that displays a raised alert for
// window before it expires.
func NewAlertBoard(window time.Duration) *AlertBoard {
	return &AlertBoard{window: window}
}

// Raise records result (already marked IsEmergency) as the currently
// displayed alert.
func (b *AlertBoard) Raise(result *model.AnalysisResult, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := *result
	if r.ExpiresAt.IsZero() {
		r.ExpiresAt = now.Add(b.window)
	}
	b.current = &r
}

// Active returns the currently displayed alert, or nil if none is raised or
// the display window has elapsed.
func (b *AlertBoard) Active(now time.Time) *model.AnalysisResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	if now.After(b.current.ExpiresAt) {
		return nil
	}
	r := *b.current
	return &r
}

// Clear forcibly dismisses the displayed alert.
func (b *AlertBoard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = nil
}
