package ptzdrv

import (
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

// ArbitrationResult is returned by Arbiter.Request.
type ArbitrationResult int

const (
	Rejected ArbitrationResult = iota
	Accepted
)

// nowFunc is overridable in tests to make the 2s stale-owner window
// deterministic.
var nowFunc = time.Now

// Arbiter accepts move requests tagged with priority and owner, arbitrates
// them against model.PtzOwnership, and forwards winners to a Driver. It
// never blocks a caller for longer than the arbitration decision itself:
// dispatch to the Driver happens through the Driver's own fire-and-forget
// worker.
type Arbiter struct {
	ownership *model.PtzOwnership
	driver    Driver
	observer  func(req model.PtzRequest, accepted bool)
}

// NewArbiter returns an Arbiter dispatching accepted requests to driver.
func NewArbiter(driver Driver) *Arbiter {
	return &Arbiter{
		ownership: model.NewPtzOwnership(),
		driver:    driver,
	}
}

// SetObserver installs a callback invoked after every arbitration decision
// (accepted or not). Used by the metrics wiring; call before any requester
// starts.
func (a *Arbiter) SetObserver(fn func(req model.PtzRequest, accepted bool)) {
	a.observer = fn
}

// Request evaluates the arbitration rule atomically and, on acceptance,
// dispatches the move to the driver.
func (a *Arbiter) Request(req model.PtzRequest) ArbitrationResult {
	now := req.CreatedAt
	if now.IsZero() {
		now = nowFunc()
	}
	accepted := a.ownership.TryAccept(req, now)
	if a.observer != nil {
		a.observer(req, accepted)
	}
	if !accepted {
		return Rejected
	}

	switch req.Mode {
	case model.ModeContinuous:
		a.driver.MoveContinuous(req.Pan, req.Tilt, req.Zoom)
	case model.ModeAbsolute:
		a.driver.MoveAbsolute(req.PanDeg, req.TiltDeg, req.Zoom)
	}
	return Accepted
}

// Release resets ownership to the patrol baseline iff owner currently holds
// it.
func (a *Arbiter) Release(owner string) {
	a.ownership.Release(owner, nowFunc())
}

// Stop unconditionally halts motion and resets arbitration state.
func (a *Arbiter) Stop() {
	a.ownership.Reset(nowFunc())
	a.driver.Stop()
}

// Snapshot exposes the current ownership for diagnostics (ops server
// /healthz).
func (a *Arbiter) Snapshot() (owner string, priority model.PtzPriority, lastAcceptedAt time.Time) {
	return a.ownership.Snapshot()
}
