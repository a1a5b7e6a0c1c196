package vision

import (
	"math"
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

// ControlConfig tunes the P-control tracking law and the patrol behavior.
type ControlConfig struct {
	KP                float64       // proportional gain, default 0.4
	DeadZonePixels    float64       // default 50
	PatrolSpeed       float64       // default 0.2
	PatrolReturnDelay time.Duration // default 3s
}

// DefaultControlConfig returns the documented defaults.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		KP:                0.4,
		DeadZonePixels:    50,
		PatrolSpeed:       0.2,
		PatrolReturnDelay: 3 * time.Second,
	}
}

// PControl computes continuous pan/tilt velocities for a target centered at
// (tx,ty) against a frame centered at (cx,cy), clipped to [-1,1].
func (c ControlConfig) PControl(tx, ty, cx, cy int) (pan, tilt float64) {
	errX := float64(tx - cx)
	errY := float64(ty - cy)

	if math.Abs(errX) > c.DeadZonePixels && cx != 0 {
		pan = (errX / float64(cx)) * c.KP
	}
	if math.Abs(errY) > c.DeadZonePixels && cy != 0 {
		tilt = -(errY / float64(cy)) * c.KP
	}

	return clip(pan), clip(tilt)
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// StateMachine tracks patrol/tracking/searching transitions for one camera.
//
//   - Patrol -> Tracking(top): whenever >=1 object is detected.
//   - Tracking(T) -> Tracking(T): T still present; refresh target.
//   - Tracking(T) -> Tracking(top): T gone but others remain.
//   - Tracking(_) -> Searching: no objects this frame; camera stops.
//   - Searching -> Tracking(top): objects reappear.
//   - Searching -> Patrol: no objects for >= PatrolReturnDelay; begin sweep.
type StateMachine struct {
	cfg   ControlConfig
	state model.TrackState
}

// NewStateMachine returns a machine starting in Patrol.
func NewStateMachine(cfg ControlConfig, now time.Time) *StateMachine {
	return &StateMachine{cfg: cfg, state: model.TrackState{Kind: model.StatePatrol, Since: now}}
}

// State returns the current state.
func (m *StateMachine) State() model.TrackState {
	return m.state
}

// Advance consumes this frame's ranked objects (best-first, as Score/DOABonus
// produced them) and returns the resulting state kind and chosen target, if
// any. now drives the patrol-return timeout.
func (m *StateMachine) Advance(objects []model.DetectedObject, now time.Time) (kind model.TrackStateKind, target *model.DetectedObject) {
	if len(objects) > 0 {
		target = m.pickTarget(objects)
		m.state = model.TrackState{Kind: model.StateTracking, TargetPermanentID: target.PermanentID, Since: now}
		return model.StateTracking, target
	}

	switch m.state.Kind {
	case model.StateTracking:
		m.state = model.TrackState{Kind: model.StateSearching, LostAt: now}
		return model.StateSearching, nil
	case model.StateSearching:
		if now.Sub(m.state.LostAt) >= m.cfg.PatrolReturnDelay {
			m.state = model.TrackState{Kind: model.StatePatrol, Since: now}
			return model.StatePatrol, nil
		}
		return model.StateSearching, nil
	default:
		return model.StatePatrol, nil
	}
}

// pickTarget prefers the previously tracked permanent id if it is still
// present, else the best-ranked object.
func (m *StateMachine) pickTarget(objects []model.DetectedObject) *model.DetectedObject {
	if m.state.Kind == model.StateTracking {
		for i := range objects {
			if objects[i].PermanentID == m.state.TargetPermanentID {
				return &objects[i]
			}
		}
	}
	return &objects[0]
}
