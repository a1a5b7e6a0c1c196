package model

import (
	"sync"
	"time"
)

// PtzPriority ranks which module's move requests take the camera.
type PtzPriority int

const (
	PriorityPatrol       PtzPriority = 0
	PriorityMicDOA       PtzPriority = 1
	PriorityYoloTracking PtzPriority = 2
	PriorityEmergency    PtzPriority = 3
)

func (p PtzPriority) String() string {
	switch p {
	case PriorityPatrol:
		return "patrol"
	case PriorityMicDOA:
		return "mic_doa"
	case PriorityYoloTracking:
		return "yolo_tracking"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// PtzMode tags a PtzRequest as a continuous-velocity or absolute-pose move.
type PtzMode int

const (
	ModeContinuous PtzMode = iota
	ModeAbsolute
)

// PtzRequest is one camera-move request submitted to the PtzArbiter.
//
// For ModeContinuous, Pan/Tilt/Zoom ∈ [-1,1] are velocities.
// For ModeAbsolute, PanDeg ∈ [0,360), TiltDeg ∈ [-90,90], Zoom is a pose.
type PtzRequest struct {
	Mode      PtzMode
	Pan       float64
	Tilt      float64
	Zoom      float64
	PanDeg    float64
	TiltDeg   float64
	Owner     string
	Priority  PtzPriority
	CreatedAt time.Time
}

// StaleOwnerRelease is the grace period after which a lower-priority request
// may dislodge the current owner.
const StaleOwnerRelease = 2 * time.Second

// PtzOwnership is the process-wide shared arbitration state.
//
// Invariant: a new request wins iff its priority is >= current priority, OR
// at least StaleOwnerRelease has elapsed since the last accepted request.
// The mutex guards only the arbitration decision; dispatch to the driver
// happens outside the lock.
type PtzOwnership struct {
	mu       sync.Mutex
	owner    string
	priority PtzPriority
	lastAt   time.Time
}

// NewPtzOwnership returns ownership reset to the patrol baseline.
func NewPtzOwnership() *PtzOwnership {
	return &PtzOwnership{owner: "", priority: PriorityPatrol, lastAt: time.Now()}
}

// Snapshot returns the current (owner, priority, lastAcceptedAt) under lock.
func (o *PtzOwnership) Snapshot() (string, PtzPriority, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner, o.priority, o.lastAt
}

// TryAccept evaluates the arbitration rule atomically and, on acceptance,
// updates the state. It returns whether req was accepted.
func (o *PtzOwnership) TryAccept(req PtzRequest, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	stale := now.Sub(o.lastAt) >= StaleOwnerRelease
	if req.Priority < o.priority && !stale {
		return false
	}
	o.owner = req.Owner
	o.priority = req.Priority
	o.lastAt = now
	return true
}

// Release resets ownership to the patrol baseline iff owner currently holds
// it.
func (o *PtzOwnership) Release(owner string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owner == owner {
		o.owner = ""
		o.priority = PriorityPatrol
		o.lastAt = now
	}
}

// Reset unconditionally resets to the patrol baseline (used by Stop()).
func (o *PtzOwnership) Reset(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owner = ""
	o.priority = PriorityPatrol
	o.lastAt = now
}
