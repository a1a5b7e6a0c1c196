package model

import "time"

// DetectedObject is one detection within a single frame.
//
// Invariant: Box.X1 < Box.X2, Box.Y1 < Box.Y2, and the box lies fully inside
// the frame it was detected in.
//
// Lifecycle: created fresh per detection pass. TrackerID is ephemeral and may
// churn frame to frame; PermanentID persists across frames for as long as
// the subject is re-identifiable (see ReIdentity).
type DetectedObject struct {
	Box         Box
	ClassID     int
	ClassName   string
	TrackerID   int64
	PermanentID int64
	CenterX     int
	CenterY     int
	Priority    float64
	DOABonus    float64 // 0 if DOA fusion did not contribute this frame
}

// ReIdentity is the durable record for one re-identified subject.
//
// Invariant: at any instant, at most one live TrackerID maps to a given
// PermanentID. Created on first sighting; Fingerprint is replaced (not
// averaged) on every confirmed match, so the stored signature always
// reflects the newest appearance. Never deleted during a session, so a
// subject that leaves and returns can recover its PermanentID.
type ReIdentity struct {
	PermanentID int64
	Fingerprint []float64 // normalized 16x16 HS histogram, row-major, len 256
	DisplayName string
	LastSeen    time.Time
}

// TrackStateKind enumerates the DetectionModule state machine's states.
type TrackStateKind int

const (
	StatePatrol TrackStateKind = iota
	StateTracking
	StateSearching
)

func (k TrackStateKind) String() string {
	switch k {
	case StatePatrol:
		return "patrol"
	case StateTracking:
		return "tracking"
	case StateSearching:
		return "searching"
	default:
		return "unknown"
	}
}

// TrackState is the tagged-variant state of the DetectionModule's state
// machine. Only TargetPermanentID and Since are meaningful in StateTracking;
// only LostAt is meaningful in StateSearching.
type TrackState struct {
	Kind              TrackStateKind
	TargetPermanentID int64
	Since             time.Time
	LostAt            time.Time
}
