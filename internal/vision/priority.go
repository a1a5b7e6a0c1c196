package vision

import (
	"math"
	"time"
)

// TypeScore looks up the base priority weight for a class name. Unknown
// classes fall back to 0.2.
func TypeScore(className string) float64 {
	switch className {
	case "person":
		return 1.0
	case "car", "motorcycle":
		return 0.5
	case "bus", "truck":
		return 0.4
	default:
		return 0.2
	}
}

// ScoreInput is the per-object data needed to compute its priority score.
type ScoreInput struct {
	ClassName string
	Area      int
	CenterX   int
	CenterY   int
}

// Score computes `0.6*type_score + 0.3*(area/frame_area) + 0.1*(1 -
// dist_to_center/max_dist)` for one object in a frame of size
// frameW x frameH.
func Score(in ScoreInput, frameW, frameH int) float64 {
	frameArea := float64(frameW * frameH)
	areaRatio := 0.0
	if frameArea > 0 {
		areaRatio = float64(in.Area) / frameArea
	}

	cx, cy := frameW/2, frameH/2
	dx, dy := float64(in.CenterX-cx), float64(in.CenterY-cy)
	dist := math.Hypot(dx, dy)
	maxDist := math.Hypot(float64(cx), float64(cy))
	distRatio := 0.0
	if maxDist > 0 {
		distRatio = dist / maxDist
	}

	return 0.6*TypeScore(in.ClassName) + 0.3*areaRatio + 0.1*(1-distRatio)
}

// DOAFusionConfig tunes the optional direction-of-arrival priority bonus.
type DOAFusionConfig struct {
	Enabled       bool
	CameraFovDeg  float64 // default 90.0
	BoostWeight   float64 // default 0.35
	MemorySeconds float64 // default 1.5
}

// DefaultDOAFusionConfig returns DOA fusion opt-in with its documented
// defaults; Enabled is left false since the fusion is opt-in.
func DefaultDOAFusionConfig() DOAFusionConfig {
	return DOAFusionConfig{
		CameraFovDeg:  90.0,
		BoostWeight:   0.35,
		MemorySeconds: 1.5,
	}
}

// DOABonus returns the additive priority bonus for an object centered at
// centerX in a frame frameW wide, given the most recent DOA sector angle and
// when it was produced. It returns 0 if fusion is disabled, no DOA reading
// is available, or the reading is older than MemorySeconds.
func (c DOAFusionConfig) DOABonus(centerX, frameW int, doaAngle float64, doaAt time.Time, now time.Time) float64 {
	if !c.Enabled || frameW <= 0 {
		return 0
	}
	if now.Sub(doaAt).Seconds() > c.MemorySeconds {
		return 0
	}

	halfFov := math.Max(1.0, c.CameraFovDeg/2.0)
	rel := float64(centerX)/float64(frameW) - 0.5
	objAngle := rel * c.CameraFovDeg

	angleError := math.Mod(doaAngle-objAngle+180, 360) - 180
	alignment := math.Max(0, 1-math.Min(math.Abs(angleError), halfFov)/halfFov)
	return c.BoostWeight * alignment
}

// historyCapacity is the number of recent per-frame scores a PriorityHistory
// keeps for one permanent id.
const historyCapacity = 5

// PriorityHistory smooths a permanent id's recent scores to break ties
// between objects whose single-frame score (model.DetectedObject.Priority)
// is exactly equal — it never replaces that score, only decides which of
// the equally scored objects the state machine treats as "the" top object.
type PriorityHistory struct {
	samples map[int64][]float64
}

// NewPriorityHistory returns an empty tie-break history.
func NewPriorityHistory() *PriorityHistory {
	return &PriorityHistory{samples: make(map[int64][]float64)}
}

// Record appends score for permID, keeping at most historyCapacity samples.
func (h *PriorityHistory) Record(permID int64, score float64) {
	s := append(h.samples[permID], score)
	if len(s) > historyCapacity {
		s = s[len(s)-historyCapacity:]
	}
	h.samples[permID] = s
}

// Mean returns the mean of permID's recorded samples, or 0 if none exist.
func (h *PriorityHistory) Mean(permID int64) float64 {
	s := h.samples[permID]
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// Forget drops history for a permanent id that has not been seen recently,
// keeping the map from growing without bound across a long session.
func (h *PriorityHistory) Forget(permID int64) {
	delete(h.samples, permID)
}
