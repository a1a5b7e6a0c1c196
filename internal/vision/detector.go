// Package vision implements the object detection, re-identification,
// priority-scoring, and PTZ tracking module: it runs a detector on the
// current frame, stabilizes identities across frames, ranks objects by a
// scoring formula optionally biased by recent direction-of-arrival, drives
// a patrol/tracking/searching state machine, and requests camera moves.
package vision

import (
	"context"

	"github.com/argusvision/sentinel/internal/model"
)

// RawDetection is one detection as a concrete detector backend reports it,
// before re-identification or priority scoring.
type RawDetection struct {
	Box       model.Box
	ClassID   int
	ClassName string
	TrackerID int64
}

// Detector is the abstract object-detection backend. The concrete model
// runtime (ONNX, a remote inference service, a mocked stub) is intentionally
// kept out of scope; Detector is the thin boundary a concrete implementation
// plugs into.
type Detector interface {
	// Detect runs inference on frame and returns every detection above the
	// backend's own confidence threshold.
	Detect(ctx context.Context, frame *model.Frame) ([]RawDetection, error)
}
