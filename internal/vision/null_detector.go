package vision

import (
	"context"

	"github.com/argusvision/sentinel/internal/model"
)

// NullDetector is the default Detector when no model backend is configured
// (`--no-yolo`, or yolo.model_path unset): it reports no detections. Model
// weights/runtime are out of scope for this module; this keeps the rest
// of the pipeline (state machine, patrol sweep) running without one.
type NullDetector struct{}

func (NullDetector) Detect(ctx context.Context, frame *model.Frame) ([]RawDetection, error) {
	return nil, nil
}
