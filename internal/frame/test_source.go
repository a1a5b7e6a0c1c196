package frame

import (
	"context"
	"math"
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

// SyntheticDecoder is the `test://` Decoder: a deterministic generated
// frame stream requiring no camera hardware, used for default
// configuration and for tests.
type SyntheticDecoder struct {
	width, height int
	frameN        int
}

// NewSyntheticDecoder returns a Decoder producing width x height frames.
func NewSyntheticDecoder(width, height int) *SyntheticDecoder {
	return &SyntheticDecoder{width: width, height: height}
}

func (d *SyntheticDecoder) Open(ctx context.Context) error { return nil }

// Read returns a frame with a slowly moving vertical band of brightness, so
// that successive frames are visibly distinct without needing real
// hardware.
func (d *SyntheticDecoder) Read(ctx context.Context) (*model.Frame, error) {
	d.frameN++
	px := make([]byte, d.width*d.height*3)

	bandX := int(float64(d.width)/2*(1+math.Sin(float64(d.frameN)/30))) % d.width
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			off := (y*d.width + x) * 3
			v := byte(40)
			if abs(x-bandX) < d.width/10 {
				v = 220
			}
			px[off], px[off+1], px[off+2] = v, v, v
		}
	}

	return &model.Frame{Width: d.width, Height: d.height, Pixels: px, CapturedAt: time.Now()}, nil
}

func (d *SyntheticDecoder) Close() error { return nil }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
