//go:build cgo
// +build cgo

package frame

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/argusvision/sentinel/internal/model"
)

// GocvDecoder opens a webcam, an RTSP stream, or a video file via OpenCV
// and decodes frames to RGB24, following the capture/convert pipeline of a
// typical GoCV camera adapter: gocv.OpenVideoCapture treats a URL that
// parses as an integer as a device index and anything else as a file or
// stream URL, leaving the choice of capture backend to OpenCV; every read
// frame is then converted BGR->RGB.
type GocvDecoder struct {
	url           string
	width, height int

	cap *gocv.VideoCapture
}

// NewGocvDecoder returns a Decoder reading from url (an RTSP URL, a file
// path, or a webcam device index as a string). width/height of 0 leaves the
// device's default resolution in place.
func NewGocvDecoder(url string, width, height int) *GocvDecoder {
	return &GocvDecoder{url: url, width: width, height: height}
}

func (d *GocvDecoder) Open(ctx context.Context) error {
	cap, err := gocv.OpenVideoCapture(d.url)
	if err != nil {
		return fmt.Errorf("frame: open %q: %w", d.url, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("frame: %q did not open", d.url)
	}
	if d.width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(d.width))
	}
	if d.height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(d.height))
	}
	d.cap = cap
	return nil
}

func (d *GocvDecoder) Read(ctx context.Context) (*model.Frame, error) {
	mat := gocv.NewMat()
	defer mat.Close()

	if ok := d.cap.Read(&mat); !ok {
		return nil, fmt.Errorf("frame: read failed on %q", d.url)
	}
	if mat.Empty() {
		return nil, fmt.Errorf("frame: empty frame from %q", d.url)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	return &model.Frame{
		Width:      rgb.Cols(),
		Height:     rgb.Rows(),
		Pixels:     rgb.ToBytes(),
		CapturedAt: time.Now(),
	}, nil
}

func (d *GocvDecoder) Close() error {
	if d.cap == nil {
		return nil
	}
	return d.cap.Close()
}
