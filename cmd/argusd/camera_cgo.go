//go:build cgo
// +build cgo

package main

import (
	"github.com/argusvision/sentinel/internal/config"
	"github.com/argusvision/sentinel/internal/frame"
)

// newCameraDecoder opens the configured camera URL through GoCV when built
// with cgo. Mirrors internal/frame.GocvDecoder's own URL handling; main.go
// only needs to pick the concrete Decoder implementation.
func newCameraDecoder(cam config.Camera) frame.Decoder {
	return frame.NewGocvDecoder(cam.URL, 0, 0)
}
