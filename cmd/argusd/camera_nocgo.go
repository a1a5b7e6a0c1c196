//go:build !cgo
// +build !cgo

package main

import (
	"log"

	"github.com/argusvision/sentinel/internal/config"
	"github.com/argusvision/sentinel/internal/frame"
)

// newCameraDecoder falls back to the synthetic decoder on a cgo-less build
// (no GoCV/OpenCV available): a real camera.url still starts the daemon,
// just without real frames, rather than failing to build.
func newCameraDecoder(cam config.Camera) frame.Decoder {
	log.Printf("[main] built without cgo: camera.url=%q ignored, using synthetic frames", cam.URL)
	return frame.NewSyntheticDecoder(640, 480)
}
