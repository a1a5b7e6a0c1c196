// Package mic implements the microphone-array module: it samples a
// micdrv.Driver at ~20Hz, smooths the direction-of-arrival via a circular
// mean, classifies zenith/side sectors, and emits DOA events and PTZ
// requests.
package mic

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/micdrv"
	"github.com/argusvision/sentinel/internal/model"
	"github.com/argusvision/sentinel/internal/ptzdrv"
)

// Config holds the module's tunables.
type Config struct {
	SampleRate          time.Duration // default 50ms (~20Hz)
	RingSize            int           // default 10
	MinSamples          int           // default 5
	ConfidenceThreshold float64       // default 0.6 ("directional rule")
	ZenithConfidence    float64       // default 0.4
	ZenithGain          float64       // default 10.0
}

// DefaultConfig returns the factory-tuned defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:          50 * time.Millisecond,
		RingSize:            10,
		MinSamples:          5,
		ConfidenceThreshold: 0.6,
		ZenithConfidence:    0.4,
		ZenithGain:          10.0,
	}
}

const ownerName = "mic"

// Module runs on its own goroutine, started by Start and stopped by
// Shutdown, which closes a done channel the loop checks on every tick.
type Module struct {
	cfg     Config
	driver  micdrv.Driver
	bus     *bus.Bus
	arbiter *ptzdrv.Arbiter

	running int32
	done    chan struct{}
	wg      sync.WaitGroup

	mu            sync.Mutex
	ring          []float64
	lastSector    *float64
	lastDOASector *float64 // most recent emitted mic.doa_detected sector, read by SttModule
}

// New returns a Module reading from driver and publishing to eventBus,
// requesting moves through arbiter. driver may be nil if the mic is
// unavailable at init — in that case Start is a no-op and the rest of the
// system continues without it.
func New(cfg Config, driver micdrv.Driver, eventBus *bus.Bus, arbiter *ptzdrv.Arbiter) *Module {
	return &Module{
		cfg:     cfg,
		driver:  driver,
		bus:     eventBus,
		arbiter: arbiter,
		done:    make(chan struct{}),
	}
}

// Available reports whether a driver was supplied.
func (m *Module) Available() bool { return m.driver != nil }

// Start spawns the sampling loop. Safe to call once.
func (m *Module) Start(ctx context.Context) {
	if m.driver == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return
	}
	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *Module) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Module) tick() {
	speaking, err := m.driver.ReadSpeechDetected()
	if err != nil {
		log.Printf("[mic] read speech-detected failed: %v", err)
		return
	}
	if !speaking {
		return
	}

	rawAngle, err := m.driver.ReadDOA()
	if err != nil {
		log.Printf("[mic] read doa failed: %v", err)
		return
	}
	gain, err := m.driver.ReadGain()
	if err != nil {
		log.Printf("[mic] read gain failed: %v", err)
		return
	}

	m.bus.Publish(model.Event{
		Topic:    model.TopicMicSpeechDetected,
		Source:   ownerName,
		Priority: model.EventNormal,
		Payload: model.MicSpeechDetectedPayload{
			RawAngle: float64(rawAngle),
			Gain:     float64(gain),
		},
	})

	m.mu.Lock()
	m.ring = append(m.ring, float64(rawAngle))
	if len(m.ring) > m.cfg.RingSize {
		m.ring = m.ring[len(m.ring)-m.cfg.RingSize:]
	}
	samples := append([]float64(nil), m.ring...)
	m.mu.Unlock()

	if len(samples) < m.cfg.MinSamples {
		return
	}

	smoothAngle, confidence := CircularMean(samples)
	m.classify(smoothAngle, confidence, float64(gain))
}

// CircularMean computes the circular mean and resultant-length confidence
// of a set of angles in degrees.
func CircularMean(anglesDeg []float64) (meanDeg, confidence float64) {
	var sumSin, sumCos float64
	for _, a := range anglesDeg {
		rad := a * math.Pi / 180
		sumSin += math.Sin(rad)
		sumCos += math.Cos(rad)
	}
	n := float64(len(anglesDeg))
	meanSin := sumSin / n
	meanCos := sumCos / n
	confidence = math.Sqrt(meanSin*meanSin + meanCos*meanCos)
	meanRad := math.Atan2(meanSin, meanCos)
	meanDeg = math.Mod(meanRad*180/math.Pi+360, 360)
	return meanDeg, confidence
}

// Sector quantizes a smoothed angle to the nearest 30-degree sector.
func Sector(smoothAngleDeg float64) float64 {
	s := math.Floor((smoothAngleDeg+15)/30) * 30
	return math.Mod(s+360, 360)
}

func (m *Module) classify(smoothAngle, confidence, gain float64) {
	switch {
	case confidence < m.cfg.ZenithConfidence && gain < m.cfg.ZenithGain:
		m.emitZenith(confidence)
	case confidence > m.cfg.ConfidenceThreshold:
		m.emitDirectional(smoothAngle, confidence)
	default:
		// ambiguous sample, dropped
	}
}

func (m *Module) emitZenith(confidence float64) {
	m.bus.Publish(model.Event{
		Topic:    model.TopicMicZenithDetected,
		Source:   ownerName,
		Priority: model.EventNormal,
		Payload:  model.MicZenithDetectedPayload{Confidence: confidence},
	})
	m.arbiter.Request(model.PtzRequest{
		Mode:      model.ModeAbsolute,
		PanDeg:    0,
		TiltDeg:   -90,
		Owner:     ownerName,
		Priority:  model.PriorityMicDOA,
		CreatedAt: time.Now(),
	})
}

func (m *Module) emitDirectional(smoothAngle, confidence float64) {
	sector := Sector(smoothAngle)

	m.mu.Lock()
	changed := m.lastSector == nil || *m.lastSector != sector
	if changed {
		m.lastSector = &sector
		m.lastDOASector = &sector
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.bus.Publish(model.Event{
		Topic:    model.TopicMicDoaDetected,
		Source:   ownerName,
		Priority: model.EventHigh,
		Payload: model.MicDoaDetectedPayload{
			SectorAngle: sector,
			SmoothAngle: smoothAngle,
			Confidence:  confidence,
		},
	})
	m.arbiter.Request(model.PtzRequest{
		Mode:      model.ModeAbsolute,
		PanDeg:    sector,
		TiltDeg:   -15,
		Owner:     ownerName,
		Priority:  model.PriorityMicDOA,
		CreatedAt: time.Now(),
	})
}

// LastDOASector returns the most recently emitted mic.doa_detected sector
// angle, if any. SttModule attaches this to recognized utterances.
func (m *Module) LastDOASector() *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastDOASector == nil {
		return nil
	}
	v := *m.lastDOASector
	return &v
}

// Shutdown stops the sampling loop and joins it; the caller enforces any
// overall cancellation deadline via context.
func (m *Module) Shutdown() {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 2) {
		return
	}
	close(m.done)
	m.wg.Wait()
}
