package vision

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
	"github.com/argusvision/sentinel/internal/ptzdrv"
)

const ownerName = "detection"

// Config holds the module's tunables.
type Config struct {
	ReidThreshold float64
	DOAFusion     DOAFusionConfig
	Control       ControlConfig
}

// DefaultConfig returns the documented defaults, with DOA fusion disabled
// (opt-in).
func DefaultConfig() Config {
	return Config{
		ReidThreshold: DefaultReidThreshold,
		DOAFusion:     DefaultDOAFusionConfig(),
		Control:       DefaultControlConfig(),
	}
}

// Result is what Process returns to the orchestrator for one pipeline tick.
type Result struct {
	Objects        []model.DetectedObject
	PersonDetected bool
	Mode           string
	Target         *model.DetectedObject
}

// Module is the detection module: run the detector, stabilize identities,
// score and rank objects, drive the tracking state machine, and request
// camera moves.
type Module struct {
	cfg      Config
	detector Detector
	bus      *bus.Bus
	arbiter  *ptzdrv.Arbiter

	reid    *ReidTable
	history *PriorityHistory
	sm      *StateMachine

	mu          sync.Mutex
	doaAngle    float64
	doaAt       time.Time
	haveDOA     bool
	unsubscribe func()
}

// New returns a Module driving detector, publishing to eventBus, and
// requesting camera moves through arbiter.
func New(cfg Config, detector Detector, eventBus *bus.Bus, arbiter *ptzdrv.Arbiter) *Module {
	m := &Module{
		cfg:      cfg,
		detector: detector,
		bus:      eventBus,
		arbiter:  arbiter,
		reid:     NewReidTable(cfg.ReidThreshold),
		history:  NewPriorityHistory(),
		sm:       NewStateMachine(cfg.Control, time.Now()),
	}
	if eventBus != nil {
		m.unsubscribe = eventBus.Subscribe(model.TopicMicDoaDetected, m.onDOADetected)
	}
	return m
}

func (m *Module) onDOADetected(ev model.Event) {
	payload, ok := model.DecodePayload[model.MicDoaDetectedPayload](ev)
	if !ok {
		return
	}
	m.mu.Lock()
	m.doaAngle = payload.SectorAngle
	m.doaAt = ev.Timestamp
	m.haveDOA = true
	m.mu.Unlock()
}

// Close releases the module's DOA subscription.
func (m *Module) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Process runs one detection pass over frame. On a detector error it logs
// and returns an empty result, leaving the state machine in whatever state
// it already held.
func (m *Module) Process(ctx context.Context, frame *model.Frame) (Result, error) {
	if frame == nil {
		return Result{}, fmt.Errorf("vision: nil frame")
	}

	raw, err := m.detector.Detect(ctx, frame)
	if err != nil {
		log.Printf("[vision] detector error: %v", err)
		return Result{}, nil
	}

	objects := m.identifyAndScore(frame, raw)
	personDetected := false
	for _, o := range objects {
		if o.ClassName == "person" {
			personDetected = true
			break
		}
	}

	kind, target := m.sm.Advance(objects, time.Now())
	mode := modeLabel(kind, target)
	m.dispatchMotion(kind, target, frame)
	m.publish(objects, personDetected, mode, target)

	return Result{Objects: objects, PersonDetected: personDetected, Mode: mode, Target: target}, nil
}

func (m *Module) identifyAndScore(frame *model.Frame, raw []RawDetection) []model.DetectedObject {
	now := time.Now()
	seen := make(map[int64]bool, len(raw))
	objects := make([]model.DetectedObject, 0, len(raw))

	m.mu.Lock()
	doaAngle, doaAt, haveDOA := m.doaAngle, m.doaAt, m.haveDOA
	m.mu.Unlock()

	for _, r := range raw {
		box := r.Box.Clamp(frame.Width, frame.Height)
		if box.Area() == 0 {
			continue
		}
		seen[r.TrackerID] = true

		fp := Fingerprint(frame, box)
		identity := m.reid.Resolve(r.TrackerID, fp, now)

		cx, cy := box.Center()
		score := Score(ScoreInput{ClassName: r.ClassName, Area: box.Area(), CenterX: cx, CenterY: cy}, frame.Width, frame.Height)

		var bonus float64
		if haveDOA {
			bonus = m.cfg.DOAFusion.DOABonus(cx, frame.Width, doaAngle, doaAt, now)
			score += bonus
		}

		m.history.Record(identity.PermanentID, score)

		objects = append(objects, model.DetectedObject{
			Box:         box,
			ClassID:     r.ClassID,
			ClassName:   r.ClassName,
			TrackerID:   r.TrackerID,
			PermanentID: identity.PermanentID,
			CenterX:     cx,
			CenterY:     cy,
			Priority:    score,
			DOABonus:    bonus,
		})
	}

	m.reid.EvictStale(seen)
	sortByPriority(objects, m.history)
	return objects
}

// sortByPriority ranks objects by their single-frame score, descending; an
// exact tie is broken by the smoothed history mean so that a noisy frame
// does not flicker the chosen top object between two equally-scored
// subjects.
func sortByPriority(objects []model.DetectedObject, history *PriorityHistory) {
	for i := 1; i < len(objects); i++ {
		for j := i; j > 0 && less(objects[j], objects[j-1], history); j-- {
			objects[j], objects[j-1] = objects[j-1], objects[j]
		}
	}
}

func less(a, b model.DetectedObject, history *PriorityHistory) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return history.Mean(a.PermanentID) > history.Mean(b.PermanentID)
}

func modeLabel(kind model.TrackStateKind, target *model.DetectedObject) string {
	if kind == model.StateTracking && target != nil {
		return fmt.Sprintf("tracking:%d", target.PermanentID)
	}
	return kind.String()
}

func (m *Module) dispatchMotion(kind model.TrackStateKind, target *model.DetectedObject, frame *model.Frame) {
	switch kind {
	case model.StateTracking:
		if target == nil {
			return
		}
		cx, cy := frame.Width/2, frame.Height/2
		pan, tilt := m.cfg.Control.PControl(target.CenterX, target.CenterY, cx, cy)
		m.arbiter.Request(model.PtzRequest{
			Mode:      model.ModeContinuous,
			Pan:       pan,
			Tilt:      tilt,
			Owner:     ownerName,
			Priority:  model.PriorityYoloTracking,
			CreatedAt: time.Now(),
		})
	case model.StateSearching:
		m.arbiter.Request(model.PtzRequest{
			Mode:      model.ModeContinuous,
			Owner:     ownerName,
			Priority:  model.PriorityYoloTracking,
			CreatedAt: time.Now(),
		})
		m.arbiter.Release(ownerName)
	case model.StatePatrol:
		m.arbiter.Request(model.PtzRequest{
			Mode:      model.ModeContinuous,
			Pan:       m.cfg.Control.PatrolSpeed,
			Tilt:      0,
			Owner:     ownerName,
			Priority:  model.PriorityPatrol,
			CreatedAt: time.Now(),
		})
	}
}

func (m *Module) publish(objects []model.DetectedObject, personDetected bool, mode string, target *model.DetectedObject) {
	if m.bus == nil {
		return
	}
	if len(objects) == 0 {
		m.bus.Publish(model.Event{
			Topic:    model.TopicYoloNoObjects,
			Source:   ownerName,
			Priority: model.EventNormal,
			Payload:  model.YoloNoObjectsPayload{Mode: mode},
		})
		return
	}

	m.bus.Publish(model.Event{
		Topic:    model.TopicYoloObjectsDetected,
		Source:   ownerName,
		Priority: model.EventNormal,
		Payload:  model.YoloObjectsDetectedPayload{Objects: objects, Count: len(objects), Mode: mode},
	})

	if !personDetected {
		return
	}
	persons := make([]model.DetectedObject, 0, len(objects))
	for _, o := range objects {
		if o.ClassName == "person" {
			persons = append(persons, o)
		}
	}
	m.bus.Publish(model.Event{
		Topic:    model.TopicYoloPersonDetected,
		Source:   ownerName,
		Priority: model.EventHigh,
		Payload:  model.YoloPersonDetectedPayload{Objects: persons, Count: len(persons), Target: target},
	})
}
