// Package llm implements the multimodal situation-analysis module: on a
// pending speech utterance plus the current frame, it asks an external
// multimodal LLM to classify the situation and, under a cooldown, emits
// analysis and emergency events.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
)

const ownerName = "llm"

// pendingUtteranceTTL is how old a pending utterance may be before it is
// discarded unconsumed.
const pendingUtteranceTTL = 30 * time.Second

// Config holds the module's tunables.
type Config struct {
	Cooldown     time.Duration // default 5s (ANALYSIS_COOLDOWN)
	MaxImageSize int           // default 640 (long side, pixels)
	JPEGQuality  int           // default 75
	AlertWindow  time.Duration // supplemental: AlertBoard display window, default 30s
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:     5 * time.Second,
		MaxImageSize: 640,
		JPEGQuality:  75,
		AlertWindow:  30 * time.Second,
	}
}

// AnalysisRequest is what Module submits to an Analyzer.
type AnalysisRequest struct {
	UtteranceText string
	ImageJPEG     []byte
	HasPerson     bool
}

// AnalysisResponse is what an Analyzer returns on success.
type AnalysisResponse struct {
	SituationType          string
	Situation              string
	Urgency                model.Urgency
	Priority               model.Urgency
	IsEmergency            bool
	Reason                 string
	SuggestedAction        string
	AudioVisualConsistency string
}

// Analyzer is the abstract multimodal LLM boundary. The concrete vendor
// (OpenAI, Anthropic, a local VLM) is deliberately kept out of scope; this
// is the thin interface a real client implements.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error)
}

// Outcome tags why Process did or did not run an analysis this tick.
type Outcome string

const (
	OutcomeAnalyzed      Outcome = "analyzed"
	OutcomeCached        Outcome = "cached"
	OutcomeNoFrame       Outcome = "not_analyzed(no_frame)"
	OutcomeNoSpeech      Outcome = "not_analyzed(no_speech)"
	OutcomeAnalyzerError Outcome = "not_analyzed(error)"
)

// Result is what Process returns to the orchestrator for one pipeline tick.
type Result struct {
	Outcome Outcome
	Last    *model.AnalysisResult // the most recent analysis, if any (cached or fresh)
}

// Module is the LLM analysis module: single-slot pending utterance,
// cooldown-gated analysis, AlertBoard for emergency display decay.
type Module struct {
	cfg      Config
	analyzer Analyzer
	bus      *bus.Bus
	board    *AlertBoard

	unsubscribe func()

	mu               sync.Mutex
	pendingText      string
	pendingAt        time.Time
	havePending      bool
	lastAnalysisTime time.Time
	lastResult       *model.AnalysisResult
}

// New returns a Module submitting requests to analyzer and publishing to
// eventBus. analyzer may be nil if no LLM is configured (`--no-llm`) — in
// that case Process always returns OutcomeNoFrame/OutcomeNoSpeech as
// appropriate but never calls out.
func New(cfg Config, analyzer Analyzer, eventBus *bus.Bus) *Module {
	m := &Module{
		cfg:      cfg,
		analyzer: analyzer,
		bus:      eventBus,
		board:    NewAlertBoard(cfg.AlertWindow),
	}
	if eventBus != nil {
		m.unsubscribe = eventBus.Subscribe(model.TopicSttTextRecognized, m.onTextRecognized)
	}
	return m
}

func (m *Module) onTextRecognized(ev model.Event) {
	payload, ok := model.DecodePayload[model.SttTextRecognizedPayload](ev)
	if !ok {
		return
	}
	m.mu.Lock()
	m.pendingText = payload.Text
	m.pendingAt = payload.Timestamp
	m.havePending = true
	m.mu.Unlock()
}

// Available reports whether an analyzer was supplied.
func (m *Module) Available() bool { return m.analyzer != nil }

// Close releases the module's stt.text_recognized subscription.
func (m *Module) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Board exposes the module's AlertBoard. The ops server's /healthz
// response does not include it.
func (m *Module) Board() *AlertBoard { return m.board }

// Process runs the per-tick analysis trigger rule: no frame, an active
// cooldown, or a stale or absent pending utterance returns before any
// external call is made; an analyzer error returns OutcomeAnalyzerError
// with the previous result.
func (m *Module) Process(ctx context.Context, frame *model.Frame, hasPerson bool) (Result, error) {
	if frame == nil {
		return Result{Outcome: OutcomeNoFrame, Last: m.cachedResult()}, nil
	}

	now := time.Now()
	m.mu.Lock()
	sinceLast := now.Sub(m.lastAnalysisTime)
	cooldownActive := !m.lastAnalysisTime.IsZero() && sinceLast < m.cfg.Cooldown
	if cooldownActive {
		cached := m.lastResult
		m.mu.Unlock()
		return Result{Outcome: OutcomeCached, Last: cached}, nil
	}

	if m.havePending && now.Sub(m.pendingAt) > pendingUtteranceTTL {
		m.havePending = false
	}
	if !m.havePending {
		m.mu.Unlock()
		return Result{Outcome: OutcomeNoSpeech, Last: m.lastResult}, nil
	}
	text := m.pendingText
	recognizedAt := m.pendingAt
	m.havePending = false // consumed
	m.mu.Unlock()

	if m.analyzer == nil {
		return Result{Outcome: OutcomeNoSpeech, Last: m.cachedResult()}, nil
	}

	jpegBytes, err := downscaleJPEG(frame, m.cfg.MaxImageSize, m.cfg.JPEGQuality)
	if err != nil {
		log.Printf("[llm] frame encode failed: %v", err)
		return Result{Outcome: OutcomeAnalyzerError, Last: m.cachedResult()}, nil
	}

	resp, err := m.analyzer.Analyze(ctx, AnalysisRequest{
		UtteranceText: text,
		ImageJPEG:     jpegBytes,
		HasPerson:     hasPerson,
	})
	if err != nil {
		log.Printf("[llm] analyzer error: %v", err)
		return Result{Outcome: OutcomeAnalyzerError, Last: m.cachedResult()}, nil
	}

	result := &model.AnalysisResult{
		SituationType:          resp.SituationType,
		Situation:              resp.Situation,
		Urgency:                resp.Urgency,
		Priority:               resp.Priority,
		IsEmergency:            resp.IsEmergency,
		Reason:                 resp.Reason,
		SuggestedAction:        resp.SuggestedAction,
		AudioVisualConsistency: resp.AudioVisualConsistency,
		ProducedAt:             now,
		ExpiresAt:              now.Add(m.cfg.AlertWindow),
		SourceUtterance: model.SpeechUtterance{
			Text:         text,
			RecognizedAt: recognizedAt,
		},
	}

	m.mu.Lock()
	m.lastAnalysisTime = now
	m.lastResult = result
	m.mu.Unlock()

	m.publish(result)
	if result.IsEmergency {
		m.board.Raise(result, now)
	}

	return Result{Outcome: OutcomeAnalyzed, Last: result}, nil
}

func (m *Module) cachedResult() *model.AnalysisResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

func (m *Module) publish(result *model.AnalysisResult) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(model.Event{
		Topic:    model.TopicLlmAnalysisComplete,
		Source:   ownerName,
		Priority: model.EventNormal,
		Payload: model.LlmAnalysisCompletePayload{
			Priority:      result.Priority,
			IsEmergency:   result.IsEmergency,
			SituationType: result.SituationType,
			Urgency:       result.Urgency,
			Summary:       result.Situation,
			SpeechText:    result.SourceUtterance.Text,
		},
	})

	if !result.IsEmergency {
		return
	}
	m.bus.Publish(model.Event{
		Topic:    model.TopicLlmEmergency,
		Source:   ownerName,
		Priority: model.EventEmergency,
		Payload: model.LlmEmergencyPayload{
			Urgency:   result.Urgency,
			Situation: result.Situation,
			Reason:    result.Reason,
		},
	})
}

// downscaleJPEG resizes frame so its long side is at most maxSize (pixel
// nearest-neighbor, no upscaling) and JPEG-encodes the result at quality.
func downscaleJPEG(frame *model.Frame, maxSize, quality int) ([]byte, error) {
	img := frameToImage(frame)

	w, h := frame.Width, frame.Height
	if maxSize > 0 && (w > maxSize || h > maxSize) {
		var scale float64
		if w >= h {
			scale = float64(maxSize) / float64(w)
		} else {
			scale = float64(maxSize) / float64(h)
		}
		img = resizeNearest(img, int(float64(w)*scale), int(float64(h)*scale))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("llm: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func frameToImage(frame *model.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			off := (y*frame.Width + x) * 3
			i := img.PixOffset(x, y)
			img.Pix[i] = frame.Pixels[off]
			img.Pix[i+1] = frame.Pixels[off+1]
			img.Pix[i+2] = frame.Pixels[off+2]
			img.Pix[i+3] = 0xff
		}
	}
	return img
}

func resizeNearest(src *image.RGBA, w, h int) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
