package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventPriority is the 0/1/2 priority band carried on every Event.
type EventPriority int

const (
	EventNormal    EventPriority = 0
	EventHigh      EventPriority = 1
	EventEmergency EventPriority = 2
)

// Event is one message on the EventBus. Payload must conform to the fixed
// schema declared for Topic; implementations must not add undocumented
// required fields.
type Event struct {
	ID        string
	Topic     string
	Payload   any
	Source    string
	Priority  EventPriority
	Timestamp time.Time
}

// NewEventID returns a fresh event correlation ID.
func NewEventID() string {
	return uuid.New().String()
}

// DecodePayload converts an event's payload into its concrete per-topic
// schema type. A payload handed over in-process may already be a T; one
// that crossed the bus's JSON transport arrives as generically decoded JSON
// and is re-marshaled into T. The boolean is false when the payload does
// not conform to T's schema.
func DecodePayload[T any](ev Event) (T, bool) {
	if v, ok := ev.Payload.(T); ok {
		return v, true
	}
	var out T
	if ev.Payload == nil {
		return out, false
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// Well-known topics, one constant per payload schema below.
const (
	TopicMicDoaDetected      = "mic.doa_detected"
	TopicMicZenithDetected   = "mic.zenith_detected"
	TopicMicSpeechDetected   = "mic.speech_detected"
	TopicYoloObjectsDetected = "yolo.objects_detected"
	TopicYoloPersonDetected  = "yolo.person_detected"
	TopicYoloNoObjects       = "yolo.no_objects"
	TopicSttTextRecognized   = "stt.text_recognized"
	TopicSttListeningStarted = "stt.listening_started"
	TopicSttListeningStopped = "stt.listening_stopped"
	TopicLlmAnalysisComplete = "llm.analysis_complete"
	TopicLlmEmergency        = "llm.emergency"
)

// --- Payload schemas ---

type MicDoaDetectedPayload struct {
	SectorAngle float64 `json:"sector_angle"`
	SmoothAngle float64 `json:"smooth_angle"`
	Confidence  float64 `json:"confidence"`
}

type MicZenithDetectedPayload struct {
	Confidence float64 `json:"confidence"`
}

type MicSpeechDetectedPayload struct {
	RawAngle float64 `json:"raw_angle"`
	Gain     float64 `json:"gain"`
}

type YoloObjectsDetectedPayload struct {
	Objects []DetectedObject `json:"objects"`
	Count   int              `json:"count"`
	Mode    string           `json:"mode"`
}

type YoloPersonDetectedPayload struct {
	Objects []DetectedObject `json:"objects"`
	Count   int              `json:"count"`
	Target  *DetectedObject  `json:"target"`
}

type YoloNoObjectsPayload struct {
	Mode string `json:"mode"`
}

type SttTextRecognizedPayload struct {
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	DOAAngle  *float64      `json:"doa_angle,omitempty"`
}

type LlmAnalysisCompletePayload struct {
	Priority      Urgency `json:"priority"`
	IsEmergency   bool    `json:"is_emergency"`
	SituationType string  `json:"situation_type"`
	Urgency       Urgency `json:"urgency"`
	Summary       string  `json:"summary"`
	SpeechText    string  `json:"speech_text"`
}

type LlmEmergencyPayload struct {
	Urgency   Urgency `json:"urgency"`
	Situation string  `json:"situation"`
	Reason    string  `json:"reason"`
}
