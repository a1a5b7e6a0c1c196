package model

import "time"

// DoaReading is one direction-of-arrival estimate from the mic array.
//
// RawAngle is 0..360 degrees, 0 = array front, clockwise. Sector is a
// multiple of 30 degrees (see mic.Sector for the quantization rule).
type DoaReading struct {
	RawAngle    float64
	SmoothAngle float64
	Confidence  float64
	Gain        float64
	Sector      float64
	CapturedAt  time.Time
}

// SpeechUtterance is one recognized speech segment.
//
// Invariant: Text is non-empty UTF-8.
type SpeechUtterance struct {
	Text         string
	RecognizedAt time.Time
	Duration     time.Duration
	DOAAngle     *float64 // optional, most recent mic.doa_detected sector at recognition time
}

// Urgency is the ∈ {LOW, MEDIUM, HIGH, CRITICAL} urgency/priority label used
// by AnalysisResult.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// AnalysisResult is the LlmAnalysisModule's output for one triggered
// analysis.
type AnalysisResult struct {
	SituationType          string
	Situation              string
	Urgency                Urgency
	Priority               Urgency
	IsEmergency            bool
	Reason                 string
	SuggestedAction        string
	AudioVisualConsistency string
	ProducedAt             time.Time
	ExpiresAt              time.Time // when this result stops being shown on the alert board
	SourceUtterance        SpeechUtterance
}
