package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

// HTTPAnalyzer is a generic JSON-over-HTTP Analyzer: it posts the
// utterance text, a base64-encoded JPEG frame, and a context flag to an
// external multimodal endpoint and parses a conforming JSON response. The
// concrete vendor (model name, auth scheme) is left to deployment
// configuration; this is the thin client a real deployment points at its
// own LLM gateway.
type HTTPAnalyzer struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

// NewHTTPAnalyzer returns an Analyzer posting to endpoint with a bounded
// per-call timeout.
func NewHTTPAnalyzer(endpoint, apiKey, model string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Client:   &http.Client{Timeout: timeout},
	}
}

type httpAnalyzeRequest struct {
	Model       string `json:"model"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64"`
	HasPerson   bool   `json:"has_person"`
}

// httpAnalyzeResponse is the fixed schema an external endpoint must return;
// a non-conforming body surfaces as a decode error, never a panic.
type httpAnalyzeResponse struct {
	SituationType          string `json:"situation_type"`
	Situation              string `json:"situation"`
	Urgency                string `json:"urgency"`
	Priority               string `json:"priority"`
	IsEmergency            bool   `json:"is_emergency"`
	Reason                 string `json:"reason"`
	SuggestedAction        string `json:"suggested_action"`
	AudioVisualConsistency string `json:"audio_visual_consistency"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error) {
	body, err := json.Marshal(httpAnalyzeRequest{
		Model:       a.Model,
		Text:        req.UtteranceText,
		ImageBase64: base64.StdEncoding.EncodeToString(req.ImageJPEG),
		HasPerson:   req.HasPerson,
	})
	if err != nil {
		return AnalysisResponse{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return AnalysisResponse{}, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return AnalysisResponse{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AnalysisResponse{}, fmt.Errorf("llm: endpoint returned status %d", resp.StatusCode)
	}

	var parsed httpAnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return AnalysisResponse{}, fmt.Errorf("llm: decode response: %w", err)
	}

	return AnalysisResponse{
		SituationType:          parsed.SituationType,
		Situation:              parsed.Situation,
		Urgency:                urgencyFrom(parsed.Urgency),
		Priority:               urgencyFrom(parsed.Priority),
		IsEmergency:            parsed.IsEmergency,
		Reason:                 parsed.Reason,
		SuggestedAction:        parsed.SuggestedAction,
		AudioVisualConsistency: parsed.AudioVisualConsistency,
	}, nil
}

func urgencyFrom(s string) model.Urgency {
	switch model.Urgency(s) {
	case model.UrgencyLow, model.UrgencyMedium, model.UrgencyHigh, model.UrgencyCritical:
		return model.Urgency(s)
	default:
		return model.UrgencyLow
	}
}
