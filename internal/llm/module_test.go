package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
)

type stubAnalyzer struct {
	calls    int
	response AnalysisResponse
	err      error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error) {
	s.calls++
	return s.response, s.err
}

func testFrame() *model.Frame {
	return &model.Frame{Width: 64, Height: 48, Pixels: make([]byte, 64*48*3), CapturedAt: time.Now()}
}

func publishUtterance(t *testing.T, b *bus.Bus, text string, at time.Time) {
	t.Helper()
	require.NoError(t, b.Publish(model.Event{
		Topic:   model.TopicSttTextRecognized,
		Source:  "stt",
		Payload: model.SttTextRecognizedPayload{Text: text, Timestamp: at},
	}))
	time.Sleep(50 * time.Millisecond) // let the bus worker deliver
}

func TestModule_NoFrameReturnsNoFrame(t *testing.T) {
	m := New(DefaultConfig(), &stubAnalyzer{}, nil)
	res, err := m.Process(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoFrame, res.Outcome)
}

func TestModule_NoSpeechNeverTriggersAnalysis(t *testing.T) {
	analyzer := &stubAnalyzer{}
	m := New(DefaultConfig(), analyzer, nil)
	res, err := m.Process(context.Background(), testFrame(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSpeech, res.Outcome)
	assert.Equal(t, 0, analyzer.calls, "person detection alone must never trigger analysis")
}

func TestModule_PendingUtteranceTriggersAnalysisAndEmergency(t *testing.T) {
	b, err := bus.New()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	var mu sync.Mutex
	var emergencies []model.LlmEmergencyPayload
	b.Subscribe(model.TopicLlmEmergency, func(ev model.Event) {
		payload, ok := model.DecodePayload[model.LlmEmergencyPayload](ev)
		if !ok {
			return
		}
		mu.Lock()
		emergencies = append(emergencies, payload)
		mu.Unlock()
	})

	analyzer := &stubAnalyzer{response: AnalysisResponse{
		SituationType: "fire",
		Situation:     "person reports a fire",
		Urgency:       model.UrgencyCritical,
		Priority:      model.UrgencyCritical,
		IsEmergency:   true,
		Reason:        "explicit distress speech",
	}}
	m := New(DefaultConfig(), analyzer, b)
	defer m.Close()

	publishUtterance(t, b, "help, there's a fire", time.Now())

	res, err := m.Process(context.Background(), testFrame(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnalyzed, res.Outcome)
	require.NotNil(t, res.Last)
	assert.True(t, res.Last.IsEmergency)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emergencies) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, model.UrgencyCritical, emergencies[0].Urgency)
	mu.Unlock()

	require.NotNil(t, m.Board().Active(time.Now()))
}

func TestModule_CooldownReturnsCachedWithoutReanalyzing(t *testing.T) {
	b, err := bus.New()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	analyzer := &stubAnalyzer{response: AnalysisResponse{SituationType: "normal"}}
	cfg := DefaultConfig()
	cfg.Cooldown = 5 * time.Second
	m := New(cfg, analyzer, b)
	defer m.Close()

	publishUtterance(t, b, "hello", time.Now())
	res1, err := m.Process(context.Background(), testFrame(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnalyzed, res1.Outcome)
	assert.Equal(t, 1, analyzer.calls)

	publishUtterance(t, b, "hello again", time.Now())
	res2, err := m.Process(context.Background(), testFrame(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, res2.Outcome)
	assert.Equal(t, 1, analyzer.calls, "no second analyzer call within cooldown")
}

func TestModule_DiscardsStaleUtterance(t *testing.T) {
	b, err := bus.New()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	analyzer := &stubAnalyzer{response: AnalysisResponse{SituationType: "normal"}}
	m := New(DefaultConfig(), analyzer, b)
	defer m.Close()

	publishUtterance(t, b, "old speech", time.Now().Add(-31*time.Second))

	res, err := m.Process(context.Background(), testFrame(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSpeech, res.Outcome)
	assert.Equal(t, 0, analyzer.calls)
}
