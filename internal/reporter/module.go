// Package reporter implements the ReporterModule: a pure EventBus
// subscriber that forwards a fixed set of events as rate-limited JSON
// payloads to an external endpoint, using a short-timeout http.Client for
// a one-shot outbound POST that is never retried on failure.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/model"
)

const ownerName = "reporter"

// Config holds the module's tunables.
type Config struct {
	URL     string
	Timeout time.Duration // default 2s

	// Per-topic minimum interval between outgoing POSTs.
	EmergencyInterval      time.Duration // default 0s
	AnalysisInterval       time.Duration // default 2s
	PersonDetectedInterval time.Duration // default 3s
	DOAInterval            time.Duration // default 200ms

	// OnPost, when set, is invoked after every POST attempt with whether
	// it succeeded. Used by the metrics wiring.
	OnPost func(ok bool)
}

// DefaultConfig returns the documented defaults (URL must still be set).
func DefaultConfig() Config {
	return Config{
		Timeout:                2 * time.Second,
		EmergencyInterval:      0,
		AnalysisInterval:       2 * time.Second,
		PersonDetectedInterval: 3 * time.Second,
		DOAInterval:            200 * time.Millisecond,
	}
}

// envelope is the outgoing POST body: {source, type, timestamp, data}.
type envelope struct {
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Module subscribes to a fixed set of topics and forwards rate-limited
// payloads over HTTP. It never retries a failed POST.
type Module struct {
	cfg    Config
	client *http.Client

	unsubscribes []func()

	mu         sync.Mutex
	lastSentAt map[string]time.Time

	sendCount int64
	failCount int64
}

// New returns a Module posting to cfg.URL and subscribing to eventBus. A
// nil eventBus is valid for tests; no subscriptions are registered.
func New(cfg Config, eventBus *bus.Bus) *Module {
	m := &Module{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		lastSentAt: make(map[string]time.Time),
	}
	if eventBus == nil {
		return m
	}

	subscribe := func(topic string, interval time.Duration) {
		unsub := eventBus.Subscribe(topic, func(ev model.Event) {
			m.handle(topic, interval, ev)
		})
		m.unsubscribes = append(m.unsubscribes, unsub)
	}
	subscribe(model.TopicLlmEmergency, cfg.EmergencyInterval)
	subscribe(model.TopicLlmAnalysisComplete, cfg.AnalysisInterval)
	subscribe(model.TopicYoloPersonDetected, cfg.PersonDetectedInterval)
	subscribe(model.TopicMicDoaDetected, cfg.DOAInterval)

	return m
}

func (m *Module) handle(topic string, interval time.Duration, ev model.Event) {
	if !m.allow(topic, interval) {
		return
	}
	m.post(topic, ev)
}

// allow enforces the per-topic minimum interval between outgoing POSTs.
func (m *Module) allow(topic string, interval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	last, ok := m.lastSentAt[topic]
	if ok && now.Sub(last) < interval {
		return false
	}
	m.lastSentAt[topic] = now
	return true
}

func (m *Module) fail(topic, msg string, err error) {
	log.Printf("[reporter] %s %q failed: %v", msg, topic, err)
	atomic.AddInt64(&m.failCount, 1)
	if m.cfg.OnPost != nil {
		m.cfg.OnPost(false)
	}
}

func (m *Module) post(topic string, ev model.Event) {
	body, err := json.Marshal(envelope{
		Source:    ownerName,
		Type:      topic,
		Timestamp: ev.Timestamp,
		Data:      ev.Payload,
	})
	if err != nil {
		m.fail(topic, "marshal", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		m.fail(topic, "build request for", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.fail(topic, "POST", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.fail(topic, "POST", fmt.Errorf("non-200 status %d", resp.StatusCode))
		return
	}

	atomic.AddInt64(&m.sendCount, 1)
	if m.cfg.OnPost != nil {
		m.cfg.OnPost(true)
	}
	log.Printf("[reporter] POST %q ok", topic)
}

// SendCount returns the number of successful POSTs since startup.
func (m *Module) SendCount() int64 { return atomic.LoadInt64(&m.sendCount) }

// FailCount returns the number of failed POSTs (non-200 or transport error)
// since startup.
func (m *Module) FailCount() int64 { return atomic.LoadInt64(&m.failCount) }

// Shutdown unsubscribes from the EventBus. In-flight POSTs are not
// cancelled (each is bounded by cfg.Timeout already).
func (m *Module) Shutdown() {
	for _, unsub := range m.unsubscribes {
		unsub()
	}
}
