package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusvision/sentinel/internal/model"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Shutdown(ctx)
	})
	return b
}

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "yolo.person_detected", true},
		{"yolo.*", "yolo.person_detected", true},
		{"yolo.*", "mic.doa_detected", false},
		{"yolo.person_detected", "yolo.person_detected", true},
		{"yolo.person_detected", "yolo.no_objects", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, matches(c.pattern, c.topic), "pattern=%s topic=%s", c.pattern, c.topic)
	}
}

func TestSubscribeExactTopic(t *testing.T) {
	b := newTestBus(t)

	received := make(chan model.Event, 1)
	unsub := b.Subscribe(model.TopicYoloPersonDetected, func(ev model.Event) {
		received <- ev
	})
	defer unsub()

	err := b.Publish(model.Event{Topic: model.TopicYoloPersonDetected, Source: "test", Priority: model.EventHigh})
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, model.TopicYoloPersonDetected, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeWildcard(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var topics []string
	unsub := b.Subscribe("yolo.*", func(ev model.Event) {
		mu.Lock()
		topics = append(topics, ev.Topic)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, b.Publish(model.Event{Topic: model.TopicYoloObjectsDetected}))
	require.NoError(t, b.Publish(model.Event{Topic: model.TopicMicDoaDetected}))
	require.NoError(t, b.Publish(model.Event{Topic: model.TopicYoloNoObjects}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{model.TopicYoloObjectsDetected, model.TopicYoloNoObjects}, topics)
}

func TestPerTopicOrderingPreserved(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var seen []int
	unsub := b.Subscribe(model.TopicYoloObjectsDetected, func(ev model.Event) {
		seq := int(ev.Payload.(map[string]any)["seq"].(float64))
		mu.Lock()
		seen = append(seen, seq)
		mu.Unlock()
	})
	defer unsub()

	const n = 50
	for i := 1; i <= n; i++ {
		require.NoError(t, b.Publish(model.Event{
			Topic:   model.TopicYoloObjectsDetected,
			Payload: map[string]any{"seq": i},
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		assert.Equal(t, i+1, v, "events for a single topic must be delivered in publish order")
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	b := newTestBus(t)

	bReceived := make(chan struct{}, 1)
	unsubA := b.Subscribe(model.TopicMicZenithDetected, func(ev model.Event) {
		panic("boom")
	})
	defer unsubA()
	unsubB := b.Subscribe(model.TopicMicZenithDetected, func(ev model.Event) {
		bReceived <- struct{}{}
	})
	defer unsubB()

	require.NoError(t, b.Publish(model.Event{Topic: model.TopicMicZenithDetected}))

	select {
	case <-bReceived:
	case <-time.After(time.Second):
		t.Fatal("handler B never received the event after handler A panicked")
	}

	// subsequent publishes must still succeed
	require.NoError(t, b.Publish(model.Event{Topic: model.TopicMicZenithDetected}))
	select {
	case <-bReceived:
	case <-time.After(time.Second):
		t.Fatal("subsequent publish did not reach handler B")
	}
}

func TestRecentHistoryBounded(t *testing.T) {
	b := newTestBus(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(model.Event{Topic: model.TopicMicSpeechDetected}))
	}

	require.Eventually(t, func() bool {
		return len(b.Recent("*", 100)) == 5
	}, time.Second, 10*time.Millisecond)

	recent := b.Recent(model.TopicMicSpeechDetected, 2)
	assert.Len(t, recent, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	var count int
	var mu sync.Mutex
	unsub := b.Subscribe(model.TopicSttListeningStarted, func(ev model.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, b.Publish(model.Event{Topic: model.TopicSttListeningStarted}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	unsub()
	require.NoError(t, b.Publish(model.Event{Topic: model.TopicSttListeningStarted}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
