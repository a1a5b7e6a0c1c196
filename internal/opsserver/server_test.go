package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/metrics"
	"github.com/argusvision/sentinel/internal/model"
)

func TestHandleHealthz_ReportsModuleStatus(t *testing.T) {
	s := New("", nil, metrics.New(), func() map[string]bool {
		return map[string]bool{"vision": true, "mic": false}
	}, nil)

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Modules["vision"])
	assert.False(t, body.Modules["mic"])
}

func TestHandleWS_RelaysBusEvents(t *testing.T) {
	b, err := bus.New()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	s := New("", b, metrics.New(), nil, nil)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()
	defer s.Shutdown(context.Background())

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let the subscription register

	require.NoError(t, b.Publish(model.Event{
		Topic:   model.TopicYoloNoObjects,
		Source:  "detection",
		Payload: model.YoloNoObjectsPayload{Mode: "patrol"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev model.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, model.TopicYoloNoObjects, ev.Topic)
}
