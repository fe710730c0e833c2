package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fedlab/fedflow/engine"
)

func TestProgressHubFanOut(t *testing.T) {
	hub := NewProgressHub()

	chA, cancelA := hub.Subscribe("plan-1")
	chB, cancelB := hub.Subscribe("plan-1")
	chOther, cancelOther := hub.Subscribe("plan-2")
	defer cancelA()
	defer cancelB()
	defer cancelOther()

	hub.Publish(engine.ProgressEvent{PlanKey: "plan-1", Round: 1})

	for _, ch := range []<-chan engine.ProgressEvent{chA, chB} {
		select {
		case ev := <-ch:
			assert.Equal(t, 1, ev.Round)
		default:
			t.Fatal("expected event")
		}
	}
	select {
	case <-chOther:
		t.Fatal("event leaked to another plan's subscriber")
	default:
	}
}

func TestProgressHubDropsWhenSubscriberStalls(t *testing.T) {
	hub := NewProgressHub()
	_, cancel := hub.Subscribe("plan-1")
	defer cancel()

	// Publish never blocks even with nobody draining.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < progressBuffer*3; i++ {
			hub.Publish(engine.ProgressEvent{PlanKey: "plan-1", Round: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestProgressHubUnsubscribe(t *testing.T) {
	hub := NewProgressHub()

	_, cancel := hub.Subscribe("plan-1")
	assert.Equal(t, 1, hub.SubscriberCount("plan-1"))

	cancel()
	assert.Equal(t, 0, hub.SubscriberCount("plan-1"))
	cancel() // idempotent
}

func TestHandleProgressStreamsEvents(t *testing.T) {
	hub := NewProgressHub()
	h := NewProgressHandler(hub, zaptest.NewLogger(t))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/plans/{key}/progress", h.HandleProgress)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/v1/plans/plan-1/progress"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The subscription is registered during the handshake; wait for it
	// before publishing.
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("plan-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	want := engine.ProgressEvent{
		PlanKey:        "plan-1",
		Round:          2,
		TotalRounds:    3,
		TasksCompleted: 9,
		TasksTotal:     14,
	}
	hub.Publish(want)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var got engine.ProgressEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, want, got)
}
