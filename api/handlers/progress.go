package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/types"
)

// progressBuffer bounds the per-subscriber event queue. A subscriber
// that stops draining loses events instead of stalling the executor.
const progressBuffer = 16

// ProgressHub fans out executor progress events to WebSocket
// subscribers. Publish satisfies engine.ProgressFunc and never blocks.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan engine.ProgressEvent]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string]map[chan engine.ProgressEvent]struct{})}
}

// Publish delivers an event to every subscriber of its plan.
func (h *ProgressHub) Publish(ev engine.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[ev.PlanKey] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers interest in one plan's events. The returned
// cancel function must be called when the subscriber is done.
func (h *ProgressHub) Subscribe(planKey string) (<-chan engine.ProgressEvent, func()) {
	ch := make(chan engine.ProgressEvent, progressBuffer)

	h.mu.Lock()
	if h.subs[planKey] == nil {
		h.subs[planKey] = make(map[chan engine.ProgressEvent]struct{})
	}
	h.subs[planKey][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[planKey]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, planKey)
			}
		}
	}
	return ch, cancel
}

// SubscriberCount reports the live subscribers of a plan.
func (h *ProgressHub) SubscriberCount(planKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[planKey])
}

// ProgressHandler streams plan progress over WebSocket.
type ProgressHandler struct {
	hub    *ProgressHub
	logger *zap.Logger
}

// NewProgressHandler creates the progress streaming endpoint.
func NewProgressHandler(hub *ProgressHub, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{
		hub:    hub,
		logger: logger.With(zap.String("component", "progress_handler")),
	}
}

// Hub exposes the hub so the executor can be wired to Publish.
func (h *ProgressHandler) Hub() *ProgressHub { return h.hub }

// HandleProgress serves GET /api/v1/plans/{key}/progress. Each round
// completion is pushed as one JSON text message until the client
// disconnects.
func (h *ProgressHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "plan key is required", h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	events, cancel := h.hub.Subscribe(key)
	defer cancel()

	h.logger.Info("progress subscriber connected", zap.String("plan_key", key))

	// CloseRead cancels the context when the client disconnects; no
	// inbound messages are expected on this endpoint.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("encode progress event", zap.Error(err))
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("progress subscriber gone",
					zap.String("plan_key", key),
					zap.Error(err),
				)
				return
			}
		}
	}
}
