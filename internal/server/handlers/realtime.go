package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/realtime"
)

const defaultHeartbeatInterval = 30 * time.Second

// RealtimeHandler serves the SSE change-notification surface (spec §4.9,
// §6.2): a long-lived stream opened with Open, and subscription updates
// posted out-of-band through Subscribe, addressed by the client id the
// connect frame carried.
type RealtimeHandler struct {
	registry  *realtime.Registry
	heartbeat time.Duration
	devMode   bool
}

func NewRealtimeHandler(registry *realtime.Registry, heartbeat time.Duration, devMode bool) *RealtimeHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &RealtimeHandler{registry: registry, heartbeat: heartbeat, devMode: devMode}
}

// Open serves GET /api/realtime. It holds the connection for its
// lifetime, writing a connect frame, then every broadcast and heartbeat
// frame the client's subscriptions match, until the client disconnects.
func (h *RealtimeHandler) Open(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, apierror.Internal(errStreamingUnsupported), h.devMode)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	rid := recordIdentity(identity)

	client := h.registry.Connect(rid.IsAdmin, rid.Auth)
	defer h.registry.Disconnect(client.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(realtime.ConnectFrame(client.ID))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write(realtime.HeartbeatFrame); err != nil {
				return
			}
			flusher.Flush()
			client.Touch()
		case frame, ok := <-client.Messages():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Subscribe serves POST /api/realtime, replacing the subscription set of
// the client named by the request body's clientId (spec §4.9).
func (h *RealtimeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req realtime.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid request body: %s", err.Error()), h.devMode)
		return
	}
	if req.ClientID == "" {
		WriteError(w, apierror.BadRequest("clientId is required"), h.devMode)
		return
	}

	if err := h.registry.Subscribe(r.Context(), req.ClientID, req.Subscriptions); err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type streamingUnsupportedError struct{}

func (streamingUnsupportedError) Error() string { return "response writer does not support streaming" }

var errStreamingUnsupported = streamingUnsupportedError{}
