package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/streaming"
)

const sseWriteDeadline = 30 * time.Second

// StreamingHandler serves live interview events over SSE and WebSocket.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers the streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
	mux.HandleFunc("GET /stream/ws", h.handleWS)
}

// parseTypeFilter reads the optional comma-separated event type filter.
func parseTypeFilter(r *http.Request) map[string]struct{} {
	filter := map[string]struct{}{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				filter[t] = struct{}{}
			}
		}
	}
	return filter
}

// replayEvents returns the backlog after lastID, falling back to the Redis
// mirror when the in-memory ring has nothing (a restart empties it).
func (h *StreamingHandler) replayEvents(r *http.Request, interviewID string, lastID uint64) []streaming.Event {
	events := h.mgr.ReplaySince(interviewID, lastID)
	if len(events) > 0 {
		return events
	}
	mirrored, err := h.mgr.ReplayMirror(r.Context(), interviewID, lastID)
	if err != nil {
		h.logger.Warn("Mirror replay failed",
			zap.String("interview_id", interviewID), zap.Error(err))
		return nil
	}
	return mirrored
}

// handleSSE streams interview events via Server-Sent Events.
// GET /stream/sse?interview_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	interviewID := r.URL.Query().Get("interview_id")
	if interviewID == "" {
		http.Error(w, `{"error":"interview_id required"}`, http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r)

	// Last-Event-ID header or query param to replay from.
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	// The server's WriteTimeout would sever long-lived streams; push the
	// deadline forward around every write instead.
	rc := http.NewResponseController(w)

	ch := h.mgr.Subscribe(interviewID, 256)
	defer h.mgr.Unsubscribe(interviewID, ch)

	writeEvent := func(evt streaming.Event) {
		_ = rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))
		if evt.Seq > 0 {
			fmt.Fprintf(w, "id: %d\n", evt.Seq)
		}
		if evt.Type != "" {
			fmt.Fprintf(w, "event: %s\n", evt.Type)
		}
		fmt.Fprintf(w, "data: %s\n\n", string(evt.Marshal()))
	}

	// Initial comment establishes the stream.
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))
	fmt.Fprintf(w, ": connected to interview %s\n\n", interviewID)
	flusher.Flush()

	// Replay backlog since lastID (best-effort).
	if lastID > 0 {
		for _, evt := range h.replayEvents(r, interviewID, lastID) {
			if len(typeFilter) > 0 {
				if _, ok := typeFilter[evt.Type]; !ok {
					continue
				}
			}
			writeEvent(evt)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("interview_id", interviewID))
			return
		case evt, ok := <-ch:
			if !ok {
				// Interview finished and its streams were closed.
				return
			}
			if len(typeFilter) > 0 {
				if _, ok := typeFilter[evt.Type]; !ok {
					continue
				}
			}
			writeEvent(evt)
			flusher.Flush()
		case <-hb.C:
			// Keep connections alive through proxies.
			_ = rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
