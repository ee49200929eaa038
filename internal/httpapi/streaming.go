// Package httpapi exposes the lifecycle event stream over SSE and WebSocket.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/streaming"
)

const subscriberBuffer = 256

// StreamingHandler serves lifecycle events of one workflow at a time
type StreamingHandler struct {
	mgr       *streaming.Manager
	logger    *zap.Logger
	verifier  *TokenVerifier
	heartbeat time.Duration
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger, heartbeat: 15 * time.Second}
}

// WithAuth requires a stream token on every route
func (h *StreamingHandler) WithAuth(v *TokenVerifier) *StreamingHandler {
	h.verifier = v
	return h
}

// RegisterRoutes registers /stream/sse and /stream/ws on mux
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.guard(h.handleSSE))
	mux.HandleFunc("/stream/ws", h.guard(h.handleWS))
}

func (h *StreamingHandler) guard(next http.HandlerFunc) http.HandlerFunc {
	if h.verifier == nil {
		return next
	}
	return h.verifier.Require(next)
}

// streamRequest holds the query of a stream request:
// workflow_id (required), types (comma separated outcomes) and last_event_id.
type streamRequest struct {
	workflowID string
	types      map[string]struct{}
	replay     bool
	lastID     uint64
}

func parseStreamRequest(r *http.Request) (streamRequest, bool) {
	q := r.URL.Query()
	req := streamRequest{workflowID: q.Get("workflow_id"), types: map[string]struct{}{}}
	if req.workflowID == "" {
		return req, false
	}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.types[t] = struct{}{}
			}
		}
	}
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = q.Get("last_event_id")
	}
	if last != "" {
		if n, err := strconv.ParseUint(last, 10, 64); err == nil {
			req.replay, req.lastID = true, n
		}
	}
	return req, true
}

func (s streamRequest) wants(evt streaming.Event) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

// handleSSE streams events via Server-Sent Events.
// GET /stream/sse?workflow_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	req, ok := parseStreamRequest(r)
	if !ok {
		http.Error(w, `{"error":"workflow_id required"}`, http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.mgr.Subscribe(req.workflowID, subscriberBuffer)
	defer h.mgr.Unsubscribe(req.workflowID, ch)

	fmt.Fprintf(w, ": connected to workflow %s\n\n", req.workflowID)
	if req.replay {
		for _, evt := range h.mgr.ReplaySince(req.workflowID, req.lastID) {
			if req.wants(evt) {
				writeSSE(w, evt)
			}
		}
	}
	flusher.Flush()

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("workflow_id", req.workflowID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !req.wants(evt) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt streaming.Event) {
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
}
