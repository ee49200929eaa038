package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/streaming"
)

func newServer(t *testing.T) (*streaming.Manager, *httptest.Server) {
	t.Helper()
	mgr := streaming.NewManager(16)
	mux := http.NewServeMux()
	NewStreamingHandler(mgr, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mgr, srv
}

func TestStreamRequiresWorkflowID(t *testing.T) {
	_, srv := newServer(t)
	for _, path := range []string{"/stream/sse", "/stream/ws"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestSSEReplaysAndFilters(t *testing.T) {
	mgr, srv := newServer(t)
	mgr.Publish(streaming.Event{WorkflowID: "wf-1", Type: agent.OutcomeDecided})
	mgr.Publish(streaming.Event{WorkflowID: "wf-1", Type: agent.OutcomeActivityCompleted})
	mgr.Publish(streaming.Event{WorkflowID: "wf-1", Type: agent.OutcomeDecided})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/sse?workflow_id=wf-1&types=decided&last_event_id=0", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var ids []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(ids) < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
		if strings.HasPrefix(line, "event: ") {
			assert.Equal(t, "event: decided", line)
		}
	}
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestWebSocketDeliversLiveEvents(t *testing.T) {
	mgr, srv := newServer(t)
	mgr.Publish(streaming.Event{WorkflowID: "wf-2", Type: agent.OutcomeDecided})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?workflow_id=wf-2&last_event_id=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var replayed streaming.Event
	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, uint64(1), replayed.Seq)

	// The subscription exists once the replay was written
	mgr.Publish(streaming.Event{WorkflowID: "wf-2", Type: agent.OutcomeActivityFailed, Reason: "exception"})

	var live streaming.Event
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, uint64(2), live.Seq)
	assert.Equal(t, agent.OutcomeActivityFailed, live.Type)
	assert.Equal(t, "exception", live.Reason)
}
