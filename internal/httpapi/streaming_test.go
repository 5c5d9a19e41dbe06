package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/designdrill/orchestrator/internal/streaming"
)

func newStreamingFixture(t *testing.T) (*streaming.Manager, *http.ServeMux) {
	t.Helper()
	mgr := streaming.NewManager(zaptest.NewLogger(t))
	t.Cleanup(mgr.Close)
	mux := http.NewServeMux()
	NewStreamingHandler(mgr, zaptest.NewLogger(t)).RegisterRoutes(mux)
	return mgr, mux
}

// serveSSE runs an SSE request until cancel unblocks the handler, then
// returns the recorder. The replay happens synchronously before the event
// loop, so everything written by then is in the body.
func serveSSE(t *testing.T, mux *http.ServeMux, path string, lastEventID string) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.ServeHTTP(rec, req)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SSE handler did not return after context cancel")
	}
	return rec
}

func TestSSERequiresInterviewID(t *testing.T) {
	_, mux := newStreamingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/stream/sse", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSSEReplaysAfterLastEventID(t *testing.T) {
	mgr, mux := newStreamingFixture(t)

	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventInterviewStarted, Message: "kickoff"})
	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventHypothesesReady, Message: "three candidates"})

	rec := serveSSE(t, mux, "/stream/sse?interview_id=interview-x", "1")

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(body, ": connected to interview interview-x") {
		t.Errorf("missing connect comment:\n%s", body)
	}
	if !strings.Contains(body, "id: 2\n") || !strings.Contains(body, "event: "+streaming.EventHypothesesReady) {
		t.Errorf("missing replayed event 2:\n%s", body)
	}
	if strings.Contains(body, "id: 1\n") {
		t.Errorf("event 1 should not replay after Last-Event-ID 1:\n%s", body)
	}
}

func TestSSETypeFilter(t *testing.T) {
	mgr, mux := newStreamingFixture(t)

	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventInterviewStarted})
	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventCalcExecuted})
	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventVerdictReady})

	rec := serveSSE(t, mux,
		"/stream/sse?interview_id=interview-x&types="+streaming.EventVerdictReady, "1")

	body := rec.Body.String()
	if !strings.Contains(body, "event: "+streaming.EventVerdictReady) {
		t.Errorf("filtered type missing:\n%s", body)
	}
	if strings.Contains(body, "event: "+streaming.EventCalcExecuted) {
		t.Errorf("filter let through %s:\n%s", streaming.EventCalcExecuted, body)
	}
}

func TestSSEEndsWhenStreamsClose(t *testing.T) {
	mgr, mux := newStreamingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/stream/sse?interview_id=interview-x", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.ServeHTTP(rec, req)
	}()

	// CloseStreams only reaches the handler once it has subscribed, so keep
	// closing until the handler returns.
	deadline := time.After(2 * time.Second)
	for {
		mgr.CloseStreams("interview-x")
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("SSE handler did not end after CloseStreams")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWebSocketReplayAndLive(t *testing.T) {
	mgr, mux := newStreamingFixture(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventInterviewStarted})
	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventQuestionPending, Message: "please answer"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?interview_id=interview-x&last_event_id=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt streaming.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read replayed event: %v", err)
	}
	if evt.Seq != 2 || evt.Type != streaming.EventQuestionPending {
		t.Errorf("replayed event = %+v", evt)
	}

	// The subscription exists before replay, so a publish now reaches the
	// connection through the live path.
	mgr.Publish("interview-x", streaming.Event{Type: streaming.EventAnswersReceived})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if evt.Type != streaming.EventAnswersReceived || evt.Seq != 3 {
		t.Errorf("live event = %+v", evt)
	}
}

func TestWebSocketRequiresInterviewID(t *testing.T) {
	_, mux := newStreamingFixture(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial succeeded without interview_id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %+v", resp)
	}
	resp.Body.Close()
}
