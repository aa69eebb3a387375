package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/metrics"
	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
)

var streamEvents = []string{
	`{"type":"server.connected","properties":{}}`,
	`{"directory":"/repo","payload":{"type":"message.part.updated","properties":{"part":{"id":"prt_1","sessionID":"ses_1","messageID":"msg_1","type":"text","text":"Hi"},"delta":"Hi"}}}`,
	`{"type":"bogus`,
	`{"directory":"/repo","payload":{"type":"message.part.updated","properties":{"part":{"id":"prt_1","sessionID":"ses_1","messageID":"msg_1","type":"text","text":"Hi there"},"delta":" there"}}}`,
}

func writeSSE(w http.ResponseWriter, events []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, ev := range events {
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", ev)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func TestSSESourceDeliversEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/global/event", r.URL.Path)
		assert.Equal(t, "/repo", r.URL.Query().Get("directory"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		writeSSE(w, streamEvents)
	}))
	defer srv.Close()

	store := conversation.New("ses_1", conversation.Options{})
	defer store.Close()

	c := &Client{
		Source:    &SSESource{BaseURL: srv.URL + "/", Directory: "/repo"},
		Sink:      store,
		SessionID: "ses_1",
		Backoff:   backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 0),
	}
	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrStreamEnded)

	snap := store.Latest()
	m, ok := snap.Message("msg_1")
	require.True(t, ok)
	assert.Equal(t, "Hi there", m.Text())
	assert.Equal(t, conversation.Disconnected, snap.Connection)
	assert.ErrorIs(t, snap.Err, ErrStreamEnded)
}

func TestClientReconnects(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 2:
			writeSSE(w, streamEvents[:2])
		default:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	store := conversation.New("ses_1", conversation.Options{})
	defer store.Close()
	m := metrics.New()

	c := &Client{
		Source:    &SSESource{BaseURL: srv.URL},
		Sink:      store,
		SessionID: "ses_1",
		Backoff:   backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2),
		Metrics:   m,
	}
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	// 1: fail, 2: stream (resets the retry budget), 3: fail, 4: fail and give up.
	assert.Equal(t, int32(4), calls.Load())
	msg, ok := store.Latest().Message("msg_1")
	require.True(t, ok)
	assert.Equal(t, "Hi", msg.Text())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "chatcore_transport_reconnects_total 3")
	assert.Contains(t, rec.Body.String(), `chatcore_transport_errors_total{source="sse"} 4`)
}

func TestClientStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, streamEvents[:2])
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	store := conversation.New("ses_1", conversation.Options{})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := store.Subscribe(ctx)
	done := make(chan error, 1)
	c := &Client{Source: &SSESource{BaseURL: srv.URL}, Sink: store, SessionID: "ses_1"}
	go func() { done <- c.Run(ctx) }()

	for snap := range sub {
		if _, ok := snap.Message("msg_1"); ok {
			break
		}
	}
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	m, ok := store.Latest().Message("msg_1")
	require.True(t, ok)
	assert.Equal(t, "Hi", m.Text())
	assert.NoError(t, store.Latest().Err)
}

func TestSSESourceRejectsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&SSESource{BaseURL: srv.URL}).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWebSocketSource(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range streamEvents {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	store := conversation.New("ses_1", conversation.Options{})
	defer store.Close()

	c := &Client{
		Source:    &WebSocketSource{URL: srv.URL},
		Sink:      store,
		SessionID: "ses_1",
		Backoff:   &backoff.StopBackOff{},
	}
	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrStreamEnded)

	m, ok := store.Latest().Message("msg_1")
	require.True(t, ok)
	assert.Equal(t, "Hi there", m.Text())
}

func TestHTTPDecisionSender(t *testing.T) {
	var got decisionBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session/ses_1/permissions/per_1", r.URL.Path)
		assert.Equal(t, "/repo", r.URL.Query().Get("directory"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "true")
	}))
	defer srv.Close()

	s := &HTTPDecisionSender{BaseURL: srv.URL, Directory: "/repo"}
	err := s.SendDecision(context.Background(), permission.Reply{SessionID: "ses_1", PermissionID: "per_1", CallID: "call_1", Decision: permission.Always})
	require.NoError(t, err)
	assert.Equal(t, decisionBody{Response: "always", CallID: "call_1"}, got)
}

func TestHTTPDecisionSenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s := &HTTPDecisionSender{BaseURL: srv.URL}
	err := s.SendDecision(context.Background(), permission.Reply{SessionID: "ses_1", PermissionID: "per_1", Decision: permission.Deny})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission not found")
}

func TestStoreRollsBackWhenServerRejectsDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	store := conversation.New("ses_1", conversation.Options{Sender: &HTTPDecisionSender{BaseURL: srv.URL}})
	defer store.Close()
	dispatchAll(t, store,
		`{"type":"message.part.updated","properties":{"part":{"id":"prt_1","sessionID":"ses_1","messageID":"msg_1","type":"tool","callID":"call_1","tool":"bash","state":{"status":"pending"}}}}`,
		`{"type":"permission.asked","properties":{"id":"per_1","sessionID":"ses_1","permission":"bash","patterns":["ls"],"tool":{"messageID":"msg_1","callID":"call_1"}}}`,
	)

	err := store.ApproveTool(context.Background(), "call_1")
	require.ErrorIs(t, err, conversation.ErrNotDelivered)
	tool, ok := store.Latest().Tool("call_1")
	require.True(t, ok)
	require.Equal(t, part.StatusError, tool.Status())
	assert.Contains(t, tool.State.(part.Error).Message, "permission decision not delivered: transport: send decision: 410")
}
