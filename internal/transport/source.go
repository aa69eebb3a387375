package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// ErrStreamEnded is reported when the server closes the event stream.
var ErrStreamEnded = errors.New("transport: event stream ended")

// Source opens event streams. Each Open is one subscription; the Client re-opens after a failure.
type Source interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// Stream yields raw event payloads. Next blocks until an event arrives, the stream ends, or the context passed to Open is done.
type Stream interface {
	Next() bool
	Data() []byte
	Err() error
	Close() error
}

// eventURL joins base and path and adds the directory query parameter when set.
func eventURL(base, path, directory string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("transport: bad server url %q: %w", base, err)
	}
	if directory != "" {
		q := u.Query()
		q.Set("directory", directory)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// SSESource subscribes to the server's server-sent-events endpoint.
type SSESource struct {
	BaseURL    string
	Path       string // defaults to "/global/event"
	Directory  string
	HTTPClient *http.Client // defaults to a client without timeout
}

func (s *SSESource) Name() string { return "sse" }

func (s *SSESource) Open(ctx context.Context) (Stream, error) {
	path := s.Path
	if path == "" {
		path = "/global/event"
	}
	u, err := eventURL(s.BaseURL, path, s.Directory)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		res.Body.Close()
		return nil, fmt.Errorf("transport: subscribe: %s: %s", res.Status, bytes.TrimSpace(body))
	}
	dec := ssestream.NewDecoder(res)
	if dec == nil {
		res.Body.Close()
		return nil, fmt.Errorf("transport: subscribe: empty response")
	}
	return &sseStream{dec: dec}, nil
}

type sseStream struct {
	dec  ssestream.Decoder
	data []byte
}

func (s *sseStream) Next() bool {
	for s.dec.Next() {
		data := bytes.TrimSpace(s.dec.Event().Data)
		if len(data) == 0 {
			continue
		}
		s.data = data
		return true
	}
	return false
}

func (s *sseStream) Data() []byte { return s.data }

func (s *sseStream) Err() error {
	err := s.dec.Err()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *sseStream) Close() error { return s.dec.Close() }

// WebSocketSource subscribes over a WebSocket. Each text message is one event.
type WebSocketSource struct {
	URL              string // ws:// or wss://; http(s) is converted
	Directory        string
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Open(ctx context.Context) (Stream, error) {
	raw := s.URL
	raw = strings.Replace(raw, "http://", "ws://", 1)
	raw = strings.Replace(raw, "https://", "wss://", 1)
	u, err := eventURL(raw, "", s.Directory)
	if err != nil {
		return nil, err
	}

	timeout := s.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, res, err := dialer.DialContext(ctx, u, s.Header)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("transport: websocket connect: %s: %w", res.Status, err)
		}
		return nil, fmt.Errorf("transport: websocket connect: %w", err)
	}
	ws := &wsStream{conn: conn, ctx: ctx}
	ws.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return ws, nil
}

type wsStream struct {
	conn *websocket.Conn
	ctx  context.Context
	stop func() bool
	data []byte
	err  error
}

func (s *wsStream) Next() bool {
	for s.err == nil {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			default:
				s.err = err
				return false
			}
			s.err = io.EOF
			return false
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		s.data = data
		return true
	}
	return false
}

func (s *wsStream) Data() []byte { return s.data }

func (s *wsStream) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

func (s *wsStream) Close() error {
	s.stop()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
