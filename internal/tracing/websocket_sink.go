package tracing

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/whatsclaw/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketSink fans spans out to every connected eval-UI client. A
// client that can't keep up is dropped rather than allowed to back-
// pressure span emission.
type WebSocketSink struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan store.SpanData
}

func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{clients: make(map[*websocket.Conn]chan store.SpanData)}
}

// HandleConn upgrades r into a live span stream and blocks until the
// client disconnects or writes fail.
func (s *WebSocketSink) HandleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("tracing: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan store.SpanData, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for span := range ch {
		if err := conn.WriteJSON(spanWireFormat(span)); err != nil {
			return
		}
	}
}

// Send implements RemoteSink: best-effort, non-blocking fan-out.
func (s *WebSocketSink) Send(span store.SpanData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- span:
		default:
			slog.Warn("tracing: dropping websocket client, send buffer full")
			delete(s.clients, conn)
			close(ch)
		}
	}
}

func spanWireFormat(span store.SpanData) map[string]any {
	out := map[string]any{
		"trace_id":  span.TraceID.String(),
		"span_type": span.SpanType,
		"name":      span.Name,
		"status":    span.Status,
		"duration_ms": span.DurationMS,
	}
	if span.Model != "" {
		out["model"] = span.Model
	}
	if span.InputTokens > 0 || span.OutputTokens > 0 {
		out["input_tokens"] = span.InputTokens
		out["output_tokens"] = span.OutputTokens
	}
	return out
}
