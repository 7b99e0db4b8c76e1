package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"crewdash/internal/event"
)

// sseBufferSize is how many undelivered events a device may lag behind
// before it counts as broken and gets evicted.
const sseBufferSize = 16

var (
	errStreamClosed = errors.New("stream closed")
	errStreamFull   = errors.New("stream buffer full")
)

// sseStream adapts a buffered channel to the operator's Stream
// interface. Send never blocks: a full buffer is a delivery failure,
// so one slow device can never stall a broadcast.
type sseStream struct {
	mu     sync.Mutex
	ch     chan event.Event
	closed bool
}

func newSSEStream() *sseStream {
	return &sseStream{ch: make(chan event.Event, sseBufferSize)}
}

func (s *sseStream) Send(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return errStreamFull
	}
}

func (s *sseStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// HandleSSE attaches a device's event stream over Server-Sent Events.
// Attaching re-registers the device, which supersedes any prior stream
// and unicasts a config snapshot back over this connection.
func (c *Context) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	deviceID := chi.URLParam(r, "deviceID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream := newSSEStream()
	if err := c.Operator.AddDevice(sessionID, deviceID, "", stream); err != nil {
		stream.Close()
		writeError(w, err)
		return
	}
	c.Log.Debugw("sse stream attached", "session", sessionID, "device", deviceID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable buffering in nginx/proxies
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			c.Log.Debugw("sse client disconnected", "session", sessionID, "device", deviceID)
			c.Operator.RemoveDevice(sessionID, deviceID, true)
			return
		case ev, open := <-stream.ch:
			if !open {
				// Superseded by a newer stream or purged with the session.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.Log.Errorw("event marshal failed", "session", sessionID, "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
