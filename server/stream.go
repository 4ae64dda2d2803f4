package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// streamKeepalive is the idle ping period for both stream transports.
const streamKeepalive = 15 * time.Second

// ssePadding defeats proxy buffering on the first write.
var ssePadding = ":" + strings.Repeat(" ", 2048) + "\n\n"

// handleStream serves the per-user Server-Sent Events feed: a hello, an
// immediate snapshot, then live events with periodic keepalives.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.RLock()
	u, err := s.userFromRequest(r)
	if err != nil {
		s.gs.Mu.RUnlock()
		writeErr(w, err)
		return
	}
	snapshot := s.buildSnapshot(u.ID, unixNow())
	s.gs.Mu.RUnlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, badRequest("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ssePadding)
	fmt.Fprint(w, "retry: 2000\n\n")
	w.Write(Event{Name: "hello", Data: map[string]interface{}{}}.FormatSSE())
	w.Write(Event{Name: "snapshot", Data: snapshot}.FormatSSE())
	flusher.Flush()

	sub := s.hub.Subscribe(u.ID)
	defer s.hub.Unsubscribe(sub)
	log.Printf("[STREAM] SSE open for user %d", u.ID)
	defer log.Printf("[STREAM] SSE closed for user %d", u.ID)

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-sub.ch:
			if _, err := w.Write(ev.FormatSSE()); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			ev := Event{Name: "ping", Data: map[string]interface{}{"t": unixNow()}}
			if _, err := w.Write(ev.FormatSSE()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     isValidOrigin,
}

// isValidOrigin accepts same-host browsers and non-browser clients that
// send no Origin header.
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.Contains(origin, r.Host)
}

// wsFrame is the JSON envelope on the websocket mirror of the event feed.
type wsFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// handleWebsocket mirrors the event feed over a websocket for clients that
// prefer a bidirectional transport. Inbound messages are ignored; the read
// loop only detects disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.RLock()
	u, err := s.userFromRequest(r)
	var snapshot SnapshotEvent
	if err == nil {
		snapshot = s.buildSnapshot(u.ID, unixNow())
	}
	s.gs.Mu.RUnlock()
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[STREAM] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[STREAM] Websocket open for user %d", u.ID)
	defer log.Printf("[STREAM] Websocket closed for user %d", u.ID)

	sub := s.hub.Subscribe(u.ID)
	defer s.hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(wsFrame{Event: "snapshot", Data: snapshot}); err != nil {
		return
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-sub.ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(wsFrame{Event: ev.Name, Data: ev.Data}); err != nil {
				return
			}
		case <-keepalive.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
