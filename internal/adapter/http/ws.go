package http

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vidfetchd/internal/domain"
)

const (
	// terminalPollInterval is how often the relay checks for a terminal
	// state between broadcasts.
	terminalPollInterval = 500 * time.Millisecond

	// wsWriteTimeout bounds a single delivery so one dead client cannot
	// stall the broadcaster.
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSubscriber adapts a websocket connection to the domain Subscriber
// port. Writes are serialized; gorilla connections allow only one
// concurrent writer.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Deliver(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(ev)
}

// handleJobStream streams job events over a websocket: one initial
// snapshot, live broadcasts while the job runs, and a final snapshot
// once it reaches a terminal state.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := &wsSubscriber{conn: conn}
	s.registry.Subscribe(jobID, sub)
	defer s.registry.Unsubscribe(jobID, sub)

	if snap, err := s.registry.GetJob(jobID); err == nil {
		if err := sub.Deliver(domain.NewSnapshotEvent(snap)); err != nil {
			return
		}
	}

	// Read pump: we never expect inbound messages, but reading is the
	// only way to observe a client disconnect.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(terminalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-disconnected:
			return
		case <-ticker.C:
			snap, err := s.registry.GetJob(jobID)
			if err != nil {
				return
			}
			if snap.Status.IsTerminal() {
				_ = sub.Deliver(domain.NewFinalEvent(snap))
				return
			}
		}
	}
}
