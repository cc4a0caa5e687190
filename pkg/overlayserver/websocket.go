package overlayserver

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WatchEvent is broadcast to every connected watcher at a transaction
// boundary. Kind is one of "commit", "rollback", or "drain".
type WatchEvent struct {
	Kind             string    `json:"kind"`
	TransactionDepth int       `json:"transactionDepth"`
	At               time.Time `json:"at"`
}

// NotifyCommit tells every connected watcher that CommitTransaction was
// just called on the inspected changeset.
func (s *Server) NotifyCommit() { s.broadcast(WatchEvent{Kind: "commit"}) }

// NotifyRollback tells every connected watcher that RollbackTransaction
// was just called on the inspected changeset.
func (s *Server) NotifyRollback() { s.broadcast(WatchEvent{Kind: "rollback"}) }

// NotifyDrain tells every connected watcher that DrainCommitted was
// just called on the inspected changeset.
func (s *Server) NotifyDrain() { s.broadcast(WatchEvent{Kind: "drain"}) }

func (s *Server) broadcast(evt WatchEvent) {
	evt.TransactionDepth = s.cs.TransactionDepth()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.watchers {
		select {
		case ch <- evt:
		default:
			// Slow watcher: drop the event rather than block the owner
			// thread that drives the changeset.
			log.Printf("overlayserver: dropping event for slow watcher %s", id)
		}
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("overlayserver: failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	id := fmt.Sprintf("ws-%d", time.Now().UnixNano())
	ch := make(chan WatchEvent, 16)

	s.mu.Lock()
	s.watchers[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()

	// Detect client-initiated close without blocking the write loop.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("overlayserver: failed to write watch event: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
