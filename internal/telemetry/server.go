// Package telemetry exposes the event bus to the outside world: a debug
// WebSocket stream and an optional MQTT mirror.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roverlab/rover/internal/telemetry/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server streams eventbus events to any WebSocket client connecting to
// /ws. It is a pure observability side-channel: nothing in the routing or
// transfer logic depends on it being up.
type Server struct {
	bus  *eventbus.Bus
	addr string
}

// NewServer builds a Server that will listen on addr when Run is called.
func NewServer(bus *eventbus.Bus, addr string) *Server {
	return &Server{bus: bus, addr: addr}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: upgrade error: %v", err)
		return
	}
	defer conn.Close()

	eventCh := s.bus.Subscribe()
	for event := range eventCh {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("telemetry: write error: %v", err)
			return
		}
	}
}

// Handler returns the http.Handler serving /ws, independent of which
// address (if any) it's ultimately bound to. Tests exercise this directly
// with httptest; Run wires it to a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// Run blocks, serving the WebSocket endpoint until the listener fails or
// ctx is cancelled, in which case it shuts the server down and returns nil.
// cmd/rover registers it as an Optional supervisor component, so a non-nil
// return is logged and never stops the process.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("telemetry: websocket server listening on %s", s.addr)
	httpSrv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		return nil
	}
}
