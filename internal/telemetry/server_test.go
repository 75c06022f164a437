package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roverlab/rover/internal/telemetry/eventbus"
)

func TestServerStreamsEventsToWebSocketClient(t *testing.T) {
	bus := eventbus.New()
	s := NewServer(bus, "")

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(eventbus.Event{Type: eventbus.NeighborHeard, Private: "10.3.0.1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got eventbus.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading from websocket: %v", err)
	}
	if got.Type != eventbus.NeighborHeard || got.Private != "10.3.0.1" {
		t.Fatalf("unexpected event received: %+v", got)
	}
}
