package wsremote

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHubBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"

	register := RegisterRemoteChange(url)
	received := make(chan string, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unsubscribe, err := register(ctx, func(name string) {
		received <- name
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer unsubscribe()

	// Give the server a moment to register the new connection before
	// broadcasting; there is no explicit ack frame in this protocol.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast("widgets")

	select {
	case name := <-received:
		if name != "widgets" {
			t.Errorf("expected widgets, got %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast to reach the client")
	}
}

func TestRegisterRemoteChangeUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	register := RegisterRemoteChange(url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unsubscribe, err := register(ctx, func(string) {})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	unsubscribe()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the hub to drop the client after unsubscribe")
}
