package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agora/internal/domain"
	"agora/internal/usecase/eventbus"
)

type capture struct {
	mu     sync.Mutex
	events []domain.Event
	status int
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	var e domain.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	}
	status := http.StatusOK
	c.mu.Lock()
	if c.status != 0 {
		status = c.status
	}
	c.mu.Unlock()
	w.WriteHeader(status)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached within deadline")
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestDeliversTerminalOrderEvents(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	bus := eventbus.New(testLogger())
	defer bus.Close()
	w := NewWebhook(Config{URL: srv.URL}, bus, testLogger())
	defer w.Stop()

	bus.Publish(context.Background(), domain.Event{Type: domain.EventOrderSettled, OrderID: "o1"})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventOrderExpired, OrderID: "o2"})
	// Not a terminal order event, must not be delivered.
	bus.Publish(context.Background(), domain.Event{Type: domain.EventAgentOnline, AgentID: "alice"})

	waitFor(t, func() bool { return cap.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if cap.count() != 2 {
		t.Errorf("delivered %d events, want 2", cap.count())
	}
}

func TestStopUnsubscribes(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	bus := eventbus.New(testLogger())
	defer bus.Close()
	w := NewWebhook(Config{URL: srv.URL}, bus, testLogger())

	w.Stop()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventOrderSettled, OrderID: "o1"})

	time.Sleep(20 * time.Millisecond)
	if cap.count() != 0 {
		t.Errorf("delivered %d events after Stop", cap.count())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cap := &capture{status: http.StatusInternalServerError}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	bus := eventbus.New(testLogger())
	defer bus.Close()
	w := NewWebhook(Config{URL: srv.URL, MaxFailures: 2}, bus, testLogger())
	defer w.Stop()

	// Drive deliveries directly so ordering is deterministic.
	for i := 0; i < 2; i++ {
		w.deliver(context.Background(), domain.Event{Type: domain.EventOrderSettled})
	}
	if cap.count() != 2 {
		t.Fatalf("endpoint saw %d requests, want 2", cap.count())
	}

	// Breaker is open: further deliveries never reach the endpoint.
	w.deliver(context.Background(), domain.Event{Type: domain.EventOrderSettled})
	if cap.count() != 2 {
		t.Errorf("open breaker let a request through (%d total)", cap.count())
	}
}

func TestRejectsNon2xx(t *testing.T) {
	cap := &capture{status: http.StatusBadGateway}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	bus := eventbus.New(testLogger())
	defer bus.Close()
	w := NewWebhook(Config{URL: srv.URL}, bus, testLogger())
	defer w.Stop()

	err := w.post(context.Background(), domain.Event{Type: domain.EventOrderSettled})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}
