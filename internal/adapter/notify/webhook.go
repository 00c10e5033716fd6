// Package notify pushes terminal order events to an external HTTP endpoint,
// the out-of-band hook task execution services listen on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"agora/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultHTTPTimeout time.Duration = 10 * time.Second
)

// Config holds webhook notifier settings.
type Config struct {
	URL         string
	Timeout     time.Duration
	MaxFailures uint32
}

// Webhook delivers marketplace events as JSON POSTs. Repeated delivery
// failures open a circuit breaker so an unreachable endpoint cannot pile up
// goroutines behind connect timeouts.
type Webhook struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
	unsub   func()
}

// NewWebhook creates a notifier and subscribes it to terminal order events
// on the bus. Call Stop to unsubscribe.
func NewWebhook(cfg Config, bus domain.EventBus, logger *slog.Logger) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}

	w := &Webhook{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	w.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "webhook:" + cfg.URL,
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     defaultOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	unsubs := make([]func(), 0, 4)
	for _, t := range []domain.EventType{
		domain.EventOrderSettled,
		domain.EventOrderRejected,
		domain.EventOrderExpired,
		domain.EventSettlementRecorded,
	} {
		unsubs = append(unsubs, bus.Subscribe(t, w.deliver))
	}
	w.unsub = func() {
		for _, u := range unsubs {
			u()
		}
	}
	return w
}

// Stop unsubscribes the notifier from the bus.
func (w *Webhook) Stop() {
	if w.unsub != nil {
		w.unsub()
	}
}

func (w *Webhook) deliver(ctx context.Context, event domain.Event) {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, event)
	})
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			"event", string(event.Type),
			"order_id", event.OrderID,
			"error", err,
		)
	}
}

func (w *Webhook) post(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("Webhook.post", domain.ErrNotifyFailed, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return domain.NewDomainError("Webhook.post", domain.ErrNotifyFailed, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.NewDomainError("Webhook.post", domain.ErrNotifyFailed, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.NewDomainError("Webhook.post", domain.ErrNotifyFailed,
			fmt.Sprintf("endpoint returned %d", resp.StatusCode))
	}
	return nil
}
