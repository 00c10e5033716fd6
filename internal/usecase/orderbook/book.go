// Package orderbook owns the order lifecycle: queueing against offline
// targets, price-checked routing to online targets, FIFO matching when a
// target comes online, settlement, and acceptance timeouts.
package orderbook

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agora/internal/domain"
)

// DefaultRoutedTTL is the acceptance window for a routed order. If the target
// neither settles nor rejects within it, the order expires and the requester
// is notified.
const DefaultRoutedTTL = 30 * time.Second

// Directory is the read side of the connection registry the book matches
// against.
type Directory interface {
	Lookup(agentID string) (*domain.AgentSession, bool)
}

// OutcomeKind classifies what Submit did with an order.
type OutcomeKind int

const (
	// Queued: target offline, order stored for later matching.
	Queued OutcomeKind = iota
	// Rejected: target online but its advertised price exceeds the
	// order's maximum. The order is not stored; resubmission is the
	// requester's call (no silent re-evaluation against moving prices).
	Rejected
	// Routed: target online at an acceptable price, order delivered and
	// awaiting acceptance within the timeout window.
	Routed
)

// Outcome is the result of submitting an order.
type Outcome struct {
	Kind   OutcomeKind
	Reason string               // set for Rejected
	Target *domain.AgentSession // set for Routed
}

// Book is the active order store. All mutation goes through its mutex; the
// coordinator additionally serializes calls, the lock covers the timeout
// callbacks and concurrent stats reads.
type Book struct {
	mu        sync.Mutex
	directory Directory
	clock     domain.Clock
	routedTTL time.Duration
	logger    *slog.Logger

	orders map[string]*domain.Order   // active orders by id (queued + routed)
	queues map[string][]*domain.Order // targetAgent -> FIFO of queued orders
	timers map[string]domain.Timer    // orderID -> acceptance timer

	// onTimeout is invoked from the timer goroutine when a routed order's
	// acceptance window elapses. It must not block; the coordinator wires
	// it to its inbox so expiry is processed on the dispatch goroutine.
	onTimeout func(orderID string)
}

// New creates an empty order book. routedTTL <= 0 selects DefaultRoutedTTL.
func New(directory Directory, clock domain.Clock, routedTTL time.Duration, logger *slog.Logger) *Book {
	if routedTTL <= 0 {
		routedTTL = DefaultRoutedTTL
	}
	return &Book{
		directory: directory,
		clock:     clock,
		routedTTL: routedTTL,
		logger:    logger,
		orders:    make(map[string]*domain.Order),
		queues:    make(map[string][]*domain.Order),
		timers:    make(map[string]domain.Timer),
		onTimeout: func(string) {},
	}
}

// SetTimeoutFunc wires the acceptance-timeout callback. Must be called before
// any order is submitted.
func (b *Book) SetTimeoutFunc(f func(orderID string)) {
	b.onTimeout = f
}

// Submit places an order. Price rule: reject if and only if the target's
// advertised price is strictly greater than the order's maximum; equal prices
// route.
func (b *Book) Submit(o *domain.Order) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Caller-supplied order ids collide by overwriting the outstanding
	// order. Known protocol sharp edge, kept deliberately.
	if prev, ok := b.orders[o.OrderID]; ok {
		b.logger.Warn("order id collision, overwriting outstanding order",
			"order_id", o.OrderID,
			"prev_target", prev.TargetAgent,
		)
		b.dropLocked(prev)
	}

	target, online := b.directory.Lookup(o.TargetAgent)
	if !online {
		o.State = domain.OrderQueued
		b.orders[o.OrderID] = o
		b.queues[o.TargetAgent] = append(b.queues[o.TargetAgent], o)
		return Outcome{Kind: Queued}
	}

	if price := target.LastHeartbeat.PriceAPT; price > o.MaxPriceAPT {
		return Outcome{
			Kind: Rejected,
			Reason: fmt.Sprintf("target price %.6f APT exceeds max %.6f APT",
				price, o.MaxPriceAPT),
		}
	}

	b.routeLocked(o)
	return Outcome{Kind: Routed, Target: target}
}

// MatchPendingFor transitions every order queued against agentID to routed,
// in submission (FIFO) order, and returns them for delivery. Called on every
// heartbeat from that agent, including the first.
func (b *Book) MatchPendingFor(agentID string) []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	fifo := b.queues[agentID]
	if len(fifo) == 0 {
		return nil
	}
	delete(b.queues, agentID)

	matched := make([]*domain.Order, 0, len(fifo))
	for _, o := range fifo {
		// Skip orders that were overwritten or settled while queued.
		if b.orders[o.OrderID] != o {
			continue
		}
		b.routeLocked(o)
		matched = append(matched, o)
	}
	return matched
}

// Settle resolves an active order with a settlement record. Terminal states
// are not retained; the ledger keeps history. A failed settlement resolves
// the order as rejected.
func (b *Book) Settle(orderID string, rec domain.SettlementRecord) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return nil, domain.NewDomainError("Book.Settle", domain.ErrOrderNotFound, orderID)
	}
	b.dropLocked(o)

	if rec.Status == domain.SettlementSuccess {
		o.State = domain.OrderSettled
	} else {
		o.State = domain.OrderRejected
	}
	return o, nil
}

// Expire resolves a routed order whose acceptance window elapsed. Returns
// false when the order already reached another terminal state (timer raced
// a settlement).
func (b *Book) Expire(orderID string) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.State != domain.OrderRouted {
		return nil, false
	}
	b.dropLocked(o)
	o.State = domain.OrderExpired
	return o, true
}

// ExpireTargeting immediately expires every routed order whose target is
// agentID. Called when the target disconnects mid-flight: waiting out the
// timer would only delay the inevitable.
func (b *Book) ExpireTargeting(agentID string) []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []*domain.Order
	for _, o := range b.orders {
		if o.State == domain.OrderRouted && o.TargetAgent == agentID {
			expired = append(expired, o)
		}
	}
	for _, o := range expired {
		b.dropLocked(o)
		o.State = domain.OrderExpired
	}
	return expired
}

// PendingCount returns the number of active (queued or routed) orders.
func (b *Book) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// routeLocked marks o routed, stores it, and arms its acceptance timer.
func (b *Book) routeLocked(o *domain.Order) {
	o.State = domain.OrderRouted
	b.orders[o.OrderID] = o
	id := o.OrderID
	b.timers[id] = b.clock.AfterFunc(b.routedTTL, func() {
		b.onTimeout(id)
	})
}

// dropLocked removes an order from active storage and cancels its timer.
// Queue slices are pruned lazily: MatchPendingFor skips entries no longer in
// the active map.
func (b *Book) dropLocked(o *domain.Order) {
	delete(b.orders, o.OrderID)
	if t, ok := b.timers[o.OrderID]; ok {
		t.Stop()
		delete(b.timers, o.OrderID)
	}
}
