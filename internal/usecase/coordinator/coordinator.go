// Package coordinator implements the marketplace protocol state machine: it
// parses inbound messages, drives the registry, subscription index and order
// book, and emits outbound messages.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"agora/internal/domain"
	"agora/internal/infra/tracer"
	"agora/internal/usecase/orderbook"
	"agora/internal/usecase/registry"
	"agora/internal/usecase/subscription"
)

const defaultInboxSize = 1024

// Metrics tracks protocol counters for the status and metrics APIs.
type Metrics struct {
	MessagesReceived atomic.Int64
	MessagesSent     atomic.Int64
	ProtocolErrors   atomic.Int64
	OrdersSubmitted  atomic.Int64
	OrdersSettled    atomic.Int64
	OrdersExpired    atomic.Int64
	Heartbeats       atomic.Int64
}

type cmdKind int

const (
	cmdInbound cmdKind = iota
	cmdDisconnect
	cmdExpire
)

type command struct {
	kind    cmdKind
	conn    domain.Conn
	data    []byte
	orderID string
}

// Coordinator is the single-writer dispatcher for all marketplace state.
// Production traffic flows through Run's goroutine via the inbox; the
// handle* methods are synchronous so tests can drive the state machine
// directly from one goroutine.
type Coordinator struct {
	registry *registry.Registry
	subs     *subscription.Index
	book     *orderbook.Book
	bus      domain.EventBus          // optional
	ledger   domain.SettlementLedger  // optional
	clock    domain.Clock
	logger   *slog.Logger

	inbox   chan command
	metrics Metrics
}

// New wires a coordinator over its three state components. bus and ledger
// may be nil.
func New(
	reg *registry.Registry,
	subs *subscription.Index,
	book *orderbook.Book,
	bus domain.EventBus,
	ledger domain.SettlementLedger,
	clock domain.Clock,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		registry: reg,
		subs:     subs,
		book:     book,
		bus:      bus,
		ledger:   ledger,
		clock:    clock,
		logger:   logger,
		inbox:    make(chan command, defaultInboxSize),
	}
	book.SetTimeoutFunc(c.enqueueExpire)
	return c
}

// Metrics exposes the coordinator's counters.
func (c *Coordinator) Metrics() *Metrics { return &c.metrics }

// Run processes the inbox until ctx is cancelled. All state mutation happens
// on this goroutine; one slow consumer never stalls it because Conn.Send is
// non-blocking.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.inbox:
			c.process(ctx, cmd)
		}
	}
}

// HandleInbound enqueues a raw message received on conn. Messages from the
// same connection are processed in arrival order.
func (c *Coordinator) HandleInbound(conn domain.Conn, data []byte) {
	c.inbox <- command{kind: cmdInbound, conn: conn, data: data}
}

// HandleDisconnect enqueues transport-level teardown for conn.
func (c *Coordinator) HandleDisconnect(conn domain.Conn) {
	c.inbox <- command{kind: cmdDisconnect, conn: conn}
}

func (c *Coordinator) enqueueExpire(orderID string) {
	c.inbox <- command{kind: cmdExpire, orderID: orderID}
}

func (c *Coordinator) process(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdInbound:
		c.dispatch(ctx, cmd.conn, cmd.data)
	case cmdDisconnect:
		c.handleDisconnect(ctx, cmd.conn)
	case cmdExpire:
		c.handleExpiry(ctx, cmd.orderID)
	}
}

// dispatch decodes one inbound message and routes it by type. Malformed or
// unknown messages get an error reply; the connection stays open.
func (c *Coordinator) dispatch(ctx context.Context, conn domain.Conn, data []byte) {
	c.metrics.MessagesReceived.Add(1)

	msg, err := domain.DecodeInbound(data)
	if err != nil {
		c.metrics.ProtocolErrors.Add(1)
		c.send(conn, domain.NewError(protocolReason(err)))
		c.logger.Debug("dropped malformed message", "conn", conn.ID(), "error", err)
		return
	}

	ctx, span := tracer.StartSpan(ctx, "coordinator.dispatch",
		trace.WithAttributes(tracer.StringAttr("conn_id", conn.ID())),
	)
	defer span.End()

	switch m := msg.(type) {
	case domain.HeartbeatMsg:
		c.handleHeartbeat(ctx, conn, m)
	case domain.SubscribeMsg:
		c.handleSubscribe(ctx, conn, m)
	case domain.UnsubscribeMsg:
		c.handleUnsubscribe(ctx, conn, m)
	case domain.OrderMsg:
		c.handleOrder(ctx, conn, m)
	case domain.SettlementMsg:
		c.handleSettlement(ctx, conn, m)
	}
}

func (c *Coordinator) handleHeartbeat(ctx context.Context, conn domain.Conn, m domain.HeartbeatMsg) {
	c.metrics.Heartbeats.Add(1)
	hb := m.Heartbeat

	res := c.registry.Register(conn, hb)
	if res.Evicted != nil {
		res.Evicted.Send(domain.NewSuperseded(hb.AgentID))
		res.Evicted.Close("superseded by newer connection")
		c.publish(ctx, domain.Event{Type: domain.EventAgentSuperseded, AgentID: hb.AgentID})
	}

	// Watcher fan-out: a fresh or superseding session produces exactly one
	// agent_update; a price change on a live session produces a price_update.
	watchers := c.subs.SubscribersOf(hb.AgentID)
	switch {
	case res.Prev == nil || res.Evicted != nil:
		for _, w := range watchers {
			c.send(w, domain.NewAgentUpdate(hb))
		}
		c.publish(ctx, domain.Event{Type: domain.EventAgentOnline, AgentID: hb.AgentID})
		c.logger.Info("agent online", "agent_id", hb.AgentID, "price_apt", hb.PriceAPT)
	case res.Prev.PriceAPT != hb.PriceAPT:
		for _, w := range watchers {
			c.send(w, domain.NewPriceUpdate(hb.AgentID, res.Prev.PriceAPT, hb.PriceAPT))
		}
		c.publish(ctx, domain.Event{Type: domain.EventPriceChanged, AgentID: hb.AgentID,
			Payload: mustJSON(map[string]float64{"old_price": res.Prev.PriceAPT, "new_price": hb.PriceAPT})})
	}

	c.send(conn, domain.NewHeartbeatAck(hb.AgentID, c.registry.Count(), c.book.PendingCount(), c.clock.Now().UnixMilli()))

	// FIFO match of orders queued while the agent was offline.
	for _, o := range c.book.MatchPendingFor(hb.AgentID) {
		c.send(conn, domain.NewIncomingOrder(o))
		c.send(o.Requester, domain.NewOrderRouted(o))
		c.publish(ctx, domain.Event{Type: domain.EventOrderRouted, OrderID: o.OrderID, AgentID: o.TargetAgent})
	}
}

func (c *Coordinator) handleSubscribe(ctx context.Context, conn domain.Conn, m domain.SubscribeMsg) {
	c.subs.Subscribe(conn, m.TargetAgents)

	// A new watcher must not wait for the next heartbeat to learn current
	// state: reply with one status message per target, reflecting whatever
	// state exists at this instant.
	for _, target := range m.TargetAgents {
		if sess, ok := c.registry.Lookup(target); ok {
			c.send(conn, domain.NewAgentOnlineStatus(sess.LastHeartbeat))
		} else {
			c.send(conn, domain.NewAgentOfflineStatus(target))
		}
	}
}

func (c *Coordinator) handleUnsubscribe(_ context.Context, conn domain.Conn, m domain.UnsubscribeMsg) {
	c.subs.Unsubscribe(conn.ID(), m.TargetAgents)
}

func (c *Coordinator) handleOrder(ctx context.Context, conn domain.Conn, m domain.OrderMsg) {
	c.metrics.OrdersSubmitted.Add(1)

	o := &domain.Order{
		OrderID:        m.OrderID,
		RequesterAgent: m.RequesterAgent,
		TargetAgent:    m.TargetAgent,
		Capability:     m.Capability,
		TaskParameters: m.TaskParameters,
		MaxPriceAPT:    m.MaxPriceAPT,
		CreatedAt:      c.clock.Now(),
		Requester:      conn,
	}

	out := c.book.Submit(o)
	switch out.Kind {
	case orderbook.Queued:
		c.send(conn, domain.NewOrderQueued(o))
		c.publish(ctx, domain.Event{Type: domain.EventOrderQueued, OrderID: o.OrderID, AgentID: o.TargetAgent})

	case orderbook.Rejected:
		c.send(conn, domain.NewOrderRejected(o.OrderID, out.Reason))
		c.publish(ctx, domain.Event{Type: domain.EventOrderRejected, OrderID: o.OrderID, AgentID: o.TargetAgent})
		c.record(domain.SettlementEntry{
			OrderID: o.OrderID,
			AgentA:  o.RequesterAgent,
			AgentB:  o.TargetAgent,
			Outcome: domain.OrderRejected,
		})

	case orderbook.Routed:
		c.send(out.Target.Conn, domain.NewIncomingOrder(o))
		c.send(conn, domain.NewOrderRouted(o))
		c.publish(ctx, domain.Event{Type: domain.EventOrderRouted, OrderID: o.OrderID, AgentID: o.TargetAgent})
	}
}

func (c *Coordinator) handleSettlement(ctx context.Context, conn domain.Conn, m domain.SettlementMsg) {
	rec := domain.SettlementRecord{
		OrderID:         m.OrderID,
		AgentA:          m.AgentA,
		AgentB:          m.AgentB,
		AmountAPT:       m.AmountAPT,
		TransactionHash: m.TransactionHash,
		Status:          m.Status,
		Timestamp:       m.Timestamp,
	}

	o, err := c.book.Settle(m.OrderID, rec)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.send(conn, domain.NewError(fmt.Sprintf("settlement for unknown order %q", m.OrderID)))
		} else {
			c.send(conn, domain.NewError("settlement failed"))
		}
		c.logger.Warn("settlement dropped", "order_id", m.OrderID, "error", err)
		return
	}
	c.metrics.OrdersSettled.Add(1)

	// Payer hears order_completed, payee hears payment_received. When the
	// payer never registered as an agent, fall back to the connection that
	// submitted the order so the terminal transition stays observable.
	if payer, ok := c.registry.Lookup(m.AgentA); ok {
		c.send(payer.Conn, domain.NewOrderCompleted(rec))
	} else if o.Requester != nil {
		c.send(o.Requester, domain.NewOrderCompleted(rec))
	}
	if payee, ok := c.registry.Lookup(m.AgentB); ok {
		c.send(payee.Conn, domain.NewPaymentReceived(rec))
	}

	c.record(domain.SettlementEntry{
		OrderID:         rec.OrderID,
		AgentA:          rec.AgentA,
		AgentB:          rec.AgentB,
		AmountAPT:       rec.AmountAPT,
		TransactionHash: rec.TransactionHash,
		Status:          rec.Status,
		Outcome:         o.State,
	})
	c.publish(ctx, domain.Event{Type: domain.EventOrderSettled, OrderID: rec.OrderID,
		Payload: mustJSON(map[string]any{"status": rec.Status, "amount_apt": rec.AmountAPT})})
	c.publish(ctx, domain.Event{Type: domain.EventSettlementRecorded, OrderID: rec.OrderID})
	c.logger.Info("order settled",
		"order_id", rec.OrderID,
		"status", string(rec.Status),
		"amount_apt", rec.AmountAPT,
	)
}

func (c *Coordinator) handleExpiry(ctx context.Context, orderID string) {
	o, ok := c.book.Expire(orderID)
	if !ok {
		// Timer raced a settlement or disconnect expiry; nothing to do.
		return
	}
	c.metrics.OrdersExpired.Add(1)

	// The target never responded; only the requester is told.
	c.send(o.Requester, domain.NewOrderExpired(o.OrderID, "no acceptance within timeout window"))
	c.record(domain.SettlementEntry{
		OrderID: o.OrderID,
		AgentA:  o.RequesterAgent,
		AgentB:  o.TargetAgent,
		Outcome: domain.OrderExpired,
	})
	c.publish(ctx, domain.Event{Type: domain.EventOrderExpired, OrderID: o.OrderID, AgentID: o.TargetAgent})
	c.logger.Info("order expired", "order_id", o.OrderID, "target", o.TargetAgent)
}

func (c *Coordinator) handleDisconnect(ctx context.Context, conn domain.Conn) {
	agentID, hadSession := c.registry.RemoveByConn(conn.ID())

	if hadSession {
		for _, w := range c.subs.SubscribersOf(agentID) {
			c.send(w, domain.NewAgentOfflineStatus(agentID))
		}
		c.publish(ctx, domain.Event{Type: domain.EventAgentOffline, AgentID: agentID})
		c.logger.Info("agent offline", "agent_id", agentID)

		// Orders routed to the vanished target expire immediately rather
		// than waiting out their timers.
		for _, o := range c.book.ExpireTargeting(agentID) {
			c.metrics.OrdersExpired.Add(1)
			c.send(o.Requester, domain.NewOrderExpired(o.OrderID, "target agent disconnected"))
			c.record(domain.SettlementEntry{
				OrderID: o.OrderID,
				AgentA:  o.RequesterAgent,
				AgentB:  o.TargetAgent,
				Outcome: domain.OrderExpired,
			})
			c.publish(ctx, domain.Event{Type: domain.EventOrderExpired, OrderID: o.OrderID, AgentID: agentID})
		}
	}

	c.subs.RemoveConn(conn.ID())
}

// Stats recomputes the aggregate market view. Never cached.
func (c *Coordinator) Stats() domain.MarketStats {
	sessions := c.registry.Sessions()
	var sum float64
	for _, s := range sessions {
		sum += s.LastHeartbeat.PriceAPT
	}
	mean := 0.0
	if len(sessions) > 0 {
		mean = sum / float64(len(sessions))
	}
	return domain.MarketStats{
		ActiveAgents:  len(sessions),
		PendingOrders: c.book.PendingCount(),
		Subscriptions: c.subs.Count(),
		MeanPriceAPT:  mean,
	}
}

// Sessions exposes a registry snapshot for the discovery API.
func (c *Coordinator) Sessions() []domain.AgentSession {
	return c.registry.Sessions()
}

func (c *Coordinator) send(conn domain.Conn, msg any) {
	if conn == nil {
		return
	}
	if conn.Send(msg) {
		c.metrics.MessagesSent.Add(1)
	}
}

func (c *Coordinator) publish(ctx context.Context, e domain.Event) {
	if c.bus == nil {
		return
	}
	e.Timestamp = c.clock.Now()
	c.bus.Publish(ctx, e)
}

// record appends a ledger row off the dispatch goroutine so slow storage
// never stalls message processing.
func (c *Coordinator) record(entry domain.SettlementEntry) {
	if c.ledger == nil {
		return
	}
	entry.CreatedAt = c.clock.Now()
	go func() {
		if err := c.ledger.Record(context.Background(), entry); err != nil {
			c.logger.Error("ledger record failed", "order_id", entry.OrderID, "error", err)
		}
	}()
}

func protocolReason(err error) string {
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		if errors.Is(derr.Err, domain.ErrUnknownMessageType) {
			return fmt.Sprintf("unknown message type %q", derr.Detail)
		}
		return derr.Detail
	}
	return err.Error()
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
