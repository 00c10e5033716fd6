package orderbook

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"agora/internal/domain"
)

// fakeClock fires AfterFunc timers only when Advance crosses their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) domain.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and runs every due, unstopped timer callback.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(c.now) {
			due = append(due, t.f)
			continue
		}
		remaining = append(remaining, t)
	}
	c.timers = remaining
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

type stubConn struct{ id string }

func (c *stubConn) ID() string    { return c.id }
func (c *stubConn) Send(any) bool { return true }
func (c *stubConn) Close(string)  {}

// fakeDirectory is a hand-rolled registry read side.
type fakeDirectory struct {
	sessions map[string]*domain.AgentSession
}

func (d *fakeDirectory) Lookup(agentID string) (*domain.AgentSession, bool) {
	s, ok := d.sessions[agentID]
	return s, ok
}

func (d *fakeDirectory) setOnline(agentID string, price float64) {
	d.sessions[agentID] = &domain.AgentSession{
		AgentID:       agentID,
		Conn:          &stubConn{id: "conn-" + agentID},
		LastHeartbeat: domain.Heartbeat{AgentID: agentID, PriceAPT: price},
	}
}

func (d *fakeDirectory) setOffline(agentID string) {
	delete(d.sessions, agentID)
}

func testBook(t *testing.T) (*Book, *fakeDirectory, *fakeClock, *[]string) {
	t.Helper()
	dir := &fakeDirectory{sessions: make(map[string]*domain.AgentSession)}
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(dir, clock, 0, logger)

	var expired []string
	b.SetTimeoutFunc(func(orderID string) {
		expired = append(expired, orderID)
	})
	return b, dir, clock, &expired
}

func order(id, target string, maxPrice float64) *domain.Order {
	return &domain.Order{
		OrderID:     id,
		TargetAgent: target,
		MaxPriceAPT: maxPrice,
		Requester:   &stubConn{id: "req-" + id},
	}
}

func TestSubmitQueuesWhenTargetOffline(t *testing.T) {
	b, _, _, _ := testBook(t)

	out := b.Submit(order("o1", "alice", 0.1))
	if out.Kind != Queued {
		t.Fatalf("Kind = %v, want Queued", out.Kind)
	}
	if b.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", b.PendingCount())
	}
}

func TestSubmitPriceRule(t *testing.T) {
	cases := []struct {
		name     string
		price    float64
		maxPrice float64
		want     OutcomeKind
	}{
		{"price below max routes", 0.05, 0.10, Routed},
		{"price equal to max routes", 0.10, 0.10, Routed},
		{"price above max rejects", 0.11, 0.10, Rejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, dir, _, _ := testBook(t)
			dir.setOnline("alice", tc.price)

			out := b.Submit(order("o1", "alice", tc.maxPrice))
			if out.Kind != tc.want {
				t.Fatalf("Kind = %v, want %v (reason %q)", out.Kind, tc.want, out.Reason)
			}
			if tc.want == Rejected {
				if !strings.Contains(out.Reason, "exceeds max") {
					t.Errorf("Reason = %q", out.Reason)
				}
				if b.PendingCount() != 0 {
					t.Error("rejected order must not be stored")
				}
			}
			if tc.want == Routed && out.Target == nil {
				t.Error("routed outcome missing target session")
			}
		})
	}
}

func TestMatchPendingFIFO(t *testing.T) {
	b, dir, _, _ := testBook(t)

	b.Submit(order("o1", "alice", 0.1))
	b.Submit(order("o2", "alice", 0.2))
	b.Submit(order("o3", "bob", 0.1))

	dir.setOnline("alice", 0.5) // queued orders do not re-check price
	matched := b.MatchPendingFor("alice")

	if len(matched) != 2 {
		t.Fatalf("matched %d orders, want 2", len(matched))
	}
	if matched[0].OrderID != "o1" || matched[1].OrderID != "o2" {
		t.Errorf("match order = [%s %s], want [o1 o2]", matched[0].OrderID, matched[1].OrderID)
	}
	for _, o := range matched {
		if o.State != domain.OrderRouted {
			t.Errorf("order %s state = %s, want routed", o.OrderID, o.State)
		}
	}

	// A second heartbeat finds nothing left.
	if again := b.MatchPendingFor("alice"); again != nil {
		t.Errorf("second match returned %d orders", len(again))
	}
	// Bob's order is untouched.
	if b.PendingCount() != 3 {
		t.Errorf("PendingCount = %d, want 3", b.PendingCount())
	}
}

func TestMatchSkipsOrdersSettledWhileQueued(t *testing.T) {
	b, dir, _, _ := testBook(t)

	b.Submit(order("o1", "alice", 0.1))
	b.Submit(order("o2", "alice", 0.1))
	if _, err := b.Settle("o1", domain.SettlementRecord{Status: domain.SettlementSuccess}); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	dir.setOnline("alice", 0.05)
	matched := b.MatchPendingFor("alice")
	if len(matched) != 1 || matched[0].OrderID != "o2" {
		t.Fatalf("matched = %v, want [o2] only", matched)
	}
}

func TestSettle(t *testing.T) {
	b, dir, _, _ := testBook(t)
	dir.setOnline("alice", 0.05)
	b.Submit(order("o1", "alice", 0.1))

	o, err := b.Settle("o1", domain.SettlementRecord{Status: domain.SettlementSuccess})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if o.State != domain.OrderSettled {
		t.Errorf("state = %s, want settled", o.State)
	}
	if b.PendingCount() != 0 {
		t.Error("settled order still active")
	}

	// Settling twice fails: terminal states are not retained.
	if _, err := b.Settle("o1", domain.SettlementRecord{Status: domain.SettlementSuccess}); err == nil {
		t.Error("second settle should fail with order not found")
	}
}

func TestSettleFailedResolvesAsRejected(t *testing.T) {
	b, dir, _, _ := testBook(t)
	dir.setOnline("alice", 0.05)
	b.Submit(order("o1", "alice", 0.1))

	o, err := b.Settle("o1", domain.SettlementRecord{Status: domain.SettlementFailed})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if o.State != domain.OrderRejected {
		t.Errorf("state = %s, want rejected", o.State)
	}
}

func TestRoutedOrderExpiresAfterTTL(t *testing.T) {
	b, dir, clock, expired := testBook(t)
	dir.setOnline("alice", 0.05)
	b.Submit(order("o1", "alice", 0.1))

	clock.Advance(DefaultRoutedTTL - time.Second)
	if len(*expired) != 0 {
		t.Fatal("timer fired early")
	}

	clock.Advance(2 * time.Second)
	if len(*expired) != 1 || (*expired)[0] != "o1" {
		t.Fatalf("expired = %v, want [o1]", *expired)
	}

	o, ok := b.Expire("o1")
	if !ok {
		t.Fatal("Expire refused a routed order")
	}
	if o.State != domain.OrderExpired {
		t.Errorf("state = %s, want expired", o.State)
	}
	if b.PendingCount() != 0 {
		t.Error("expired order still active")
	}
}

func TestSettlementCancelsAcceptanceTimer(t *testing.T) {
	b, dir, clock, expired := testBook(t)
	dir.setOnline("alice", 0.05)
	b.Submit(order("o1", "alice", 0.1))

	if _, err := b.Settle("o1", domain.SettlementRecord{Status: domain.SettlementSuccess}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	clock.Advance(2 * DefaultRoutedTTL)
	if len(*expired) != 0 {
		t.Errorf("timer fired after settlement: %v", *expired)
	}
}

func TestExpireLosesRaceToSettlement(t *testing.T) {
	b, dir, _, _ := testBook(t)
	dir.setOnline("alice", 0.05)
	b.Submit(order("o1", "alice", 0.1))

	if _, err := b.Settle("o1", domain.SettlementRecord{Status: domain.SettlementSuccess}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if _, ok := b.Expire("o1"); ok {
		t.Error("Expire succeeded on a settled order")
	}
}

func TestExpireTargeting(t *testing.T) {
	b, dir, _, _ := testBook(t)
	dir.setOnline("alice", 0.05)
	b.Submit(order("o1", "alice", 0.1))
	b.Submit(order("o2", "alice", 0.1))
	b.Submit(order("o3", "bob", 0.1)) // queued, not routed

	expired := b.ExpireTargeting("alice")
	if len(expired) != 2 {
		t.Fatalf("expired %d orders, want 2", len(expired))
	}
	for _, o := range expired {
		if o.State != domain.OrderExpired {
			t.Errorf("order %s state = %s, want expired", o.OrderID, o.State)
		}
	}
	// The queued order against bob survives.
	if b.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", b.PendingCount())
	}
}

func TestOrderIDCollisionOverwrites(t *testing.T) {
	b, dir, _, _ := testBook(t)

	b.Submit(order("o1", "alice", 0.1)) // queued against offline alice
	out := b.Submit(order("o1", "bob", 0.2))
	if out.Kind != Queued {
		t.Fatalf("Kind = %v, want Queued", out.Kind)
	}
	if b.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", b.PendingCount())
	}

	// The stale queue entry for alice is skipped on match.
	dir.setOnline("alice", 0.01)
	if matched := b.MatchPendingFor("alice"); len(matched) != 0 {
		t.Errorf("overwritten order matched for alice: %v", matched)
	}
	dir.setOnline("bob", 0.01)
	matched := b.MatchPendingFor("bob")
	if len(matched) != 1 || matched[0].TargetAgent != "bob" {
		t.Fatalf("matched = %v, want one order targeting bob", matched)
	}
}
