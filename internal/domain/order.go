package domain

import "time"

// OrderState tracks an order through its lifecycle.
// queued and routed are the only non-terminal states; an order entering a
// terminal state is purged from active storage.
type OrderState string

const (
	OrderQueued   OrderState = "queued"
	OrderRouted   OrderState = "routed"
	OrderSettled  OrderState = "settled"
	OrderRejected OrderState = "rejected"
	OrderExpired  OrderState = "expired"
)

// Order is a requester's ask for a capability from a target agent, bounded by
// the maximum price the requester will pay.
type Order struct {
	OrderID        string
	RequesterAgent string
	TargetAgent    string
	Capability     string
	TaskParameters map[string]any
	MaxPriceAPT    float64
	State          OrderState
	CreatedAt      time.Time

	// Requester is the connection that submitted the order; terminal
	// transitions are reported back on it.
	Requester Conn
}

// SettlementStatus is the outcome reported by the payment settlement authority.
type SettlementStatus string

const (
	SettlementSuccess SettlementStatus = "success"
	SettlementFailed  SettlementStatus = "failed"
)

// SettlementRecord confirms (or denies) that payment for an order was
// finalized. The coordinator trusts Status as given; verification is the
// settlement authority's job.
type SettlementRecord struct {
	OrderID         string
	AgentA          string // payer
	AgentB          string // payee
	AmountAPT       float64
	TransactionHash string
	Status          SettlementStatus
	Timestamp       int64 // epoch milliseconds
}
