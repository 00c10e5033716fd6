package domain

import (
	"context"
	"time"
)

// SettlementEntry is one row of settlement history: a terminal order
// transition with its payment details, if any.
type SettlementEntry struct {
	ID              string           `json:"id"`
	OrderID         string           `json:"order_id"`
	AgentA          string           `json:"agent_a"`
	AgentB          string           `json:"agent_b"`
	AmountAPT       float64          `json:"amount_apt"`
	TransactionHash string           `json:"transaction_hash,omitempty"`
	Status          SettlementStatus `json:"status,omitempty"`
	Outcome         OrderState       `json:"outcome"` // settled, rejected or expired
	CreatedAt       time.Time        `json:"created_at"`
}

// SettlementLedger is the append-only history of terminal order transitions.
// The active order book never reads it; the discovery API does.
type SettlementLedger interface {
	Record(ctx context.Context, entry SettlementEntry) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]SettlementEntry, error)
	Close() error
}
