package domain

import (
	"time"
)

// AgentStatus represents the marketplace-visible state of an agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// Heartbeat is the structured status snapshot an agent broadcasts while online.
type Heartbeat struct {
	AgentID        string   `json:"agent_id"`
	AgentAddress   string   `json:"agent_address"`
	Capabilities   []string `json:"capabilities"`
	PriceAPT       float64  `json:"price_apt"`
	Availability   int      `json:"availability"`     // 0-100
	QueueLength    int      `json:"queue_length"`     // >= 0
	ResponseTimeMs int      `json:"response_time_ms"` // >= 0
	Reputation     float64  `json:"reputation"`
	Timestamp      int64    `json:"timestamp"` // epoch milliseconds
}

// HasCapability reports whether the heartbeat advertises the named capability.
func (h Heartbeat) HasCapability(name string) bool {
	for _, c := range h.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// AgentSession is the ephemeral record tying a live connection to an agent
// identity. It is created by the first valid heartbeat on a connection,
// refreshed in place by subsequent heartbeats, and destroyed on disconnect.
// An agent id is claimed by the most recently connected session
// (last-write-wins; there is no distributed consensus).
type AgentSession struct {
	AgentID       string
	Conn          Conn
	LastHeartbeat Heartbeat
	ConnectedAt   time.Time
}

// MarketStats is an aggregate view over live sessions and the order book.
// It is recomputed on demand and never cached beyond a single request.
type MarketStats struct {
	ActiveAgents  int     `json:"active_agents"`
	PendingOrders int     `json:"pending_orders"`
	Subscriptions int     `json:"subscriptions"`
	MeanPriceAPT  float64 `json:"mean_price_apt"`
}
