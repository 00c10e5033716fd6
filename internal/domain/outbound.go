package domain

// Server -> client messages. Every struct carries its own type discriminator
// so a Conn can serialize it directly; constructors fill the discriminator in.

// HeartbeatAck confirms a heartbeat and reports current marketplace counts.
type HeartbeatAck struct {
	Type          MessageType `json:"type"`
	AgentID       string      `json:"agent_id"`
	ActiveAgents  int         `json:"active_agents"`
	PendingOrders int         `json:"pending_orders"`
	Timestamp     int64       `json:"timestamp"`
}

// AgentStatusMsg is the immediate per-target reply to a subscribe, and the
// broadcast sent to watchers when a watched agent goes offline.
type AgentStatusMsg struct {
	Type         MessageType `json:"type"`
	AgentID      string      `json:"agent_id"`
	Status       AgentStatus `json:"status"`
	PriceAPT     float64     `json:"price_apt,omitempty"`
	Availability int         `json:"availability,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
}

// AgentUpdateMsg notifies watchers that a watched agent came online or that
// its session was replaced by a newer connection.
type AgentUpdateMsg struct {
	Type         MessageType `json:"type"`
	AgentID      string      `json:"agent_id"`
	Status       AgentStatus `json:"status"`
	PriceAPT     float64     `json:"price_apt"`
	Availability int         `json:"availability"`
	Capabilities []string    `json:"capabilities,omitempty"`
}

// PriceUpdateMsg notifies watchers that a watched agent changed its price.
type PriceUpdateMsg struct {
	Type     MessageType `json:"type"`
	AgentID  string      `json:"agent_id"`
	OldPrice float64     `json:"old_price"`
	NewPrice float64     `json:"new_price"`
}

// OrderQueuedMsg tells the requester the target is offline and the order was
// stored for later matching.
type OrderQueuedMsg struct {
	Type        MessageType `json:"type"`
	OrderID     string      `json:"order_id"`
	TargetAgent string      `json:"target_agent"`
}

// OrderRejectedMsg tells the requester the order was refused. Always carries
// a human-readable reason.
type OrderRejectedMsg struct {
	Type    MessageType `json:"type"`
	OrderID string      `json:"order_id"`
	Reason  string      `json:"reason"`
}

// OrderRoutedMsg tells the requester the order was delivered to the target.
type OrderRoutedMsg struct {
	Type        MessageType `json:"type"`
	OrderID     string      `json:"order_id"`
	TargetAgent string      `json:"target_agent"`
}

// IncomingOrderMsg delivers a routed order to its target agent.
type IncomingOrderMsg struct {
	Type           MessageType    `json:"type"`
	OrderID        string         `json:"order_id"`
	RequesterAgent string         `json:"requester_agent"`
	Capability     string         `json:"capability"`
	TaskParameters map[string]any `json:"task_parameters,omitempty"`
	MaxPriceAPT    float64        `json:"max_price_apt"`
}

// OrderCompletedMsg tells the payer its order settled.
type OrderCompletedMsg struct {
	Type            MessageType      `json:"type"`
	OrderID         string           `json:"order_id"`
	AmountAPT       float64          `json:"amount_apt"`
	TransactionHash string           `json:"transaction_hash"`
	Status          SettlementStatus `json:"status"`
}

// PaymentReceivedMsg tells the payee its payment was recorded.
type PaymentReceivedMsg struct {
	Type            MessageType      `json:"type"`
	OrderID         string           `json:"order_id"`
	AmountAPT       float64          `json:"amount_apt"`
	TransactionHash string           `json:"transaction_hash"`
	Status          SettlementStatus `json:"status"`
}

// OrderExpiredMsg tells the requester a routed order timed out or its target
// disconnected before responding.
type OrderExpiredMsg struct {
	Type    MessageType `json:"type"`
	OrderID string      `json:"order_id"`
	Reason  string      `json:"reason"`
}

// SupersededMsg is sent to a session about to be evicted because a newer
// connection claimed the same agent id.
type SupersededMsg struct {
	Type    MessageType `json:"type"`
	AgentID string      `json:"agent_id"`
	Reason  string      `json:"reason"`
}

// ErrorMsg reports a protocol error back to the offending sender. The
// connection stays open.
type ErrorMsg struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
}

func NewHeartbeatAck(agentID string, activeAgents, pendingOrders int, ts int64) HeartbeatAck {
	return HeartbeatAck{
		Type:          MsgHeartbeatAck,
		AgentID:       agentID,
		ActiveAgents:  activeAgents,
		PendingOrders: pendingOrders,
		Timestamp:     ts,
	}
}

func NewAgentOnlineStatus(hb Heartbeat) AgentStatusMsg {
	return AgentStatusMsg{
		Type:         MsgAgentStatus,
		AgentID:      hb.AgentID,
		Status:       AgentOnline,
		PriceAPT:     hb.PriceAPT,
		Availability: hb.Availability,
		Capabilities: hb.Capabilities,
	}
}

func NewAgentOfflineStatus(agentID string) AgentStatusMsg {
	return AgentStatusMsg{Type: MsgAgentStatus, AgentID: agentID, Status: AgentOffline}
}

func NewAgentUpdate(hb Heartbeat) AgentUpdateMsg {
	return AgentUpdateMsg{
		Type:         MsgAgentUpdate,
		AgentID:      hb.AgentID,
		Status:       AgentOnline,
		PriceAPT:     hb.PriceAPT,
		Availability: hb.Availability,
		Capabilities: hb.Capabilities,
	}
}

func NewPriceUpdate(agentID string, oldPrice, newPrice float64) PriceUpdateMsg {
	return PriceUpdateMsg{Type: MsgPriceUpdate, AgentID: agentID, OldPrice: oldPrice, NewPrice: newPrice}
}

func NewOrderQueued(o *Order) OrderQueuedMsg {
	return OrderQueuedMsg{Type: MsgOrderQueued, OrderID: o.OrderID, TargetAgent: o.TargetAgent}
}

func NewOrderRejected(orderID, reason string) OrderRejectedMsg {
	return OrderRejectedMsg{Type: MsgOrderRejected, OrderID: orderID, Reason: reason}
}

func NewOrderRouted(o *Order) OrderRoutedMsg {
	return OrderRoutedMsg{Type: MsgOrderRouted, OrderID: o.OrderID, TargetAgent: o.TargetAgent}
}

func NewIncomingOrder(o *Order) IncomingOrderMsg {
	return IncomingOrderMsg{
		Type:           MsgIncomingOrder,
		OrderID:        o.OrderID,
		RequesterAgent: o.RequesterAgent,
		Capability:     o.Capability,
		TaskParameters: o.TaskParameters,
		MaxPriceAPT:    o.MaxPriceAPT,
	}
}

func NewOrderCompleted(rec SettlementRecord) OrderCompletedMsg {
	return OrderCompletedMsg{
		Type:            MsgOrderCompleted,
		OrderID:         rec.OrderID,
		AmountAPT:       rec.AmountAPT,
		TransactionHash: rec.TransactionHash,
		Status:          rec.Status,
	}
}

func NewPaymentReceived(rec SettlementRecord) PaymentReceivedMsg {
	return PaymentReceivedMsg{
		Type:            MsgPaymentReceived,
		OrderID:         rec.OrderID,
		AmountAPT:       rec.AmountAPT,
		TransactionHash: rec.TransactionHash,
		Status:          rec.Status,
	}
}

func NewOrderExpired(orderID, reason string) OrderExpiredMsg {
	return OrderExpiredMsg{Type: MsgOrderExpired, OrderID: orderID, Reason: reason}
}

func NewSuperseded(agentID string) SupersededMsg {
	return SupersededMsg{
		Type:    MsgSuperseded,
		AgentID: agentID,
		Reason:  "a newer connection claimed this agent id",
	}
}

func NewError(reason string) ErrorMsg {
	return ErrorMsg{Type: MsgError, Reason: reason}
}
