package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType is the wire discriminator carried in every protocol message.
type MessageType string

// Client -> server message types.
const (
	MsgHeartbeat   MessageType = "heartbeat"
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgOrder       MessageType = "order"
	MsgSettlement  MessageType = "settlement"
)

// Server -> client message types.
const (
	MsgHeartbeatAck    MessageType = "heartbeat_ack"
	MsgAgentUpdate     MessageType = "agent_update"
	MsgAgentStatus     MessageType = "agent_status"
	MsgPriceUpdate     MessageType = "price_update"
	MsgOrderQueued     MessageType = "order_queued"
	MsgOrderRejected   MessageType = "order_rejected"
	MsgOrderRouted     MessageType = "order_routed"
	MsgIncomingOrder   MessageType = "incoming_order"
	MsgOrderCompleted  MessageType = "order_completed"
	MsgPaymentReceived MessageType = "payment_received"
	MsgOrderExpired    MessageType = "order_expired"
	MsgSuperseded      MessageType = "superseded"
	MsgError           MessageType = "error"
)

// Inbound is the tagged union of client-originated protocol messages. The
// dispatcher switches exhaustively over its variants; anything that does not
// decode into one of them is rejected at the transport edge by DecodeInbound.
type Inbound interface {
	inbound()
}

// HeartbeatMsg announces that an agent is online with its current status.
type HeartbeatMsg struct {
	Heartbeat
}

// SubscribeMsg asks to watch the listed target agents.
type SubscribeMsg struct {
	AgentID      string   `json:"agent_id"`
	TargetAgents []string `json:"target_agents"`
}

// UnsubscribeMsg stops watching the listed target agents.
type UnsubscribeMsg struct {
	AgentID      string   `json:"agent_id"`
	TargetAgents []string `json:"target_agents"`
}

// OrderMsg places a task order against a target agent.
type OrderMsg struct {
	OrderID        string         `json:"order_id"`
	RequesterAgent string         `json:"requester_agent"`
	TargetAgent    string         `json:"target_agent"`
	Capability     string         `json:"capability"`
	TaskParameters map[string]any `json:"task_parameters"`
	MaxPriceAPT    float64        `json:"max_price_apt"`
	Timestamp      int64          `json:"timestamp"`
}

// SettlementMsg reports the payment outcome for a routed order.
type SettlementMsg struct {
	OrderID         string           `json:"order_id"`
	AgentA          string           `json:"agent_a"`
	AgentB          string           `json:"agent_b"`
	AmountAPT       float64          `json:"amount_apt"`
	TransactionHash string           `json:"transaction_hash"`
	Status          SettlementStatus `json:"status"`
	Timestamp       int64            `json:"timestamp"`
}

func (HeartbeatMsg) inbound()   {}
func (SubscribeMsg) inbound()   {}
func (UnsubscribeMsg) inbound() {}
func (OrderMsg) inbound()       {}
func (SettlementMsg) inbound()  {}

// envelope is the minimal shape needed to pick a variant.
type envelope struct {
	Type MessageType `json:"type"`
}

// wireHeartbeat mirrors HeartbeatMsg with pointers on required numeric
// fields so that absence can be told apart from a zero value.
type wireHeartbeat struct {
	AgentID        string   `json:"agent_id"`
	AgentAddress   string   `json:"agent_address"`
	Capabilities   []string `json:"capabilities"`
	PriceAPT       *float64 `json:"price_apt"`
	Availability   int      `json:"availability"`
	QueueLength    int      `json:"queue_length"`
	ResponseTimeMs int      `json:"response_time_ms"`
	Reputation     float64  `json:"reputation"`
	Timestamp      int64    `json:"timestamp"`
}

type wireOrder struct {
	OrderID        string         `json:"order_id"`
	RequesterAgent string         `json:"requester_agent"`
	TargetAgent    string         `json:"target_agent"`
	Capability     string         `json:"capability"`
	TaskParameters map[string]any `json:"task_parameters"`
	MaxPriceAPT    *float64       `json:"max_price_apt"`
	Timestamp      int64          `json:"timestamp"`
}

// DecodeInbound is the single validation boundary between raw transport bytes
// and typed protocol messages. It returns ErrInvalidMessage (wrapped with a
// human-readable reason) for malformed payloads and ErrUnknownMessageType for
// types outside the protocol table.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "not valid JSON")
	}

	switch env.Type {
	case MsgHeartbeat:
		var w wireHeartbeat
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "malformed heartbeat")
		}
		if w.AgentID == "" {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "heartbeat missing agent_id")
		}
		if w.PriceAPT == nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "heartbeat missing price_apt")
		}
		return HeartbeatMsg{Heartbeat: Heartbeat{
			AgentID:        w.AgentID,
			AgentAddress:   w.AgentAddress,
			Capabilities:   w.Capabilities,
			PriceAPT:       *w.PriceAPT,
			Availability:   w.Availability,
			QueueLength:    w.QueueLength,
			ResponseTimeMs: w.ResponseTimeMs,
			Reputation:     w.Reputation,
			Timestamp:      w.Timestamp,
		}}, nil

	case MsgSubscribe:
		var m SubscribeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "malformed subscribe")
		}
		if m.AgentID == "" {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "subscribe missing agent_id")
		}
		if len(m.TargetAgents) == 0 {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "subscribe missing target_agents")
		}
		return m, nil

	case MsgUnsubscribe:
		var m UnsubscribeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "malformed unsubscribe")
		}
		if len(m.TargetAgents) == 0 {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "unsubscribe missing target_agents")
		}
		return m, nil

	case MsgOrder:
		var w wireOrder
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "malformed order")
		}
		if w.OrderID == "" {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "order missing order_id")
		}
		if w.TargetAgent == "" {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "order missing target_agent")
		}
		if w.MaxPriceAPT == nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "order missing max_price_apt")
		}
		return OrderMsg{
			OrderID:        w.OrderID,
			RequesterAgent: w.RequesterAgent,
			TargetAgent:    w.TargetAgent,
			Capability:     w.Capability,
			TaskParameters: w.TaskParameters,
			MaxPriceAPT:    *w.MaxPriceAPT,
			Timestamp:      w.Timestamp,
		}, nil

	case MsgSettlement:
		var m SettlementMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "malformed settlement")
		}
		if m.OrderID == "" {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "settlement missing order_id")
		}
		if m.AgentA == "" || m.AgentB == "" {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "settlement missing agent_a/agent_b")
		}
		if m.Status != SettlementSuccess && m.Status != SettlementFailed {
			return nil, NewDomainError("DecodeInbound", ErrInvalidMessage,
				fmt.Sprintf("settlement status %q is not success|failed", m.Status))
		}
		return m, nil

	case "":
		return nil, NewDomainError("DecodeInbound", ErrInvalidMessage, "missing type field")

	default:
		return nil, NewDomainError("DecodeInbound", ErrUnknownMessageType, string(env.Type))
	}
}
