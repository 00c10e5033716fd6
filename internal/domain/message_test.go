package domain

import (
	"errors"
	"testing"
)

func TestDecodeHeartbeat(t *testing.T) {
	data := []byte(`{
		"type": "heartbeat",
		"agent_id": "agent-1",
		"agent_address": "0xabc",
		"capabilities": ["translate", "summarize"],
		"price_apt": 0.05,
		"availability": 80,
		"queue_length": 2,
		"response_time_ms": 1200,
		"reputation": 4.7,
		"timestamp": 1700000000000
	}`)

	msg, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	hb, ok := msg.(HeartbeatMsg)
	if !ok {
		t.Fatalf("expected HeartbeatMsg, got %T", msg)
	}
	if hb.AgentID != "agent-1" {
		t.Errorf("agent_id = %q", hb.AgentID)
	}
	if hb.PriceAPT != 0.05 {
		t.Errorf("price_apt = %v", hb.PriceAPT)
	}
	if !hb.HasCapability("translate") || hb.HasCapability("paint") {
		t.Error("capability lookup wrong")
	}
}

func TestDecodeHeartbeatZeroPrice(t *testing.T) {
	// A free agent is valid; only an absent price is malformed.
	msg, err := DecodeInbound([]byte(`{"type":"heartbeat","agent_id":"a","price_apt":0}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.(HeartbeatMsg).PriceAPT != 0 {
		t.Error("expected zero price to survive decoding")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing type", `{"agent_id":"a"}`},
		{"heartbeat without agent_id", `{"type":"heartbeat","price_apt":1}`},
		{"heartbeat without price", `{"type":"heartbeat","agent_id":"a"}`},
		{"subscribe without targets", `{"type":"subscribe","agent_id":"w"}`},
		{"subscribe without agent_id", `{"type":"subscribe","target_agents":["a"]}`},
		{"unsubscribe without targets", `{"type":"unsubscribe","agent_id":"w"}`},
		{"order without order_id", `{"type":"order","target_agent":"a","max_price_apt":1}`},
		{"order without target", `{"type":"order","order_id":"o1","max_price_apt":1}`},
		{"order without max price", `{"type":"order","order_id":"o1","target_agent":"a"}`},
		{"settlement without order_id", `{"type":"settlement","agent_a":"a","agent_b":"b","status":"success"}`},
		{"settlement without parties", `{"type":"settlement","order_id":"o1","status":"success"}`},
		{"settlement with bad status", `{"type":"settlement","order_id":"o1","agent_a":"a","agent_b":"b","status":"maybe"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tc.data))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"teleport","agent_id":"a"}`))
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected ErrUnknownMessageType, got %v", err)
	}
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Detail != "teleport" {
		t.Errorf("expected detail to carry the offending type, got %v", err)
	}
}

func TestDecodeOrder(t *testing.T) {
	data := []byte(`{
		"type": "order",
		"order_id": "ord-1",
		"requester_agent": "buyer",
		"target_agent": "seller",
		"capability": "translate",
		"task_parameters": {"text": "hola", "lang": "en"},
		"max_price_apt": 0.1,
		"timestamp": 1700000000000
	}`)

	msg, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	o := msg.(OrderMsg)
	if o.OrderID != "ord-1" || o.TargetAgent != "seller" || o.MaxPriceAPT != 0.1 {
		t.Errorf("order fields wrong: %+v", o)
	}
	if o.TaskParameters["text"] != "hola" {
		t.Errorf("task_parameters lost: %+v", o.TaskParameters)
	}
}

func TestDecodeSettlement(t *testing.T) {
	data := []byte(`{
		"type": "settlement",
		"order_id": "ord-1",
		"agent_a": "buyer",
		"agent_b": "seller",
		"amount_apt": 0.08,
		"transaction_hash": "0xdeadbeef",
		"status": "success",
		"timestamp": 1700000000000
	}`)

	msg, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	s := msg.(SettlementMsg)
	if s.Status != SettlementSuccess || s.AmountAPT != 0.08 {
		t.Errorf("settlement fields wrong: %+v", s)
	}
}
