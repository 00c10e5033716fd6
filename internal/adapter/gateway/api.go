package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// The discovery API is read-mostly and serves snapshots, never live
// coordinator state (see the discovery package).

const defaultSettlementLimit = 50

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/search", s.handleSearch)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/settlements", s.handleSettlements)
	mux.HandleFunc("/metrics", s.handleMetrics)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"agents": s.discovery.Agents()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	capability := r.URL.Query().Get("capability")
	maxPrice := 0.0
	if raw := r.URL.Query().Get("max_price"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "max_price must be a number", http.StatusBadRequest)
			return
		}
		maxPrice = p
	}
	writeJSON(w, map[string]any{"agents": s.discovery.Search(capability, maxPrice)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, taken := s.discovery.Stats()
	writeJSON(w, map[string]any{
		"stats":       stats,
		"snapshot_at": taken,
	})
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "settlement ledger disabled", http.StatusNotFound)
		return
	}
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		http.Error(w, "agent query parameter required", http.StatusBadRequest)
		return
	}
	limit := defaultSettlementLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.ledger.ListByAgent(r.Context(), agent, limit)
	if err != nil {
		s.logger.Error("settlement query failed", "agent", agent, "error", err)
		http.Error(w, "ledger query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"settlements": entries})
}

// handleMetrics serves Prometheus text format directly; the counter set is
// small enough that the full client library would be dead weight.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	stats, _ := s.discovery.Stats()

	fmt.Fprintf(w, "# HELP agora_agents_active Number of currently connected agents.\n")
	fmt.Fprintf(w, "# TYPE agora_agents_active gauge\n")
	fmt.Fprintf(w, "agora_agents_active %d\n", stats.ActiveAgents)

	fmt.Fprintf(w, "# HELP agora_orders_pending Number of active (queued or routed) orders.\n")
	fmt.Fprintf(w, "# TYPE agora_orders_pending gauge\n")
	fmt.Fprintf(w, "agora_orders_pending %d\n", stats.PendingOrders)

	fmt.Fprintf(w, "# HELP agora_subscriptions Number of (watcher, target) subscription pairs.\n")
	fmt.Fprintf(w, "# TYPE agora_subscriptions gauge\n")
	fmt.Fprintf(w, "agora_subscriptions %d\n", stats.Subscriptions)

	fmt.Fprintf(w, "# HELP agora_mean_price_apt Mean advertised price across online agents.\n")
	fmt.Fprintf(w, "# TYPE agora_mean_price_apt gauge\n")
	fmt.Fprintf(w, "agora_mean_price_apt %f\n", stats.MeanPriceAPT)

	fmt.Fprintf(w, "# HELP agora_messages_received_total Total protocol messages received.\n")
	fmt.Fprintf(w, "# TYPE agora_messages_received_total counter\n")
	fmt.Fprintf(w, "agora_messages_received_total %d\n", s.metrics.MessagesReceived.Load())

	fmt.Fprintf(w, "# HELP agora_messages_sent_total Total protocol messages sent.\n")
	fmt.Fprintf(w, "# TYPE agora_messages_sent_total counter\n")
	fmt.Fprintf(w, "agora_messages_sent_total %d\n", s.metrics.MessagesSent.Load())

	fmt.Fprintf(w, "# HELP agora_protocol_errors_total Total malformed or unknown messages.\n")
	fmt.Fprintf(w, "# TYPE agora_protocol_errors_total counter\n")
	fmt.Fprintf(w, "agora_protocol_errors_total %d\n", s.metrics.ProtocolErrors.Load())

	fmt.Fprintf(w, "# HELP agora_heartbeats_total Total heartbeats processed.\n")
	fmt.Fprintf(w, "# TYPE agora_heartbeats_total counter\n")
	fmt.Fprintf(w, "agora_heartbeats_total %d\n", s.metrics.Heartbeats.Load())

	fmt.Fprintf(w, "# HELP agora_orders_submitted_total Total orders submitted.\n")
	fmt.Fprintf(w, "# TYPE agora_orders_submitted_total counter\n")
	fmt.Fprintf(w, "agora_orders_submitted_total %d\n", s.metrics.OrdersSubmitted.Load())

	fmt.Fprintf(w, "# HELP agora_orders_settled_total Total orders settled.\n")
	fmt.Fprintf(w, "# TYPE agora_orders_settled_total counter\n")
	fmt.Fprintf(w, "agora_orders_settled_total %d\n", s.metrics.OrdersSettled.Load())

	fmt.Fprintf(w, "# HELP agora_orders_expired_total Total orders expired.\n")
	fmt.Fprintf(w, "# TYPE agora_orders_expired_total counter\n")
	fmt.Fprintf(w, "agora_orders_expired_total %d\n", s.metrics.OrdersExpired.Load())

	fmt.Fprintf(w, "# HELP agora_uptime_seconds Seconds since the gateway started.\n")
	fmt.Fprintf(w, "# TYPE agora_uptime_seconds gauge\n")
	fmt.Fprintf(w, "agora_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
