// Package discovery serves the read-mostly query side of the marketplace:
// capability search and aggregate stats over periodic snapshots of the live
// agent set. It never reads coordinator state on the request path.
package discovery

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agora/internal/domain"
)

// DefaultSchedule refreshes the snapshot every five seconds.
const DefaultSchedule = "@every 5s"

// Source is the live state the service snapshots, implemented by the
// coordinator.
type Source interface {
	Sessions() []domain.AgentSession
	Stats() domain.MarketStats
}

// AgentInfo is one row of the published agent snapshot.
type AgentInfo struct {
	AgentID        string    `json:"agent_id"`
	Address        string    `json:"agent_address,omitempty"`
	Capabilities   []string  `json:"capabilities"`
	PriceAPT       float64   `json:"price_apt"`
	Availability   int       `json:"availability"`
	QueueLength    int       `json:"queue_length"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Reputation     float64   `json:"reputation"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// Service holds the current snapshot and refreshes it on a cron schedule.
type Service struct {
	source Source
	logger *slog.Logger

	mu      sync.RWMutex
	agents  []AgentInfo
	stats   domain.MarketStats
	taken   time.Time

	cron *cron.Cron
}

// New creates a discovery service. Call Start to begin periodic refreshes;
// the first snapshot is taken immediately.
func New(source Source, logger *slog.Logger) *Service {
	s := &Service{
		source: source,
		logger: logger,
	}
	s.Refresh()
	return s
}

// Start schedules periodic snapshot refreshes. schedule uses cron syntax
// (including "@every" shortcuts); empty selects DefaultSchedule.
func (s *Service) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.Refresh); err != nil {
		return domain.WrapOp("discovery schedule", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("discovery snapshots scheduled", "schedule", schedule)
	return nil
}

// Stop halts the refresh schedule.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Refresh takes a fresh snapshot from the source.
func (s *Service) Refresh() {
	sessions := s.source.Sessions()
	agents := make([]AgentInfo, 0, len(sessions))
	for _, sess := range sessions {
		hb := sess.LastHeartbeat
		agents = append(agents, AgentInfo{
			AgentID:        hb.AgentID,
			Address:        hb.AgentAddress,
			Capabilities:   hb.Capabilities,
			PriceAPT:       hb.PriceAPT,
			Availability:   hb.Availability,
			QueueLength:    hb.QueueLength,
			ResponseTimeMs: hb.ResponseTimeMs,
			Reputation:     hb.Reputation,
			ConnectedAt:    sess.ConnectedAt,
		})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })

	stats := s.source.Stats()

	s.mu.Lock()
	s.agents = agents
	s.stats = stats
	s.taken = time.Now()
	s.mu.Unlock()
}

// Agents returns the current snapshot.
func (s *Service) Agents() []AgentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentInfo, len(s.agents))
	copy(out, s.agents)
	return out
}

// Search filters the snapshot by capability substring and an optional price
// ceiling (maxPrice <= 0 means unbounded). Results are ordered by reputation,
// best first.
func (s *Service) Search(capability string, maxPrice float64) []AgentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AgentInfo
	needle := strings.ToLower(capability)
	for _, a := range s.agents {
		if maxPrice > 0 && a.PriceAPT > maxPrice {
			continue
		}
		if needle != "" && !hasCapability(a.Capabilities, needle) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reputation > out[j].Reputation })
	return out
}

// Stats returns the stats captured with the current snapshot and its age.
func (s *Service) Stats() (domain.MarketStats, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, s.taken
}

func hasCapability(caps []string, needle string) bool {
	for _, c := range caps {
		if strings.Contains(strings.ToLower(c), needle) {
			return true
		}
	}
	return false
}
