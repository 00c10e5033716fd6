package discovery

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"agora/internal/domain"
)

type fakeSource struct {
	sessions []domain.AgentSession
	stats    domain.MarketStats
}

func (f *fakeSource) Sessions() []domain.AgentSession { return f.sessions }
func (f *fakeSource) Stats() domain.MarketStats       { return f.stats }

func session(agentID string, price, reputation float64, caps ...string) domain.AgentSession {
	return domain.AgentSession{
		AgentID: agentID,
		LastHeartbeat: domain.Heartbeat{
			AgentID:      agentID,
			PriceAPT:     price,
			Reputation:   reputation,
			Capabilities: caps,
		},
	}
}

func testService(t *testing.T, src *fakeSource) *Service {
	t.Helper()
	return New(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSnapshotOnCreation(t *testing.T) {
	src := &fakeSource{
		sessions: []domain.AgentSession{
			session("bob", 0.2, 4.0, "summarize"),
			session("alice", 0.1, 4.5, "translate"),
		},
		stats: domain.MarketStats{ActiveAgents: 2},
	}
	s := testService(t, src)

	agents := s.Agents()
	if len(agents) != 2 {
		t.Fatalf("snapshot has %d agents, want 2", len(agents))
	}
	// Deterministic listing order.
	if agents[0].AgentID != "alice" || agents[1].AgentID != "bob" {
		t.Errorf("order = [%s %s], want [alice bob]", agents[0].AgentID, agents[1].AgentID)
	}

	stats, taken := s.Stats()
	if stats.ActiveAgents != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if time.Since(taken) > time.Minute {
		t.Error("snapshot timestamp not set")
	}
}

func TestRefreshPicksUpChanges(t *testing.T) {
	src := &fakeSource{}
	s := testService(t, src)
	if len(s.Agents()) != 0 {
		t.Fatal("empty source should give empty snapshot")
	}

	src.sessions = []domain.AgentSession{session("alice", 0.1, 4.5, "translate")}
	s.Refresh()

	if got := s.Agents(); len(got) != 1 || got[0].AgentID != "alice" {
		t.Errorf("agents after refresh = %v", got)
	}
}

func TestSearch(t *testing.T) {
	src := &fakeSource{
		sessions: []domain.AgentSession{
			session("cheap", 0.05, 3.0, "translate-en"),
			session("pricey", 0.50, 4.9, "translate-fr"),
			session("other", 0.05, 4.0, "summarize"),
		},
	}
	s := testService(t, src)

	t.Run("by capability substring", func(t *testing.T) {
		got := s.Search("TRANSLATE", 0)
		if len(got) != 2 {
			t.Fatalf("got %d agents, want 2", len(got))
		}
		// Best reputation first.
		if got[0].AgentID != "pricey" || got[1].AgentID != "cheap" {
			t.Errorf("order = [%s %s]", got[0].AgentID, got[1].AgentID)
		}
	})

	t.Run("with price ceiling", func(t *testing.T) {
		got := s.Search("translate", 0.10)
		if len(got) != 1 || got[0].AgentID != "cheap" {
			t.Errorf("got %v, want [cheap]", got)
		}
	})

	t.Run("no filters returns everyone", func(t *testing.T) {
		if got := s.Search("", 0); len(got) != 3 {
			t.Errorf("got %d agents, want 3", len(got))
		}
	})

	t.Run("no match", func(t *testing.T) {
		if got := s.Search("paint", 0); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
}

func TestStartSchedulesRefresh(t *testing.T) {
	src := &fakeSource{}
	s := testService(t, src)
	if err := s.Start("@every 10ms"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.sessions = []domain.AgentSession{session("alice", 0.1, 4.5)}

	deadline := time.After(2 * time.Second)
	for len(s.Agents()) == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduled refresh never ran")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := testService(t, &fakeSource{})
	if err := s.Start("not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
