// Package registry tracks live agent sessions: which connection currently
// claims which agent identity.
package registry

import (
	"log/slog"
	"sync"

	"agora/internal/domain"
)

// RegisterResult reports what a heartbeat upsert did.
type RegisterResult struct {
	Session *domain.AgentSession
	// Prev is the previous heartbeat for this agent id, nil if the agent
	// was offline. The coordinator uses it to detect price changes.
	Prev *domain.Heartbeat
	// Evicted is the connection of an older session that claimed the same
	// agent id, nil unless a duplicate identity was superseded.
	Evicted domain.Conn
}

// Registry maps agentID -> session plus the reverse connection -> agentID
// mapping needed for O(1) disconnect cleanup.
//
// The coordinator serializes all writes; the RWMutex exists because the
// discovery snapshot reader and stats computation read concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.AgentSession // agentID -> session
	byConn   map[string]string               // connID -> agentID
	clock    domain.Clock
	logger   *slog.Logger
}

// New creates an empty registry.
func New(clock domain.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*domain.AgentSession),
		byConn:   make(map[string]string),
		clock:    clock,
		logger:   logger,
	}
}

// Register inserts or refreshes the session for hb.AgentID. Last writer wins:
// when a different live connection already claims the id, the old session is
// evicted and its connection returned so the caller can notify and close it.
// Malformed heartbeats never reach the registry; Register does not fail.
func (r *Registry) Register(conn domain.Conn, hb domain.Heartbeat) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := RegisterResult{}
	if existing, ok := r.sessions[hb.AgentID]; ok {
		prev := existing.LastHeartbeat
		res.Prev = &prev
		if existing.Conn.ID() == conn.ID() {
			existing.LastHeartbeat = hb
			res.Session = existing
			return res
		}
		// Duplicate identity from a newer connection.
		res.Evicted = existing.Conn
		delete(r.byConn, existing.Conn.ID())
		r.logger.Warn("agent session superseded",
			"agent_id", hb.AgentID,
			"old_conn", existing.Conn.ID(),
			"new_conn", conn.ID(),
		)
	}

	// One session per connection: a connection re-announcing under a new
	// agent id gives up its old identity.
	if prevID, ok := r.byConn[conn.ID()]; ok && prevID != hb.AgentID {
		delete(r.sessions, prevID)
	}

	sess := &domain.AgentSession{
		AgentID:       hb.AgentID,
		Conn:          conn,
		LastHeartbeat: hb,
		ConnectedAt:   r.clock.Now(),
	}
	r.sessions[hb.AgentID] = sess
	r.byConn[conn.ID()] = hb.AgentID
	res.Session = sess
	return res
}

// Lookup returns the live session for agentID, if any.
func (r *Registry) Lookup(agentID string) (*domain.AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[agentID]
	return sess, ok
}

// RemoveByConn removes the session owned by the given connection and returns
// the freed agent id. Removing a connection with no session is a no-op, so
// disconnect cleanup is idempotent.
func (r *Registry) RemoveByConn(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	// Only drop the session if this connection still owns it; a superseding
	// connection may have taken the id over in the meantime.
	if sess, ok := r.sessions[agentID]; ok && sess.Conn.ID() == connID {
		delete(r.sessions, agentID)
	}
	return agentID, true
}

// Sessions returns a point-in-time copy of all live sessions.
func (r *Registry) Sessions() []domain.AgentSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
