// Package subscription maintains the watcher index: which connections want
// status updates about which agents.
package subscription

import (
	"sync"

	"agora/internal/domain"
)

// Index is the many-to-many watcher relation. One connection may watch many
// agents; one agent may be watched by many connections. Entries live until
// an explicit unsubscribe or whole-connection teardown.
type Index struct {
	mu       sync.RWMutex
	watchers map[string]map[string]domain.Conn  // agentID -> connID -> conn
	byConn   map[string]map[string]struct{}     // connID -> set of watched agentIDs
}

// NewIndex creates an empty subscription index.
func NewIndex() *Index {
	return &Index{
		watchers: make(map[string]map[string]domain.Conn),
		byConn:   make(map[string]map[string]struct{}),
	}
}

// Subscribe idempotently adds watcher to each target's set. The caller is
// responsible for the immediate current-status fan-out the protocol requires.
func (i *Index) Subscribe(watcher domain.Conn, targets []string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	connID := watcher.ID()
	watched, ok := i.byConn[connID]
	if !ok {
		watched = make(map[string]struct{})
		i.byConn[connID] = watched
	}
	for _, target := range targets {
		set, ok := i.watchers[target]
		if !ok {
			set = make(map[string]domain.Conn)
			i.watchers[target] = set
		}
		set[connID] = watcher
		watched[target] = struct{}{}
	}
}

// Unsubscribe removes the watcher from each target's set. Unknown targets
// are ignored.
func (i *Index) Unsubscribe(connID string, targets []string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, target := range targets {
		if set, ok := i.watchers[target]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(i.watchers, target)
			}
		}
		if watched, ok := i.byConn[connID]; ok {
			delete(watched, target)
			if len(watched) == 0 {
				delete(i.byConn, connID)
			}
		}
	}
}

// SubscribersOf returns the connections currently watching agentID.
func (i *Index) SubscribersOf(agentID string) []domain.Conn {
	i.mu.RLock()
	defer i.mu.RUnlock()

	set := i.watchers[agentID]
	if len(set) == 0 {
		return nil
	}
	out := make([]domain.Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// RemoveConn purges the connection from every target's set. After it returns
// no subscription set holds the closed connection. Idempotent.
func (i *Index) RemoveConn(connID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	watched, ok := i.byConn[connID]
	if !ok {
		return
	}
	for target := range watched {
		if set, ok := i.watchers[target]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(i.watchers, target)
			}
		}
	}
	delete(i.byConn, connID)
}

// Count returns the total number of (watcher, target) subscription pairs.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n := 0
	for _, set := range i.watchers {
		n += len(set)
	}
	return n
}
