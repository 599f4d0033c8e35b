// Package job defines the Job Handle and the AgentId set types shared by the
// publisher, the convergence controller, and every result aggregator.
package job

import (
	"sync"
	"time"

	"github.com/mattjoyce/saltctl/internal/target"
)

// AgentID identifies one remote execution endpoint. Opaque to the core.
type AgentID = string

// PublishFailedJID is the sentinel jid returned by the publisher when the
// request never reached the broker. Every aggregator treats it as an
// immediate empty result, never as an error.
const PublishFailedJID = "0"

// Handle is the immutable record created at publish time. Expected grows
// monotonically over the handle's lifetime (syndic announcements), so it is
// held as a pointer to a thread-safe AgentSet rather than a plain field.
type Handle struct {
	JID         string
	Expected    *AgentSet
	StartedAt   time.Time
	BaseTimeout time.Duration
	Target      target.Expression
}

// NewHandle builds a Handle for a successful publish.
func NewHandle(jid string, expected []AgentID, baseTimeout time.Duration, tgt target.Expression) *Handle {
	return &Handle{
		JID:         jid,
		Expected:    NewAgentSet(expected...),
		StartedAt:   time.Now(),
		BaseTimeout: baseTimeout,
		Target:      tgt,
	}
}

// PublishFailed reports whether this handle represents a publish that never
// reached the broker (jid == "0").
func (h *Handle) PublishFailed() bool {
	return h == nil || h.JID == PublishFailedJID
}

// AgentSet is a small thread-safe set of AgentIDs. Callers from C3/C4/C5 may
// all touch it concurrently (expansion from syndic announcements can race
// with convergence checks), so every operation is guarded by a mutex.
type AgentSet struct {
	mu   sync.RWMutex
	ids  map[AgentID]struct{}
	list []AgentID // insertion order, for deterministic printing
}

// NewAgentSet builds a set seeded with the given ids.
func NewAgentSet(ids ...AgentID) *AgentSet {
	s := &AgentSet{ids: make(map[AgentID]struct{}, len(ids))}
	for _, id := range ids {
		s.addLocked(id)
	}
	return s
}

func (s *AgentSet) addLocked(id AgentID) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.list = append(s.list, id)
	return true
}

// Add inserts id into the set. Returns true if it was newly added.
func (s *AgentSet) Add(id AgentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(id)
}

// AddAll inserts every id in ids, returning how many were newly added.
func (s *AgentSet) AddAll(ids []AgentID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if s.addLocked(id) {
			n++
		}
	}
	return n
}

// Has reports whether id is a member.
func (s *AgentSet) Has(id AgentID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the current set size.
func (s *AgentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// List returns a snapshot of the set's members in insertion order.
func (s *AgentSet) List() []AgentID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentID, len(s.list))
	copy(out, s.list)
	return out
}

// CheckAndInsert atomically tests membership and inserts id if absent,
// returning whether the id was newly inserted. This is the "yield each id
// once" primitive the convergence controller relies on when draining C3 and
// C4.
func (s *AgentSet) CheckAndInsert(id AgentID) bool {
	return s.Add(id)
}

// Missing returns the members of expected that are not present in found, in
// expected's insertion order (not sorted).
func Missing(expected, found *AgentSet) []AgentID {
	exp := expected.List()
	out := make([]AgentID, 0, len(exp))
	for _, id := range exp {
		if !found.Has(id) {
			out = append(out, id)
		}
	}
	return out
}
