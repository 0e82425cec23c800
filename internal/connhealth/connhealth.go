// Package connhealth implements the ConnectionHealthService: the
// process-wide connectivity status shared by the Sentinel, MarketGateway
// and the API layer's /health/connection endpoint.
//
// Generalized from the teacher's MarketDataService connection-state fields
// (internal/data/market_data.go) into a standalone component, since the
// specification (§5) calls out connection health as one of only three
// shared-mutable-state owners guarded by a read-write lock.
package connhealth

import (
	"sync"
	"time"
)

// Status is the published connectivity state.
type Status struct {
	Online        bool
	LastEventAt   time.Time
	LastHealAt    time.Time
	ConsecutiveReconnects int
}

// Service is the single read-write-locked owner of connection health.
type Service struct {
	mu     sync.RWMutex
	status Status
}

// New builds a Service starting offline.
func New() *Service {
	return &Service{status: Status{Online: false}}
}

// Snapshot returns a read-only copy — callers never hold the lock across
// an await (§5 shared-resource discipline).
func (s *Service) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RecordHeartbeat marks the connection online and stamps the last event
// time.
func (s *Service) RecordHeartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Online = true
	s.status.LastEventAt = at
}

// MarkOffline flips the published status to offline.
func (s *Service) MarkOffline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Online = false
}

// RecordHeal stamps a forced re-subscription attempt.
func (s *Service) RecordHeal(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastHealAt = at
	s.status.ConsecutiveReconnects++
}

// ResetReconnects clears the reconnect counter once the connection is
// healthy again.
func (s *Service) ResetReconnects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ConsecutiveReconnects = 0
}
