// Package riskstate owns RiskState (§3): session/daily equity baselines,
// the equity high-water mark, and consecutive-loss tracking, persisted
// across restarts and reset at UTC date change.
//
// Grounded on the teacher's internal/execution/risk_manager.go
// daily-stats/ResetDailyStats fields; persistence and the daily cron reset
// have no teacher equivalent and are grounded on SPEC_FULL.md §2b's
// domain-stack wiring (robfig/cron for the schedule, msgpack for the
// binary file codec).
package riskstate

import (
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Store owns RiskState, guarded by the read-write lock discipline of §5:
// readers snapshot, writers mutate minimally and release before I/O.
type Store struct {
	mu     sync.RWMutex
	state  types.RiskState
	path   string
	logger *zap.Logger
	cron   *cron.Cron
}

// New builds a Store. path is the file the state is persisted to; an empty
// path disables persistence.
func New(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger.Named("riskstate")}
}

// Load reads persisted state from disk, or initializes fresh state at
// startingEquity if no file exists yet.
func (s *Store) Load(startingEquity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := os.ReadFile(s.path)
		if err == nil {
			var st types.RiskState
			if decErr := msgpack.Unmarshal(data, &st); decErr == nil {
				s.state = st
				return nil
			}
			s.logger.Warn("failed to decode persisted risk state, reinitializing", zap.Error(err))
		} else if !os.IsNotExist(err) {
			s.logger.Warn("failed to read persisted risk state, reinitializing", zap.Error(err))
		}
	}

	s.state = types.RiskState{
		SessionStartEquity:  startingEquity,
		DailyStartEquity:    startingEquity,
		EquityHighWaterMark: startingEquity,
		ReferenceDate:       time.Now().UTC().Truncate(24 * time.Hour),
	}
	return s.persistLocked()
}

// Snapshot returns a read-only copy of the current state.
func (s *Store) Snapshot() types.RiskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ObserveEquity updates the high-water mark on a new equity reading and
// resets daily baselines on UTC date change.
func (s *Store) ObserveEquity(equity decimal.Decimal, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := now.UTC().Truncate(24 * time.Hour)
	if today.After(s.state.ReferenceDate) {
		s.state.DailyStartEquity = equity
		s.state.ReferenceDate = today
		s.state.DailyDrawdownReset = true
	} else {
		s.state.DailyDrawdownReset = false
	}

	if equity.GreaterThan(s.state.EquityHighWaterMark) {
		s.state.EquityHighWaterMark = equity
	}
	_ = s.persistLocked()
}

// RecordTradeOutcome updates the consecutive-loss counter: increments on a
// loss, resets to zero on a win (§4.9).
func (s *Store) RecordTradeOutcome(won bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if won {
		s.state.ConsecutiveLosses = 0
	} else {
		s.state.ConsecutiveLosses++
	}
	_ = s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := msgpack.Marshal(s.state)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// StartDailyReset schedules a UTC-midnight reset of the daily baseline
// using robfig/cron, independent of the next ObserveEquity call.
func (s *Store) StartDailyReset(equityFn func() decimal.Decimal) error {
	loc, err := time.LoadLocation("UTC")
	if err != nil {
		return err
	}
	s.cron = cron.New(cron.WithLocation(loc))
	_, err = s.cron.AddFunc("0 0 * * *", func() {
		s.ObserveEquity(equityFn(), time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the daily reset schedule.
func (s *Store) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
