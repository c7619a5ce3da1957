// Package budget enforces per-kind daily action quotas.
//
// A Manager owns one agent's counters and limits. Counters are checked
// before an action and incremented after it succeeds, every change is written
// through to the state store, and the counters reset the first time a new
// local calendar day is observed.
package budget

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"skyherd/internal/state"
	"skyherd/internal/types"
)

// Manager is the quota gate for one agent.
type Manager struct {
	mu       sync.Mutex
	store    *state.Store
	original types.Limits
	limits   types.Limits
	stats    *state.EngagementStats
	logger   *zap.Logger
}

// Usage is one kind's position against its limit.
type Usage struct {
	Kind  types.ActionKind
	Count int
	Limit int
}

// Bounds returns the range a rebalanced limit must stay within:
// ceil(0.2 × original) to floor(1.5 × original).
func Bounds(original int) (lo, hi int) {
	if original <= 0 {
		return 0, 0
	}
	return (original + 4) / 5, original * 3 / 2
}

// Clamp forces v into Bounds(original).
func Clamp(original, v int) int {
	lo, hi := Bounds(original)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// New loads the agent's counters and any previously rebalanced limits.
// original is the configured allocation and stays the reallocation reference.
// A load failure is logged and the manager starts from defaults.
func New(store *state.Store, original types.Limits, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:    store,
		original: original.Clone(),
		limits:   original.Clone(),
		logger:   logger,
	}

	stats, err := store.LoadEngagementStats()
	if err != nil {
		logger.Warn("failed to load engagement stats, starting from zero", zap.Error(err))
	}
	m.stats = stats

	cfg, err := store.LoadEngagementConfig()
	if err != nil {
		logger.Warn("failed to load engagement config, using configured limits", zap.Error(err))
	}
	if cfg != nil {
		for kind, v := range cfg.DailyLimits {
			orig, ok := m.original[kind]
			if !ok {
				continue
			}
			m.limits[kind] = Clamp(orig, v)
		}
		logger.Info("restored rebalanced limits", zap.Any("limits", m.limits))
	}
	return m
}

// CanPerform reports whether another action of kind fits today's limit.
func (m *Manager) CanPerform(kind types.ActionKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Counts[kind] < m.limits[kind]
}

// RecordSuccess increments the counter for kind and persists it. It returns
// false for kinds the manager does not track.
func (m *Manager) RecordSuccess(kind types.ActionKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stats.Counts[kind]; !ok {
		return false
	}
	m.stats.Counts[kind]++
	if err := m.store.SaveEngagementStats(m.stats); err != nil {
		m.logger.Error("failed to persist counters", zap.String("kind", kind.String()), zap.Error(err))
	}
	return true
}

// ResetIfNewDay zeroes every counter if the stored reset date is before
// today's local date. It returns true when a reset happened.
func (m *Manager) ResetIfNewDay() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.store.Now()
	if !localDate(m.stats.LastReset).Before(localDate(now)) {
		return false
	}

	for k := range m.stats.Counts {
		m.stats.Counts[k] = 0
	}
	m.stats.LastReset = now
	if err := m.store.SaveEngagementStats(m.stats); err != nil {
		m.logger.Error("failed to persist counter reset", zap.Error(err))
	}
	m.logger.Info("daily counters reset", zap.Time("date", localDate(now)))
	return true
}

// ApplyLimits replaces the limits for every kind present in both limits and
// the original allocation, then persists them as the engagement config. The
// in-memory limits are applied even when persisting fails.
func (m *Manager) ApplyLimits(limits types.Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, v := range limits {
		if _, ok := m.original[kind]; !ok {
			continue
		}
		m.limits[kind] = v
	}
	m.logger.Info("daily limits updated", zap.Any("limits", m.limits))

	return m.store.SaveEngagementConfig(&state.EngagementConfig{
		DailyLimits: m.limits.Clone(),
		LastUpdated: m.store.Now(),
	})
}

// Limits returns a copy of the current limits.
func (m *Manager) Limits() types.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Clone()
}

// Original returns a copy of the configured allocation.
func (m *Manager) Original() types.Limits {
	return m.original.Clone()
}

// Count returns today's counter for kind.
func (m *Manager) Count(kind types.ActionKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Counts[kind]
}

// Usage lists every limited kind in canonical order.
func (m *Manager) Usage() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := m.limits.Kinds()
	out := make([]Usage, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Usage{Kind: k, Count: m.stats.Counts[k], Limit: m.limits[k]})
	}
	return out
}

// LastReset returns when the counters were last zeroed.
func (m *Manager) LastReset() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.LastReset
}

func localDate(t time.Time) time.Time {
	y, mo, d := t.Local().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.Local)
}
