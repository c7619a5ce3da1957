// Package analyzer attributes follower growth to action kinds and turns that
// into effectiveness scores and rebalanced daily limits.
//
// Attribution is a before/after heuristic: after each successful action the
// agent's follower count is re-read and any positive delta since the previous
// reading is credited to that action's kind, bucketed per local hour.
package analyzer

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"skyherd/internal/budget"
	"skyherd/internal/state"
	"skyherd/internal/types"
)

// DefaultScore is used for kinds with no recorded actions.
const DefaultScore = 1.0

// ProfileFetcher reads a profile by DID or handle.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, actor string) (types.Profile, error)
}

// Analyzer tracks one agent's follower count and engagement history.
type Analyzer struct {
	mu               sync.Mutex
	store            *state.Store
	profiles         ProfileFetcher
	actor            string
	snapshotInterval time.Duration
	logger           *zap.Logger

	history       state.EngagementHistory
	followers     *state.FollowerStats
	lastFollowers int
	// primed is set once lastFollowers holds a real reading.
	primed bool
}

// New loads the engagement history and follower snapshots for the agent
// identified by actor. Load failures are logged and start from empty state.
func New(store *state.Store, profiles ProfileFetcher, actor string, snapshotInterval time.Duration, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		store:            store,
		profiles:         profiles,
		actor:            actor,
		snapshotInterval: snapshotInterval,
		logger:           logger,
	}

	history, err := store.LoadEngagementHistory()
	if err != nil {
		logger.Warn("failed to load engagement history", zap.Error(err))
	}
	a.history = history

	followers, err := store.LoadFollowerStats()
	if err != nil {
		logger.Warn("failed to load follower stats", zap.Error(err))
	}
	a.followers = followers
	return a
}

// Prime records the starting follower count.
func (a *Analyzer) Prime(ctx context.Context) error {
	p, err := a.profiles.GetProfile(ctx, a.actor)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.setBaseline(p.FollowersCount)
	a.mu.Unlock()
	a.logger.Info("initial follower count", zap.Int("followers", p.FollowersCount))
	return nil
}

// LastFollowerCount is the most recent follower reading.
func (a *Analyzer) LastFollowerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFollowers
}

// TrackFollowers appends a follower snapshot unless one was taken within the
// snapshot interval. It reports whether a snapshot was recorded.
func (a *Analyzer) TrackFollowers(ctx context.Context) (bool, error) {
	now := a.store.Now()

	a.mu.Lock()
	last := a.followers.LastCheck
	a.mu.Unlock()
	if last != nil && now.Sub(*last) < a.snapshotInterval {
		return false, nil
	}

	p, err := a.profiles.GetProfile(ctx, a.actor)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.followers.Snapshots = append(a.followers.Snapshots, state.FollowerSnapshot{
		Timestamp:      now,
		FollowerCount:  p.FollowersCount,
		FollowingCount: p.FollowingCount,
		PostCount:      p.PostsCount,
	})
	a.followers.LastCheck = &now
	if !a.primed {
		a.setBaseline(p.FollowersCount)
	}
	if err := a.store.SaveFollowerStats(a.followers); err != nil {
		a.logger.Error("failed to persist follower snapshot", zap.Error(err))
	}
	a.logger.Info("recorded follower count", zap.Int("followers", p.FollowersCount))
	return true, nil
}

// RecordOutcome credits the follower change since the previous reading to
// kind. A failed lookup credits no gain but still counts the action. Without a
// baseline reading the first successful lookup only sets the baseline.
func (a *Analyzer) RecordOutcome(ctx context.Context, kind types.ActionKind) {
	p, err := a.profiles.GetProfile(ctx, a.actor)
	if err != nil {
		a.logger.Warn("follower lookup failed, crediting no gain",
			zap.String("kind", kind.String()), zap.Error(err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.store.Now()
	a.history.Prune(now)
	buckets := a.history[kind]
	if buckets == nil {
		buckets = make(map[string]state.PeriodRecord)
		a.history[kind] = buckets
	}

	key := state.PeriodKey(now)
	rec, ok := buckets[key]
	if !ok {
		rec.Timestamp = now
	}
	rec.Count++
	switch {
	case err != nil:
	case !a.primed:
		a.setBaseline(p.FollowersCount)
	default:
		if gained := p.FollowersCount - a.lastFollowers; gained > 0 {
			rec.FollowersGained += gained
		}
		a.lastFollowers = p.FollowersCount
	}
	buckets[key] = rec

	if err := a.store.SaveEngagementHistory(a.history); err != nil {
		a.logger.Error("failed to persist engagement history", zap.Error(err))
	}
}

// setBaseline must be called with mu held.
func (a *Analyzer) setBaseline(count int) {
	a.lastFollowers = count
	a.primed = true
}

// Score is followers gained per hundred actions of kind across the retained
// buckets, or DefaultScore when there is nothing to measure.
func (a *Analyzer) Score(kind types.ActionKind) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Prune(a.store.Now())
	return score(a.history[kind])
}

// Scores computes Score for each kind.
func (a *Analyzer) Scores(kinds []types.ActionKind) map[types.ActionKind]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Prune(a.store.Now())

	out := make(map[types.ActionKind]float64, len(kinds))
	for _, k := range kinds {
		out[k] = score(a.history[k])
	}
	return out
}

func score(buckets map[string]state.PeriodRecord) float64 {
	actions, gained := 0, 0
	for _, rec := range buckets {
		actions += rec.Count
		gained += rec.FollowersGained
	}
	if actions == 0 {
		return DefaultScore
	}
	return float64(gained) / float64(actions) * 100
}

// Rebalance scores every kind of the original allocation and reallocates it.
// ok is false when the scores carry no signal and limits should stay as they are.
func (a *Analyzer) Rebalance(original types.Limits) (types.Limits, map[types.ActionKind]float64, bool) {
	scores := a.Scores(original.Kinds())
	limits, ok := Reallocate(original, scores)
	return limits, scores, ok
}

// Reallocate distributes the original total budget in proportion to scores:
// proposed = round(score / Σscores × Σoriginal), clamped to budget.Bounds of
// each kind's original limit. The total may drift after clamping. ok is false
// when the scores sum to zero.
func Reallocate(original types.Limits, scores map[types.ActionKind]float64) (types.Limits, bool) {
	kinds := original.Kinds()
	sum := 0.0
	for _, k := range kinds {
		sum += scores[k]
	}
	if sum == 0 {
		return nil, false
	}

	total := float64(original.Total())
	out := make(types.Limits, len(kinds))
	for _, k := range kinds {
		proposed := int(math.Round(scores[k] / sum * total))
		out[k] = budget.Clamp(original[k], proposed)
	}
	return out, true
}
