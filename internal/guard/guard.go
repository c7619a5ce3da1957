// Package guard keeps an agent from repeating itself: it remembers which
// posts were already replied to, spaces out original posts and restricts
// them to favorable hours.
package guard

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"skyherd/internal/state"
)

// Random is the source used for the off-peak coin flip.
type Random interface {
	Float64() float64
}

// OffPeakChance is the probability of posting outside the peak windows.
const OffPeakChance = 0.2

type window struct{ start, end int } // [start, end) in local hours

var (
	weekdayPeaks = []window{{7, 9}, {12, 14}, {17, 22}}
	weekendPeaks = []window{{9, 22}}
)

// Guard owns an agent's post history.
type Guard struct {
	mu      sync.Mutex
	store   *state.Store
	history *state.PostHistory
	rng     Random
	logger  *zap.Logger
}

// New loads the post history. A load failure is logged and starts empty.
func New(store *state.Store, rng Random, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	history, err := store.LoadPostHistory()
	if err != nil {
		logger.Warn("failed to load post history", zap.Error(err))
	}
	return &Guard{store: store, history: history, rng: rng, logger: logger}
}

// AlreadyRepliedTo reports whether uri has a retained post record.
func (g *Guard) AlreadyRepliedTo(uri string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history.Prune(g.store.Now())
	_, ok := g.history.Posts[uri]
	return ok
}

// PostedRecently reports whether the last post is younger than window.
func (g *Guard) PostedRecently(window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.history.LastPost == nil {
		return false
	}
	return g.store.Now().Sub(*g.history.LastPost) < window
}

// IsFavorableWindow reports whether now falls in a posting peak. Outside the
// peaks it still returns true with probability OffPeakChance.
func (g *Guard) IsFavorableWindow(now time.Time) bool {
	if InPeak(now) {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < OffPeakChance
}

// InPeak reports whether now is inside a peak window for its weekday.
func InPeak(now time.Time) bool {
	peaks := weekdayPeaks
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		peaks = weekendPeaks
	}
	h := now.Hour()
	for _, w := range peaks {
		if h >= w.start && h < w.end {
			return true
		}
	}
	return false
}

// RecordPost stores a post or reply keyed by uri and marks now as the last
// post time. The record is kept in memory even if persisting fails.
func (g *Guard) RecordPost(uri, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.store.Now()
	g.history.Posts[uri] = state.PostRecord{Text: text, Timestamp: now}
	g.history.LastPost = &now
	return g.store.SavePostHistory(g.history)
}

// Len is the number of retained post records.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history.Posts)
}
