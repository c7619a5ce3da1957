package analyzer

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"skyherd/internal/state"
)

// GrowthReport summarises the follower snapshot series.
type GrowthReport struct {
	Followers int
	Following int
	Posts     int

	TotalGrowth int
	// DayGrowth is growth across the snapshots of the past 24 hours; nil
	// when there are none.
	DayGrowth *int

	HourlyRate float64
	DailyRate  float64
	WeeklyRate float64

	FollowerRatio    float64
	PostsPerFollower float64

	Start  time.Time
	Latest time.Time
}

// Span is the tracked period.
func (r *GrowthReport) Span() time.Duration { return r.Latest.Sub(r.Start) }

// Fields renders the report for structured logging.
func (r *GrowthReport) Fields() []zap.Field {
	fields := []zap.Field{
		zap.Int("followers", r.Followers),
		zap.Int("following", r.Following),
		zap.Int("posts", r.Posts),
		zap.Int("total_growth", r.TotalGrowth),
		zap.Float64("per_hour", round2(r.HourlyRate)),
		zap.Float64("per_day", round2(r.DailyRate)),
		zap.Float64("per_week", round2(r.WeeklyRate)),
		zap.Float64("follower_ratio", round2(r.FollowerRatio)),
		zap.Float64("posts_per_follower", r.PostsPerFollower),
		zap.Duration("tracked", r.Span()),
	}
	if r.DayGrowth != nil {
		fields = append(fields, zap.Int("past_24h", *r.DayGrowth))
	}
	return fields
}

// GrowthReport builds a report from the recorded snapshots. It returns nil
// until at least two snapshots exist.
func (a *Analyzer) GrowthReport() *GrowthReport {
	a.mu.Lock()
	snaps := append([]state.FollowerSnapshot(nil), a.followers.Snapshots...)
	a.mu.Unlock()
	return BuildGrowthReport(snaps, a.store.Now())
}

// BuildGrowthReport is GrowthReport over an explicit series.
func BuildGrowthReport(snaps []state.FollowerSnapshot, now time.Time) *GrowthReport {
	if len(snaps) < 2 {
		return nil
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })

	first, latest := snaps[0], snaps[len(snaps)-1]
	r := &GrowthReport{
		Followers:   latest.FollowerCount,
		Following:   latest.FollowingCount,
		Posts:       latest.PostCount,
		TotalGrowth: latest.FollowerCount - first.FollowerCount,
		Start:       first.Timestamp,
		Latest:      latest.Timestamp,
	}

	if hours := latest.Timestamp.Sub(first.Timestamp).Hours(); hours > 0 {
		r.HourlyRate = float64(r.TotalGrowth) / hours
	}
	r.DailyRate = r.HourlyRate * 24
	r.WeeklyRate = r.DailyRate * 7

	if latest.FollowingCount > 0 {
		r.FollowerRatio = float64(latest.FollowerCount) / float64(latest.FollowingCount)
	}
	if latest.FollowerCount > 0 {
		r.PostsPerFollower = float64(latest.PostCount) / float64(latest.FollowerCount)
	}

	dayAgo := now.Add(-24 * time.Hour)
	var recent []state.FollowerSnapshot
	for _, s := range snaps {
		if s.Timestamp.After(dayAgo) {
			recent = append(recent, s)
		}
	}
	if len(recent) > 0 {
		g := recent[len(recent)-1].FollowerCount - recent[0].FollowerCount
		r.DayGrowth = &g
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
