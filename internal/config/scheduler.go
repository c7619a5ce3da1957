package config

import (
	"fmt"
	"time"
)

// SchedulerConfig holds the control-loop timings. Durations are Go duration strings.
type SchedulerConfig struct {
	CycleMin         string `yaml:"cycle_min"`         // shortest sleep between cycles
	CycleMax         string `yaml:"cycle_max"`         // longest sleep between cycles
	ErrorBackoff     string `yaml:"error_backoff"`     // cooldown after a failed cycle
	PausePoll        string `yaml:"pause_poll"`        // how often a paused agent re-checks
	AnalysisInterval string `yaml:"analysis_interval"` // growth report + rebalance period
	SnapshotInterval string `yaml:"snapshot_interval"` // follower snapshot spacing
	PostCadence      string `yaml:"post_cadence"`      // minimum gap between original posts

	Pacing    PacingConfig    `yaml:"pacing"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// PacingConfig spaces actions inside one cycle.
type PacingConfig struct {
	LikeMin   string `yaml:"like_min"`
	LikeMax   string `yaml:"like_max"`
	ReplyMin  string `yaml:"reply_min"`
	ReplyMax  string `yaml:"reply_max"`
	FollowMin string `yaml:"follow_min"`
	FollowMax string `yaml:"follow_max"`
}

// DiscoveryConfig bounds candidate discovery per cycle.
type DiscoveryConfig struct {
	PostLimit      int     `yaml:"post_limit"`
	UserLimit      int     `yaml:"user_limit"`
	RepostChance   float64 `yaml:"repost_chance"`
	ReplyChance    float64 `yaml:"reply_chance"`
	ProfileWorkers int     `yaml:"profile_workers"`
}

// DefaultSchedulerConfig mirrors the cadence the bots have always run with.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CycleMin:         "180s",
		CycleMax:         "300s",
		ErrorBackoff:     "300s",
		PausePoll:        "10s",
		AnalysisInterval: "4h",
		SnapshotInterval: "30m",
		PostCadence:      "30m",
		Pacing: PacingConfig{
			LikeMin:   "2s",
			LikeMax:   "5s",
			ReplyMin:  "5s",
			ReplyMax:  "10s",
			FollowMin: "30s",
			FollowMax: "60s",
		},
		Discovery: DiscoveryConfig{
			PostLimit:      1000,
			UserLimit:      300,
			RepostChance:   0.3,
			ReplyChance:    0.4,
			ProfileWorkers: 4,
		},
	}
}

// Range is an inclusive duration interval used for jitter.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// At maps u in [0,1) onto the range.
func (r Range) At(u float64) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(u*float64(r.Max-r.Min))
}

// Timing is the parsed form of SchedulerConfig.
type Timing struct {
	Cycle            Range
	ErrorBackoff     time.Duration
	PausePoll        time.Duration
	AnalysisInterval time.Duration
	SnapshotInterval time.Duration
	PostCadence      time.Duration
	LikePacing       Range
	ReplyPacing      Range
	FollowPacing     Range
}

// Timing parses every duration, falling back to defaults for unparsable values.
func (s SchedulerConfig) Timing() Timing {
	return Timing{
		Cycle: Range{
			Min: parseDuration(s.CycleMin, 180*time.Second),
			Max: parseDuration(s.CycleMax, 300*time.Second),
		},
		ErrorBackoff:     parseDuration(s.ErrorBackoff, 300*time.Second),
		PausePoll:        parseDuration(s.PausePoll, 10*time.Second),
		AnalysisInterval: parseDuration(s.AnalysisInterval, 4*time.Hour),
		SnapshotInterval: parseDuration(s.SnapshotInterval, 30*time.Minute),
		PostCadence:      parseDuration(s.PostCadence, 30*time.Minute),
		LikePacing:       pacing(s.Pacing.LikeMin, s.Pacing.LikeMax),
		ReplyPacing:      pacing(s.Pacing.ReplyMin, s.Pacing.ReplyMax),
		FollowPacing:     pacing(s.Pacing.FollowMin, s.Pacing.FollowMax),
	}
}

// pacing allows an explicit "0s" to disable a delay, unlike the other timings.
func pacing(minS, maxS string) Range {
	lo, err := time.ParseDuration(minS)
	if err != nil || lo < 0 {
		lo = 0
	}
	hi, err := time.ParseDuration(maxS)
	if err != nil || hi < lo {
		hi = lo
	}
	return Range{Min: lo, Max: hi}
}

// Validate checks that the cycle window and discovery settings make sense.
func (s SchedulerConfig) Validate() error {
	t := s.Timing()
	if t.Cycle.Max < t.Cycle.Min {
		return fmt.Errorf("scheduler.cycle_max (%v) must be >= cycle_min (%v)", t.Cycle.Max, t.Cycle.Min)
	}
	if s.Discovery.RepostChance < 0 || s.Discovery.RepostChance > 1 {
		return fmt.Errorf("scheduler.discovery.repost_chance must be within [0,1]")
	}
	if s.Discovery.ReplyChance < 0 || s.Discovery.ReplyChance > 1 {
		return fmt.Errorf("scheduler.discovery.reply_chance must be within [0,1]")
	}
	if s.Discovery.PostLimit < 0 || s.Discovery.UserLimit < 0 {
		return fmt.Errorf("scheduler.discovery limits must be >= 0")
	}
	return nil
}
