package state

import (
	"encoding/json"
	"sort"
	"time"

	"skyherd/internal/types"
)

// Entity names. With the file backend these become <namespace>_<entity>.json.
const (
	EntityFollowedUsers     = "followed_users"
	EntityEngagementStats   = "engagement_stats"
	EntityPostHistory       = "post_history"
	EntityFollowerStats     = "follower_stats"
	EntityEngagementHistory = "engagement_history"
	EntityEngagementConfig  = "engagement_config"
)

// RetentionDays is how many whole days post and engagement records are kept.
const RetentionDays = 7

// Retained reports whether a record stamped ts is still inside the retention
// window: whole days elapsed (rounded down) must not exceed RetentionDays.
func Retained(ts, now time.Time) bool {
	return int(now.Sub(ts)/(24*time.Hour)) <= RetentionDays
}

// =============================================================================
// FOLLOWED USERS
// =============================================================================

// FollowRecord is one account the agent followed.
type FollowRecord struct {
	Handle     string    `json:"handle"`
	FollowedAt time.Time `json:"followed_at"`
}

// FollowedUsers tracks follows and the blacklist. A DID is never in both.
type FollowedUsers struct {
	Users     map[string]FollowRecord
	LastReset time.Time

	blacklist map[string]struct{}
}

// NewFollowedUsers returns an empty document.
func NewFollowedUsers(now time.Time) *FollowedUsers {
	return &FollowedUsers{
		Users:     make(map[string]FollowRecord),
		LastReset: now,
		blacklist: make(map[string]struct{}),
	}
}

// Add records a follow. Blacklisted subjects are refused.
func (f *FollowedUsers) Add(did, handle string, at time.Time) bool {
	if f.IsBlacklisted(did) {
		return false
	}
	f.Users[did] = FollowRecord{Handle: handle, FollowedAt: at}
	return true
}

// Blacklist removes any follow record for did and blacklists it.
func (f *FollowedUsers) Blacklist(did string) {
	delete(f.Users, did)
	f.blacklist[did] = struct{}{}
}

func (f *FollowedUsers) IsFollowed(did string) bool {
	_, ok := f.Users[did]
	return ok
}

func (f *FollowedUsers) IsBlacklisted(did string) bool {
	_, ok := f.blacklist[did]
	return ok
}

// Blacklisted returns the blacklist sorted.
func (f *FollowedUsers) Blacklisted() []string {
	out := make([]string, 0, len(f.blacklist))
	for did := range f.blacklist {
		out = append(out, did)
	}
	sort.Strings(out)
	return out
}

type followedUsersDoc struct {
	Users     map[string]FollowRecord `json:"users"`
	Blacklist []string                `json:"blacklist"`
	LastReset time.Time               `json:"last_reset"`
}

// MarshalJSON stores the blacklist as a sorted array.
func (f *FollowedUsers) MarshalJSON() ([]byte, error) {
	users := f.Users
	if users == nil {
		users = map[string]FollowRecord{}
	}
	return json.Marshal(followedUsersDoc{Users: users, Blacklist: f.Blacklisted(), LastReset: f.LastReset})
}

func (f *FollowedUsers) UnmarshalJSON(data []byte) error {
	var doc followedUsersDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	f.Users = doc.Users
	if f.Users == nil {
		f.Users = make(map[string]FollowRecord)
	}
	f.LastReset = doc.LastReset
	f.blacklist = make(map[string]struct{}, len(doc.Blacklist))
	for _, did := range doc.Blacklist {
		f.blacklist[did] = struct{}{}
		delete(f.Users, did)
	}
	return nil
}

// =============================================================================
// DAILY COUNTERS
// =============================================================================

// EngagementStats holds today's per-kind counters.
type EngagementStats struct {
	LastReset time.Time                `json:"last_reset"`
	Counts    map[types.ActionKind]int `json:"counts"`
}

// NewEngagementStats returns zeroed counters for every kind, reset at now.
func NewEngagementStats(now time.Time) *EngagementStats {
	counts := make(map[types.ActionKind]int, len(types.AllActions))
	for _, k := range types.AllActions {
		counts[k] = 0
	}
	return &EngagementStats{LastReset: now, Counts: counts}
}

// =============================================================================
// POST HISTORY
// =============================================================================

// PostRecord is a post or reply the agent made, keyed by the post it concerns.
type PostRecord struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// PostHistory holds recent posts and replies.
type PostHistory struct {
	Posts    map[string]PostRecord `json:"posts"`
	LastPost *time.Time            `json:"last_post"`
}

// NewPostHistory returns an empty history.
func NewPostHistory() *PostHistory {
	return &PostHistory{Posts: make(map[string]PostRecord)}
}

// Prune drops records outside the retention window and returns how many.
func (h *PostHistory) Prune(now time.Time) int {
	n := 0
	for uri, rec := range h.Posts {
		if !Retained(rec.Timestamp, now) {
			delete(h.Posts, uri)
			n++
		}
	}
	return n
}

// =============================================================================
// FOLLOWER SNAPSHOTS
// =============================================================================

// FollowerSnapshot is a point-in-time reading of the agent's own profile.
type FollowerSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	PostCount      int       `json:"post_count"`
}

// FollowerStats is the snapshot series. Snapshots are not pruned.
type FollowerStats struct {
	Snapshots []FollowerSnapshot `json:"snapshots"`
	LastCheck *time.Time         `json:"last_check"`
}

// =============================================================================
// ENGAGEMENT HISTORY
// =============================================================================

// PeriodRecord aggregates one kind's actions within one local hour.
type PeriodRecord struct {
	Count           int       `json:"count"`
	FollowersGained int       `json:"followers_gained"`
	Timestamp       time.Time `json:"timestamp"`
}

// PeriodKey formats the hour bucket a moment falls in: YYYY-MM-DD-HH, local time.
func PeriodKey(t time.Time) string {
	return t.Local().Format("2006-01-02-15")
}

// EngagementHistory maps kind → hour bucket → record.
type EngagementHistory map[types.ActionKind]map[string]PeriodRecord

// NewEngagementHistory returns an empty bucket map for every kind.
func NewEngagementHistory() EngagementHistory {
	h := make(EngagementHistory, len(types.AllActions))
	for _, k := range types.AllActions {
		h[k] = make(map[string]PeriodRecord)
	}
	return h
}

// Prune drops buckets outside the retention window and returns how many.
func (h EngagementHistory) Prune(now time.Time) int {
	n := 0
	for _, buckets := range h {
		for key, rec := range buckets {
			if !Retained(rec.Timestamp, now) {
				delete(buckets, key)
				n++
			}
		}
	}
	return n
}

// =============================================================================
// REBALANCED LIMITS
// =============================================================================

// EngagementConfig is the last limits set applied by a rebalance.
type EngagementConfig struct {
	DailyLimits types.Limits `json:"daily_limits"`
	LastUpdated time.Time    `json:"last_updated"`
}
