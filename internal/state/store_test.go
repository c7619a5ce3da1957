package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyherd/internal/types"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newFileStore(t *testing.T, now time.Time, opts ...Option) (*Store, *FileBackend) {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return NewStore(b, "tech_bot", append([]Option{WithClock(fixedClock(now))}, opts...)...), b
}

func TestRetained(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.Local)
	day := 24 * time.Hour
	for _, tc := range []struct {
		age  time.Duration
		keep bool
	}{
		{0, true},
		{6 * day, true},
		{7 * day, true},
		{7*day + 23*time.Hour, true},
		{8 * day, false},
		{30 * day, false},
	} {
		assert.Equal(t, tc.keep, Retained(now.Add(-tc.age), now), "age %v", tc.age)
	}
}

func TestLoadPostHistoryPrunesAndPersists(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.Local)
	s, b := newFileStore(t, now)

	h := NewPostHistory()
	for _, days := range []int{0, 6, 7, 8, 30} {
		uri := "at://post/" + string(rune('a'+days))
		h.Posts[uri] = PostRecord{Text: "hi", Timestamp: now.AddDate(0, 0, -days)}
	}
	require.NoError(t, s.SavePostHistory(h))

	loaded, err := s.LoadPostHistory()
	require.NoError(t, err)
	var kept []string
	for uri := range loaded.Posts {
		kept = append(kept, uri)
	}
	assert.ElementsMatch(t, []string{"at://post/a", "at://post/g", "at://post/h"}, kept)

	// the pruned document was written back
	data, err := b.Read("tech_bot", EntityPostHistory)
	require.NoError(t, err)
	var onDisk PostHistory
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk.Posts, 3)
}

func TestLoadEngagementHistoryPrunes(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.Local)
	s, _ := newFileStore(t, now)

	h := NewEngagementHistory()
	h[types.ActionLike][PeriodKey(now)] = PeriodRecord{Count: 3, FollowersGained: 1, Timestamp: now}
	old := now.AddDate(0, 0, -9)
	h[types.ActionLike][PeriodKey(old)] = PeriodRecord{Count: 5, Timestamp: old}
	require.NoError(t, s.SaveEngagementHistory(h))

	loaded, err := s.LoadEngagementHistory()
	require.NoError(t, err)
	want := map[string]PeriodRecord{PeriodKey(now): {Count: 3, FollowersGained: 1, Timestamp: now}}
	if diff := cmp.Diff(want, loaded[types.ActionLike]); diff != "" {
		t.Errorf("likes buckets mismatch (-want +got):\n%s", diff)
	}
	assert.NotNil(t, loaded[types.ActionFollow], "every kind gets a bucket map")
}

func TestPeriodKey(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 59, 0, 0, time.Local)
	assert.Equal(t, "2025-01-02-03", PeriodKey(ts))
}

func TestMissingDocumentsYieldDefaults(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.Local)
	s, _ := newFileStore(t, now)

	stats, err := s.LoadEngagementStats()
	require.NoError(t, err)
	assert.Equal(t, now, stats.LastReset)
	assert.Len(t, stats.Counts, len(types.AllActions))

	cfg, err := s.LoadEngagementConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	fs, err := s.LoadFollowerStats()
	require.NoError(t, err)
	assert.Empty(t, fs.Snapshots)
	assert.Nil(t, fs.LastCheck)

	fu, err := s.LoadFollowedUsers()
	require.NoError(t, err)
	assert.Empty(t, fu.Users)
}

func TestCorruptDocumentReturnsDefaultAndError(t *testing.T) {
	now := time.Now()
	s, b := newFileStore(t, now)
	require.NoError(t, os.WriteFile(b.Path("tech_bot", EntityEngagementStats), []byte("{not json"), 0644))

	stats, err := s.LoadEngagementStats()
	require.Error(t, err)
	assert.True(t, types.IsPersistence(err))
	assert.NotNil(t, stats)
	assert.Equal(t, 0, stats.Counts[types.ActionLike])
}

func TestFollowedUsersInvariants(t *testing.T) {
	now := time.Now()
	f := NewFollowedUsers(now)

	assert.True(t, f.Add("did:a", "a.bsky.social", now))
	assert.True(t, f.IsFollowed("did:a"))

	f.Blacklist("did:a")
	assert.False(t, f.IsFollowed("did:a"), "blacklisting drops the follow record")
	assert.True(t, f.IsBlacklisted("did:a"))
	assert.False(t, f.Add("did:a", "a.bsky.social", now), "blacklisted subjects are refused")
}

func TestFollowedUsersJSONBlacklistIsSortedArray(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	s, b := newFileStore(t, now)

	f := NewFollowedUsers(now)
	f.Add("did:x", "x.bsky.social", now)
	f.Blacklist("did:c")
	f.Blacklist("did:a")
	require.NoError(t, s.SaveFollowedUsers(f))

	data, err := os.ReadFile(b.Path("tech_bot", EntityFollowedUsers))
	require.NoError(t, err)
	var raw struct {
		Blacklist []string `json:"blacklist"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []string{"did:a", "did:c"}, raw.Blacklist)

	loaded, err := s.LoadFollowedUsers()
	require.NoError(t, err)
	assert.True(t, loaded.IsBlacklisted("did:c"))
	assert.True(t, loaded.IsFollowed("did:x"))
}

func TestFollowedUsersDecodeDropsBlacklistedFollows(t *testing.T) {
	var f FollowedUsers
	require.NoError(t, json.Unmarshal([]byte(`{"users":{"did:a":{"handle":"a"}},"blacklist":["did:a"]}`), &f))
	assert.False(t, f.IsFollowed("did:a"))
	assert.True(t, f.IsBlacklisted("did:a"))
}

func TestReadOnlyStoreNeverWrites(t *testing.T) {
	now := time.Now()
	s, b := newFileStore(t, now, ReadOnly())
	require.NoError(t, s.SaveEngagementStats(NewEngagementStats(now)))

	_, err := b.Read("tech_bot", EntityEngagementStats)
	assert.True(t, errors.Is(err, ErrNotFound))
}

type failingBackend struct{ Backend }

func (failingBackend) Write(string, string, []byte) error { return errors.New("disk full") }

func TestSaveFailureIsPersistenceError(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s := NewStore(failingBackend{b}, "tech_bot")

	err = s.SavePostHistory(NewPostHistory())
	var pe *types.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, EntityPostHistory, pe.Entity)
	assert.Equal(t, "write", pe.Op)
}

func TestFileBackendLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Write("tech_bot", EntityFollowerStats, []byte(`{}`)))
	_, err = os.Stat(filepath.Join(dir, "tech_bot_follower_stats.json"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSQLBackend(t *testing.T) {
	b, err := OpenSQLite(DriverModernc, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Read("a", EntityPostHistory)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Write("a", EntityPostHistory, []byte(`{"posts":{}}`)))
	require.NoError(t, b.Write("a", EntityPostHistory, []byte(`{"posts":{"x":{}}}`)))
	require.NoError(t, b.Write("b", EntityPostHistory, []byte(`{}`)))

	got, err := b.Read("a", EntityPostHistory)
	require.NoError(t, err)
	assert.JSONEq(t, `{"posts":{"x":{}}}`, string(got), "upsert replaces the whole document")

	s := NewStore(b, "a")
	stats := NewEngagementStats(time.Now())
	stats.Counts[types.ActionLike] = 7
	require.NoError(t, s.SaveEngagementStats(stats))
	loaded, err := s.LoadEngagementStats()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Counts[types.ActionLike])
}

func TestOpenSQLiteRejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLite("pgx", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}
