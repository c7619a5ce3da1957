package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyherd/internal/state"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGuard(t *testing.T, c *clock, rng Random) (*Guard, *state.Store) {
	t.Helper()
	b, err := state.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s := state.NewStore(b, "tech_bot", state.WithClock(c.now))
	return New(s, rng, nil), s
}

func TestReplyGuardIsIdempotent(t *testing.T) {
	c := &clock{t: time.Date(2025, 6, 20, 10, 0, 0, 0, time.Local)}
	g, s := newGuard(t, c, fixedRandom(1))

	assert.False(t, g.AlreadyRepliedTo("at://p/1"))
	require.NoError(t, g.RecordPost("at://p/1", "nice"))
	assert.True(t, g.AlreadyRepliedTo("at://p/1"))
	assert.True(t, g.AlreadyRepliedTo("at://p/1"))

	// survives a restart
	again := New(s, fixedRandom(1), nil)
	assert.True(t, again.AlreadyRepliedTo("at://p/1"))

	// expires with the retention window
	c.t = c.t.AddDate(0, 0, 8)
	assert.False(t, g.AlreadyRepliedTo("at://p/1"))
	assert.Equal(t, 0, g.Len())
}

func TestPostedRecently(t *testing.T) {
	c := &clock{t: time.Date(2025, 6, 20, 10, 0, 0, 0, time.Local)}
	g, _ := newGuard(t, c, fixedRandom(1))

	assert.False(t, g.PostedRecently(30*time.Minute), "never posted")
	require.NoError(t, g.RecordPost("at://me/1", "hello"))

	c.t = c.t.Add(29 * time.Minute)
	assert.True(t, g.PostedRecently(30*time.Minute))
	c.t = c.t.Add(time.Minute)
	assert.False(t, g.PostedRecently(30*time.Minute))
}

func TestFavorableWindow(t *testing.T) {
	wed := func(h int) time.Time { return time.Date(2025, 6, 18, h, 30, 0, 0, time.UTC) }
	sat := func(h int) time.Time { return time.Date(2025, 6, 21, h, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		at   time.Time
		peak bool
	}{
		{"weekday early", wed(6), false},
		{"weekday morning", wed(7), true},
		{"weekday morning end", wed(9), false},
		{"weekday lunch", wed(13), true},
		{"weekday afternoon", wed(15), false},
		{"weekday evening", wed(21), true},
		{"weekday late", wed(22), false},
		{"weekend morning", sat(8), false},
		{"weekend day", sat(9), true},
		{"weekend evening", sat(21), true},
		{"weekend late", sat(22), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.peak, InPeak(tt.at))
		})
	}

	c := &clock{t: wed(3)}
	never, _ := newGuard(t, c, fixedRandom(0.2))
	assert.False(t, never.IsFavorableWindow(wed(3)), "0.2 is not < 0.2")
	lucky, _ := newGuard(t, c, fixedRandom(0.19))
	assert.True(t, lucky.IsFavorableWindow(wed(3)))
	assert.True(t, never.IsFavorableWindow(wed(8)), "peaks ignore the coin")
}
