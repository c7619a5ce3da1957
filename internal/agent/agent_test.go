package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyherd/internal/config"
	"skyherd/internal/network/networktest"
	"skyherd/internal/state"
	"skyherd/internal/types"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type echoGenerator struct{ text string }

func (g echoGenerator) Generate(context.Context, string, string, int, float64) (string, error) {
	return g.text, nil
}

type harness struct {
	agent  *Agent
	client *networktest.Client
	store  *state.Store
	clock  *clock
	sleeps []time.Duration
}

// Wednesday 08:00 local is inside a weekday peak.
func newHarness(t *testing.T, daily map[string]int) *harness {
	t.Helper()
	h := &harness{clock: &clock{now: time.Date(2025, 6, 18, 8, 0, 0, 0, time.Local)}}

	backend, err := state.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	h.store = state.NewStore(backend, "test_bot", state.WithClock(h.clock.Now))

	h.client = networktest.New(types.Author{DID: "did:me", Handle: "me.test"})
	h.client.SetProfile(types.Profile{DID: "did:me", Handle: "me.test", FollowersCount: 10, FollowingCount: 10})

	cfg := &config.AgentConfig{
		Name:        "Test Bot",
		Credentials: config.Credentials{Username: "me.test", AppPassword: "pw"},
		Engagement:  config.EngagementConfig{SearchTerms: []string{"golang"}},
		Content:     config.ContentConfig{SystemPrompt: "You write about Go."},
		Limits:      config.LimitsConfig{Daily: daily},
	}
	timing := config.DefaultSchedulerConfig().Timing()
	disc := config.DiscoveryConfig{PostLimit: 100, UserLimit: 100, RepostChance: 0, ReplyChance: 1, ProfileWorkers: 2}

	h.agent, err = New(cfg, Deps{
		Client:    h.client,
		Generator: echoGenerator{text: "Great point about goroutines"},
		Store:     h.store,
		Timing:    timing,
		Discovery: disc,
		Rand:      rand.New(rand.NewPCG(3, 4)),
		Now:       h.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	return h
}

// seedAuthors makes n well-connected, recently active authors whose posts
// match the "golang" search.
func (h *harness) seedAuthors(n int) {
	var posts []types.Post
	for i := 0; i < n; i++ {
		did := fmt.Sprintf("did:u%d", i)
		p := types.Post{
			URI:       fmt.Sprintf("at://%s/post/1", did),
			CID:       "cid",
			Text:      "goroutines everywhere",
			Author:    types.Author{DID: did, Handle: fmt.Sprintf("u%d.test", i)},
			IndexedAt: h.clock.Now().Add(-time.Hour),
		}
		posts = append(posts, p)
		h.client.SetProfile(types.Profile{DID: did, Handle: p.Author.Handle, FollowersCount: 300, FollowingCount: 100})
		h.client.SetFeed(did, p)
	}
	h.client.SetSearch("golang", posts...)
}

func limits(likes, reposts, replies, posts, follows int) map[string]int {
	return map[string]int{"likes": likes, "reposts": reposts, "replies": replies, "posts": posts, "follows": follows}
}

func TestStartFailsWithoutLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.client.FailOn("login", "", errors.New("bad password"))
	assert.Error(t, h.agent.Start(context.Background()))
}

func TestRunCycleRespectsBudgetAndOrder(t *testing.T) {
	h := newHarness(t, limits(2, 0, 1, 1, 1))
	h.seedAuthors(3)
	ctx := context.Background()
	require.NoError(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.RunCycle(ctx))

	b := h.agent.Budget()
	assert.Equal(t, 2, b.Count(types.ActionLike))
	assert.Equal(t, 1, b.Count(types.ActionReply))
	assert.Equal(t, 0, b.Count(types.ActionPost), "a reply inside the cadence window blocks original posts")
	assert.Equal(t, 1, b.Count(types.ActionFollow))

	calls := h.client.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "like", calls[0].Op)
	assert.Equal(t, "reply", calls[1].Op)
	assert.Equal(t, "like", calls[2].Op)
	assert.Equal(t, "follow", calls[3].Op)

	reply := calls[1]
	assert.Equal(t, reply.Parent, reply.Root)
	assert.Equal(t, reply.Target, reply.Parent.URI)
	assert.Equal(t, "Great point about goroutines", reply.Text)

	// like, reply, like, follow pacing
	require.Len(t, h.sleeps, 4)
	timing := config.DefaultSchedulerConfig().Timing()
	for i, r := range []config.Range{timing.LikePacing, timing.ReplyPacing, timing.LikePacing, timing.FollowPacing} {
		assert.GreaterOrEqual(t, h.sleeps[i], r.Min)
		assert.Less(t, h.sleeps[i], r.Max)
	}

	// nothing left but posts, which the cadence window still blocks
	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Len(t, h.client.Calls(), 4)
}

func TestRepliesAreNotRepeated(t *testing.T) {
	h := newHarness(t, limits(0, 0, 10, 0, 0))
	h.seedAuthors(1)
	ctx := context.Background()
	require.NoError(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.RunCycle(ctx))
	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Len(t, h.client.CallsFor("reply"), 1)
}

func TestOriginalPostCadence(t *testing.T) {
	h := newHarness(t, limits(0, 0, 0, 5, 0))
	ctx := context.Background()
	require.NoError(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.RunCycle(ctx))
	posts := h.client.CallsFor("post")
	require.Len(t, posts, 1)
	assert.Equal(t, "Great point about goroutines", posts[0].Text)

	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Len(t, h.client.CallsFor("post"), 1)

	h.clock.Advance(25 * time.Minute) // 08:35, still in the morning peak
	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Len(t, h.client.CallsFor("post"), 2)
	assert.Equal(t, 2, h.agent.Budget().Count(types.ActionPost))
}

func TestPermanentFollowErrorBlacklists(t *testing.T) {
	h := newHarness(t, limits(0, 0, 0, 0, 5))
	h.seedAuthors(3)
	h.client.FailOn("follow", "did:u0", types.NewPermanent("follow", "did:u0", errors.New("blocked")))
	ctx := context.Background()
	require.NoError(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Len(t, h.client.CallsFor("follow"), 2)

	followed, err := h.store.LoadFollowedUsers()
	require.NoError(t, err)
	assert.True(t, followed.IsBlacklisted("did:u0"))
	assert.True(t, followed.IsFollowed("did:u1"))
	assert.True(t, followed.IsFollowed("did:u2"))

	h.client.FailOn("follow", "did:u0", nil)
	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Len(t, h.client.CallsFor("follow"), 2, "followed and blacklisted accounts are not retried")
}

func TestTransientFollowErrorIsSkipped(t *testing.T) {
	h := newHarness(t, limits(0, 0, 0, 0, 5))
	h.seedAuthors(2)
	h.client.FailOn("follow", "did:u0", types.NewTransient("follow", "did:u0", errors.New("timeout")))
	ctx := context.Background()
	require.NoError(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.RunCycle(ctx))
	followed, err := h.store.LoadFollowedUsers()
	require.NoError(t, err)
	assert.False(t, followed.IsBlacklisted("did:u0"))
	assert.Equal(t, 1, h.agent.Budget().Count(types.ActionFollow))
}

func TestAnalysisRebalancesAfterInterval(t *testing.T) {
	h := newHarness(t, limits(10, 5, 0, 0, 0))
	ctx := context.Background()
	require.NoError(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.RunCycle(ctx))
	assert.Equal(t, 10, h.agent.Budget().Limits()[types.ActionLike], "too early to rebalance")

	h.clock.Advance(4 * time.Hour)
	require.NoError(t, h.agent.RunCycle(ctx))

	// no history: every kind scores 1.0, total 15 split five ways, clamped
	got := h.agent.Budget().Limits()
	assert.Equal(t, 3, got[types.ActionLike])
	assert.Equal(t, 3, got[types.ActionRepost])
	assert.Equal(t, 0, got[types.ActionPost])

	saved, err := h.store.LoadEngagementConfig()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 3, saved.DailyLimits[types.ActionLike])
}

func TestCancelledCycle(t *testing.T) {
	h := newHarness(t, limits(5, 0, 0, 0, 0))
	h.seedAuthors(1)
	require.NoError(t, h.agent.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.agent.RunCycle(ctx), context.Canceled)
	assert.Empty(t, h.client.Calls())
}
