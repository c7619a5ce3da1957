// Package discovery finds posts to engage with and accounts to follow.
//
// Both searches fan profile lookups out over a bounded worker group and share
// an expiring LRU of profiles, so an author seen in several search results is
// fetched once per TTL.
package discovery

import (
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skyherd/internal/config"
	"skyherd/internal/content"
	"skyherd/internal/network"
	"skyherd/internal/types"
)

// Search sizes and thresholds.
const (
	PostTermSample    = 3
	PostsPerTerm      = 100
	UserTermSample    = 5
	UsersPerTerm      = 25
	RecentPostsSample = 5

	HighInfluenceRatio = 1.5
	ActivePostCount    = 100
	ActiveWithinDays   = 3
	FollowScoreCutoff  = 1.0

	profileCacheSize = 2048
	profileCacheTTL  = 30 * time.Minute
)

// Influence ranks a post author.
type Influence int

const (
	InfluenceBasic Influence = iota
	InfluenceActive
	InfluenceHigh
)

func (i Influence) String() string {
	switch i {
	case InfluenceHigh:
		return "high"
	case InfluenceActive:
		return "active"
	default:
		return "basic"
	}
}

// Classify ranks an author by follower ratio, then by post volume.
func Classify(p types.Profile) Influence {
	switch {
	case p.FollowerRatio() > HighInfluenceRatio:
		return InfluenceHigh
	case p.PostsCount > ActivePostCount:
		return InfluenceActive
	default:
		return InfluenceBasic
	}
}

// FollowScore is ratio×0.5 + posts/30×0.5.
func FollowScore(p types.Profile) float64 {
	return p.FollowerRatio()*0.5 + float64(p.PostsCount)/30*0.5
}

// RepliedChecker reports posts the agent has already replied to.
type RepliedChecker interface {
	AlreadyRepliedTo(uri string) bool
}

// PostCandidate is a post worth engaging with.
type PostCandidate struct {
	Post      types.Post
	Influence Influence
}

// UserCandidate is an account worth following.
type UserCandidate struct {
	Profile      types.Profile
	Score        float64
	KeywordMatch bool
}

// Finder runs discovery for one agent. It is not safe for concurrent use.
type Finder struct {
	client   network.Client
	agent    *config.AgentConfig
	composer *content.Composer
	replied  RepliedChecker
	opts     config.DiscoveryConfig
	rng      *rand.Rand
	now      func() time.Time
	profiles *expirable.LRU[string, types.Profile]
	logger   *zap.Logger
}

// New builds a Finder. rng must not be shared with another goroutine.
func New(client network.Client, agent *config.AgentConfig, composer *content.Composer,
	replied RepliedChecker, opts config.DiscoveryConfig, rng *rand.Rand, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProfileWorkers < 1 {
		opts.ProfileWorkers = 1
	}
	return &Finder{
		client:   client,
		agent:    agent,
		composer: composer,
		replied:  replied,
		opts:     opts,
		rng:      rng,
		now:      time.Now,
		profiles: expirable.NewLRU[string, types.Profile](profileCacheSize, nil, profileCacheTTL),
		logger:   logger,
	}
}

// SetClock overrides the time source used for activity checks.
func (f *Finder) SetClock(now func() time.Time) { f.now = now }

func (f *Finder) profile(ctx context.Context, actor string) (types.Profile, error) {
	if p, ok := f.profiles.Get(actor); ok {
		return p, nil
	}
	p, err := f.client.GetProfile(ctx, actor)
	if err != nil {
		return types.Profile{}, err
	}
	f.profiles.Add(actor, p)
	return p, nil
}

// =============================================================================
// POSTS
// =============================================================================

// FindPosts searches a sample of the agent's terms for recent posts it has
// not engaged with, best-connected authors first.
func (f *Finder) FindPosts(ctx context.Context) ([]PostCandidate, error) {
	self := f.client.Self().DID
	seen := make(map[string]bool)
	var posts []types.Post

	for _, term := range content.Sample(f.rng, f.agent.Engagement.SearchTerms, PostTermSample) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := f.client.SearchPosts(ctx, term, PostsPerTerm, types.SortLatest)
		if err != nil {
			f.logger.Warn("post search failed", zap.String("term", term), zap.Error(err))
			continue
		}
		kept := 0
		for _, p := range results {
			if seen[p.URI] || strings.TrimSpace(p.Text) == "" || p.Author.DID == self {
				continue
			}
			if f.replied != nil && f.replied.AlreadyRepliedTo(p.URI) {
				continue
			}
			seen[p.URI] = true
			posts = append(posts, p)
			kept++
		}
		f.logger.Debug("searched posts", zap.String("term", term), zap.Int("found", len(results)), zap.Int("kept", kept))
	}

	candidates := make([]PostCandidate, len(posts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.ProfileWorkers)
	for i, p := range posts {
		g.Go(func() error {
			candidates[i] = PostCandidate{Post: p, Influence: InfluenceBasic}
			prof, err := f.profile(gctx, p.Author.DID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Debug("influence check failed", zap.String("author", p.Author.Handle), zap.Error(err))
				return nil
			}
			candidates[i].Influence = Classify(prof)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	slices.SortStableFunc(candidates, func(a, b PostCandidate) int {
		return int(b.Influence) - int(a.Influence)
	})
	if limit := f.opts.PostLimit; limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	f.logger.Info("found posts to engage with", zap.Int("count", len(candidates)))
	return candidates, nil
}

// =============================================================================
// USERS
// =============================================================================

// FindUsers searches the agent's terms plus trending hashtags for recently
// active authors worth following. skip excludes accounts already followed or
// blacklisted.
func (f *Finder) FindUsers(ctx context.Context, skip func(did string) bool) ([]UserCandidate, error) {
	terms := unionTerms(f.agent.Engagement.SearchTerms, f.composer.TrendingHashtags(ctx))
	self := f.client.Self().DID

	seen := make(map[string]bool)
	var authors []types.Author
	for _, term := range content.Sample(f.rng, terms, UserTermSample) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := f.client.SearchPosts(ctx, term, UsersPerTerm, types.SortLatest)
		if err != nil {
			f.logger.Warn("user search failed", zap.String("term", term), zap.Error(err))
			continue
		}
		for _, p := range results {
			did := p.Author.DID
			if did == "" || did == self || seen[did] || (skip != nil && skip(did)) {
				continue
			}
			seen[did] = true
			authors = append(authors, p.Author)
		}
	}

	results := make([]*UserCandidate, len(authors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.ProfileWorkers)
	for i, a := range authors {
		g.Go(func() error {
			c, err := f.evaluateUser(gctx, a)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Debug("skipping user", zap.String("handle", a.Handle), zap.Error(err))
				return nil
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var users []UserCandidate
	for _, c := range results {
		if c != nil {
			users = append(users, *c)
		}
	}
	if limit := f.opts.UserLimit; limit > 0 && len(users) > limit {
		users = users[:limit]
	}

	f.logger.Info("found users to follow", zap.Int("count", len(users)), zap.Int("considered", len(authors)))
	return users, nil
}

// evaluateUser returns nil, nil for an account that does not qualify.
func (f *Finder) evaluateUser(ctx context.Context, a types.Author) (*UserCandidate, error) {
	active, err := f.recentlyActive(ctx, a.DID)
	if err != nil || !active {
		return nil, err
	}
	prof, err := f.profile(ctx, a.DID)
	if err != nil {
		return nil, err
	}
	c := &UserCandidate{
		Profile:      prof,
		Score:        FollowScore(prof),
		KeywordMatch: matchesKeyword(prof.Description, f.agent.Engagement.BioKeywords),
	}
	if c.Score <= FollowScoreCutoff && !c.KeywordMatch {
		return nil, nil
	}
	return c, nil
}

// recentlyActive reports whether the author's latest post is at most
// ActiveWithinDays whole days old.
func (f *Finder) recentlyActive(ctx context.Context, did string) (bool, error) {
	feed, err := f.client.GetAuthorFeed(ctx, did, 1)
	if err != nil {
		return false, err
	}
	if len(feed) == 0 || feed[0].IndexedAt.IsZero() {
		return false, nil
	}
	days := int(f.now().Sub(feed[0].IndexedAt) / (24 * time.Hour))
	return days <= ActiveWithinDays, nil
}

func matchesKeyword(bio string, keywords []string) bool {
	bio = strings.ToLower(bio)
	if bio == "" {
		return false
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(bio, k) {
			return true
		}
	}
	return false
}

func unionTerms(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range slices.Concat(a, b) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// =============================================================================
// REPLY CONTEXT
// =============================================================================

// BuildPostContext learns enough about a post's author to personalise a
// reply. Any failure degrades to the default context.
func (f *Finder) BuildPostContext(ctx context.Context, post types.Post) content.ReplyContext {
	prof, err := f.profile(ctx, post.Author.DID)
	if err != nil {
		f.logger.Warn("failed to build post context", zap.String("author", post.Author.Handle), zap.Error(err))
		return content.DefaultReplyContext(f.agent.Engagement.SearchTerms)
	}

	rc := content.DefaultReplyContext(nil)
	rc.AuthorInterests = f.composer.ExtractInterests(ctx, prof.Description)

	feed, err := f.client.GetAuthorFeed(ctx, post.Author.DID, RecentPostsSample)
	if err != nil {
		f.logger.Debug("failed to get recent posts", zap.String("author", post.Author.Handle), zap.Error(err))
	}
	if len(feed) > 0 {
		texts := make([]string, 0, len(feed))
		for _, p := range feed {
			texts = append(texts, p.Text)
		}
		rc.WritingStyle = f.composer.AnalyzeWritingStyle(ctx, texts)
	}

	rc.ValueAdd = content.DetermineValueAdd(post.Text, prof.FollowersCount)
	return rc
}
