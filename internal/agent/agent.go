// Package agent implements one engagement identity's work cycle: discover
// candidates, act on them within the daily budget, post original content in
// favorable windows and follow new accounts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skyherd/internal/analyzer"
	"skyherd/internal/budget"
	"skyherd/internal/config"
	"skyherd/internal/content"
	"skyherd/internal/discovery"
	"skyherd/internal/guard"
	"skyherd/internal/logging"
	"skyherd/internal/network"
	"skyherd/internal/state"
	"skyherd/internal/types"
)

// Deps are the capabilities and settings an Agent is built from.
type Deps struct {
	Client    network.Client
	Generator content.Generator
	Store     *state.Store
	Timing    config.Timing
	Discovery config.DiscoveryConfig
	Logger    *zap.Logger

	// Rand defaults to a PCG seeded from the runtime source.
	Rand *rand.Rand
	// Sleep defaults to a context-aware timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// Agent runs the engagement cycle for one configured identity. All methods
// are called from the agent's own goroutine.
type Agent struct {
	cfg       *config.AgentConfig
	client    network.Client
	store     *state.Store
	budget    *budget.Manager
	analyzer  *analyzer.Analyzer
	guard     *guard.Guard
	composer  *content.Composer
	finder    *discovery.Finder
	timing    config.Timing
	discovery config.DiscoveryConfig
	rng       *rand.Rand
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    *zap.Logger

	followed     *state.FollowedUsers
	lastAnalysis time.Time
}

// New wires an agent's components. Persisted state is loaded here; load
// failures are logged and the agent starts from defaults.
func New(cfg *config.AgentConfig, deps Deps) (*Agent, error) {
	if deps.Client == nil || deps.Generator == nil || deps.Store == nil {
		return nil, errors.New("agent: client, generator and store are required")
	}
	limits, err := cfg.DailyLimits()
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	a := &Agent{
		cfg:       cfg,
		client:    deps.Client,
		store:     deps.Store,
		timing:    deps.Timing,
		discovery: deps.Discovery,
		rng:       rng,
		sleep:     deps.Sleep,
		now:       deps.Now,
		logger:    logging.CategoryAgent.Named(log),
	}
	if a.sleep == nil {
		a.sleep = sleep
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.budget = budget.New(deps.Store, limits, logging.CategoryBudget.Named(log))
	a.analyzer = analyzer.New(deps.Store, deps.Client, cfg.Credentials.Username,
		deps.Timing.SnapshotInterval, logging.CategoryAnalyzer.Named(log))
	a.guard = guard.New(deps.Store, rng, logging.CategoryGuard.Named(log))
	a.composer = content.NewComposer(deps.Generator, cfg, rng, logging.CategoryContent.Named(log))
	a.finder = discovery.New(deps.Client, cfg, a.composer, a.guard, deps.Discovery, rng,
		logging.CategoryDiscovery.Named(log))
	a.finder.SetClock(a.now)

	a.followed, err = deps.Store.LoadFollowedUsers()
	if err != nil {
		a.logger.Warn("failed to load followed users", zap.Error(err))
	}
	return a, nil
}

// Name is the configured agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// Budget exposes the agent's quota manager.
func (a *Agent) Budget() *budget.Manager { return a.budget }

// Start logs in and reads the starting follower count. A failed login is
// fatal for this agent; a failed follower read is not.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.client.Login(ctx); err != nil {
		return fmt.Errorf("login as %s: %w", a.cfg.Credentials.Username, err)
	}
	if err := a.analyzer.Prime(ctx); err != nil {
		a.logger.Warn("could not read starting follower count", zap.Error(err))
	}
	a.lastAnalysis = a.now()
	a.logger.Info("agent started",
		zap.String("handle", a.client.Self().Handle),
		zap.Int("followers", a.analyzer.LastFollowerCount()),
		zap.Any("limits", a.budget.Limits()))
	return nil
}

// RunCycle performs one full engagement cycle. Individual action failures
// are logged and skipped; the returned error is reserved for failures that
// abort the cycle.
func (a *Agent) RunCycle(ctx context.Context) error {
	log := a.logger.With(zap.String("cycle", uuid.NewString()))
	timer := logging.StartTimer(log, "cycle")
	defer timer.StopWithInfo()

	if a.budget.ResetIfNewDay() {
		log.Info("daily counters reset")
	}

	if _, err := a.analyzer.TrackFollowers(ctx); err != nil {
		log.Warn("follower snapshot failed", zap.Error(err))
	}

	if a.now().Sub(a.lastAnalysis) >= a.timing.AnalysisInterval {
		a.analyze(log)
		a.lastAnalysis = a.now()
	}

	for _, u := range a.budget.Usage() {
		log.Info("engagement usage", zap.Stringer("kind", u.Kind), zap.Int("count", u.Count), zap.Int("limit", u.Limit))
	}

	if a.budget.CanPerform(types.ActionLike) || a.budget.CanPerform(types.ActionRepost) || a.budget.CanPerform(types.ActionReply) {
		if err := a.engagePosts(ctx, log); err != nil {
			return err
		}
	}

	if err := a.originalPost(ctx, log); err != nil {
		return err
	}

	if a.budget.CanPerform(types.ActionFollow) {
		if err := a.followUsers(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

// analyze logs the growth report and rebalances the daily limits.
func (a *Agent) analyze(log *zap.Logger) {
	if r := a.analyzer.GrowthReport(); r != nil {
		log.Info("growth report", r.Fields()...)
	} else {
		log.Info("not enough follower data for a growth report")
	}

	limits, scores, ok := a.analyzer.Rebalance(a.budget.Original())
	if !ok {
		log.Info("no effectiveness signal, limits unchanged")
		return
	}
	for _, k := range a.budget.Original().Kinds() {
		log.Info("effectiveness", zap.Stringer("kind", k), zap.Float64("score", scores[k]), zap.Int("limit", limits[k]))
	}
	if err := a.budget.ApplyLimits(limits); err != nil {
		log.Warn("failed to persist rebalanced limits", zap.Error(err))
	}
}

func (a *Agent) succeeded(ctx context.Context, kind types.ActionKind) {
	a.budget.RecordSuccess(kind)
	a.analyzer.RecordOutcome(ctx, kind)
}

func (a *Agent) pace(ctx context.Context, r config.Range) error {
	return a.sleep(ctx, r.At(a.rng.Float64()))
}

// =============================================================================
// POSTS: like, repost, reply
// =============================================================================

func (a *Agent) engagePosts(ctx context.Context, log *zap.Logger) error {
	candidates, err := a.finder.FindPosts(ctx)
	if err != nil {
		return fmt.Errorf("find posts: %w", err)
	}

	for _, c := range candidates {
		if !a.budget.CanPerform(types.ActionLike) && !a.budget.CanPerform(types.ActionRepost) && !a.budget.CanPerform(types.ActionReply) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		post := c.Post
		plog := log.With(zap.String("author", post.Author.Handle), zap.String("uri", post.URI))

		if a.budget.CanPerform(types.ActionLike) {
			if _, err := a.client.Like(ctx, post.Ref()); err != nil {
				plog.Warn("failed to like post", zap.Error(err))
			} else {
				a.succeeded(ctx, types.ActionLike)
				plog.Info("liked post", zap.Stringer("influence", c.Influence))
				if err := a.pace(ctx, a.timing.LikePacing); err != nil {
					return err
				}
			}
		}

		if a.budget.CanPerform(types.ActionRepost) && a.rng.Float64() < a.discovery.RepostChance {
			if _, err := a.client.Repost(ctx, post.Ref()); err != nil {
				plog.Warn("failed to repost", zap.Error(err))
			} else {
				a.succeeded(ctx, types.ActionRepost)
				plog.Info("reposted post")
				if err := a.pace(ctx, a.timing.LikePacing); err != nil {
					return err
				}
			}
		}

		if a.budget.CanPerform(types.ActionReply) && !a.guard.AlreadyRepliedTo(post.URI) && a.rng.Float64() < a.discovery.ReplyChance {
			if a.reply(ctx, plog, post) {
				if err := a.pace(ctx, a.timing.ReplyPacing); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (a *Agent) reply(ctx context.Context, log *zap.Logger, post types.Post) bool {
	rc := a.finder.BuildPostContext(ctx, post)
	text, err := a.composer.Reply(ctx, post.Text, rc)
	if err != nil {
		log.Warn("failed to generate reply", zap.Error(err))
		return false
	}

	ref := post.Ref()
	if _, err := a.client.Reply(ctx, text, ref, ref); err != nil {
		log.Warn("failed to reply", zap.Error(err))
		return false
	}
	a.succeeded(ctx, types.ActionReply)
	if err := a.guard.RecordPost(post.URI, text); err != nil {
		log.Warn("failed to persist reply record", zap.Error(err))
	}
	log.Info("replied to post", zap.String("style", rc.WritingStyle), zap.String("text", text))
	return true
}

// =============================================================================
// ORIGINAL POSTS
// =============================================================================

func (a *Agent) originalPost(ctx context.Context, log *zap.Logger) error {
	if !a.budget.CanPerform(types.ActionPost) {
		return nil
	}
	if a.guard.PostedRecently(a.timing.PostCadence) {
		log.Debug("posted recently, skipping original post")
		return nil
	}
	if !a.guard.IsFavorableWindow(a.now()) {
		log.Debug("not a favorable posting time")
		return nil
	}

	kind := content.PickPostType(a.rng.Float64())
	text, err := a.composer.OriginalPost(ctx, kind)
	if err != nil {
		log.Warn("failed to generate post", zap.String("type", string(kind)), zap.Error(err))
		return ctx.Err()
	}
	ref, err := a.client.Post(ctx, text)
	if err != nil {
		log.Warn("failed to publish post", zap.Error(err))
		return ctx.Err()
	}
	a.succeeded(ctx, types.ActionPost)
	if err := a.guard.RecordPost(ref.URI, text); err != nil {
		log.Warn("failed to persist post record", zap.Error(err))
	}
	log.Info("published original post", zap.String("type", string(kind)), zap.String("uri", ref.URI))
	return nil
}

// =============================================================================
// FOLLOWS
// =============================================================================

func (a *Agent) followUsers(ctx context.Context, log *zap.Logger) error {
	skip := func(did string) bool {
		return a.followed.IsFollowed(did) || a.followed.IsBlacklisted(did)
	}
	users, err := a.finder.FindUsers(ctx, skip)
	if err != nil {
		return fmt.Errorf("find users: %w", err)
	}

	for _, u := range users {
		if !a.budget.CanPerform(types.ActionFollow) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		did, handle := u.Profile.DID, u.Profile.Handle
		flog := log.With(zap.String("handle", handle))

		if _, err := a.client.Follow(ctx, did); err != nil {
			if types.IsPermanent(err) {
				a.followed.Blacklist(did)
				a.saveFollowed(flog)
				flog.Warn("follow rejected, blacklisted", zap.Error(err))
			} else {
				flog.Warn("failed to follow user", zap.Error(err))
			}
			continue
		}

		a.followed.Add(did, handle, a.now())
		a.saveFollowed(flog)
		a.succeeded(ctx, types.ActionFollow)
		flog.Info("followed user", zap.Float64("score", u.Score), zap.Bool("keyword_match", u.KeywordMatch))
		if err := a.pace(ctx, a.timing.FollowPacing); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) saveFollowed(log *zap.Logger) {
	if err := a.store.SaveFollowedUsers(a.followed); err != nil {
		log.Warn("failed to persist followed users", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
