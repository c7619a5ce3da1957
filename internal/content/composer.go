package content

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"skyherd/internal/config"
)

// PostType selects the prompt for an original post.
type PostType string

const (
	PostQuestion   PostType = "question"
	PostTip        PostType = "tip"
	PostDiscussion PostType = "discussion"
	PostTrend      PostType = "trend"
)

var postTypeWeights = []struct {
	t PostType
	w float64
}{
	{PostQuestion, 0.3},
	{PostTip, 0.3},
	{PostDiscussion, 0.2},
	{PostTrend, 0.2},
}

// PickPostType maps a uniform value in [0,1) onto the weighted post types.
func PickPostType(u float64) PostType {
	acc := 0.0
	for _, pw := range postTypeWeights {
		acc += pw.w
		if u < acc {
			return pw.t
		}
	}
	return postTypeWeights[len(postTypeWeights)-1].t
}

// Writing styles accepted from the style analysis.
var validStyles = map[string]bool{
	"casual":       true,
	"formal":       true,
	"friendly":     true,
	"professional": true,
	"enthusiastic": true,
}

// DefaultStyle is used whenever style analysis has nothing to go on.
const DefaultStyle = "casual"

// ReplyContext personalises a reply.
type ReplyContext struct {
	AuthorInterests []string
	WritingStyle    string
	Tone            string
	ValueAdd        string
}

// DefaultReplyContext is the context used when nothing could be learned.
func DefaultReplyContext(interests []string) ReplyContext {
	return ReplyContext{
		AuthorInterests: interests,
		WritingStyle:    DefaultStyle,
		Tone:            "friendly",
		ValueAdd:        "insights",
	}
}

// Composer builds prompts from an agent's persona and runs them through a
// Generator. Helper analyses never fail; they fall back to defaults.
type Composer struct {
	gen    Generator
	agent  *config.AgentConfig
	rng    *rand.Rand
	logger *zap.Logger
}

// NewComposer binds a generator to an agent persona. rng is not shared
// across goroutines.
func NewComposer(gen Generator, agent *config.AgentConfig, rng *rand.Rand, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{gen: gen, agent: agent, rng: rng, logger: logger}
}

// TrendingHashtags asks for five hashtags related to the search terms and
// returns them without the leading '#'.
func (c *Composer) TrendingHashtags(ctx context.Context) []string {
	out, err := c.gen.Generate(ctx,
		"You are a social media expert. Generate relevant hashtags.",
		"Generate 5 trending hashtags related to these topics: "+strings.Join(c.agent.Engagement.SearchTerms, ", "),
		50, 0.7)
	if err != nil {
		c.logger.Warn("failed to get trending hashtags", zap.Error(err))
		return nil
	}
	return parseHashtags(out)
}

func parseHashtags(s string) []string {
	var tags []string
	for _, f := range strings.Fields(s) {
		if !strings.HasPrefix(f, "#") {
			continue
		}
		if tag := strings.Trim(f, "#,.;:"); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ExtractInterests lists topics found in a bio. An empty bio or a failed
// call yields the agent's search terms.
func (c *Composer) ExtractInterests(ctx context.Context, bio string) []string {
	if strings.TrimSpace(bio) == "" {
		return c.agent.Engagement.SearchTerms
	}
	out, err := c.gen.Generate(ctx,
		"Extract key interests and topics from this bio. Return as comma-separated list.",
		bio, 50, 0.5)
	if err != nil {
		c.logger.Warn("failed to extract interests", zap.Error(err))
		return c.agent.Engagement.SearchTerms
	}
	var interests []string
	for _, part := range strings.Split(out, ",") {
		if p := strings.TrimSpace(part); p != "" {
			interests = append(interests, p)
		}
	}
	if len(interests) == 0 {
		return c.agent.Engagement.SearchTerms
	}
	return interests
}

const styleSystemPrompt = `You are a writing style analyzer.
Return ONLY a JSON object with a single key 'writing_style' and one of these values:
'casual', 'formal', 'friendly', 'professional', or 'enthusiastic'.
Example: {"writing_style": "casual"}`

// AnalyzeWritingStyle classifies the style of recent posts, falling back to
// DefaultStyle on any failure or unexpected answer.
func (c *Composer) AnalyzeWritingStyle(ctx context.Context, posts []string) string {
	var nonEmpty []string
	for _, p := range posts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return DefaultStyle
	}
	sample := truncateBytes(strings.Join(nonEmpty, "\n"), 500)

	out, err := c.gen.Generate(ctx, styleSystemPrompt, "Analyze this writing style: "+sample, 50, 0.3)
	if err != nil {
		c.logger.Warn("failed to analyze writing style", zap.Error(err))
		return DefaultStyle
	}
	return parseStyle(out)
}

func parseStyle(out string) string {
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, "{") {
		return DefaultStyle
	}
	var parsed struct {
		WritingStyle string `json:"writing_style"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return DefaultStyle
	}
	if !validStyles[parsed.WritingStyle] {
		return DefaultStyle
	}
	return parsed.WritingStyle
}

// DetermineValueAdd picks how a reply should contribute to a post.
func DetermineValueAdd(postText string, authorFollowers int) string {
	if authorFollowers > 10000 {
		return "thoughtful discussion"
	}
	lower := strings.ToLower(postText)
	for _, term := range []string{"code", "programming", "tech"} {
		if strings.Contains(lower, term) {
			return "technical insights"
		}
	}
	if strings.Contains(postText, "?") {
		return "helpful answers"
	}
	return "insights"
}

// Reply writes a reply to postText in the agent's engagement style. The
// result is capped at MaxReplyLength graphemes and at the configured emoji
// count.
func (c *Composer) Reply(ctx context.Context, postText string, rc ReplyContext) (string, error) {
	system := c.agent.ReplySystemPrompt() + "\nMatch their vibe: " + rc.WritingStyle
	if len(rc.AuthorInterests) > 0 {
		system += "\nThey care about: " + strings.Join(rc.AuthorInterests, ", ")
	}
	if rc.ValueAdd != "" {
		system += "\nAim to offer " + rc.ValueAdd + "."
	}

	text, err := c.gen.Generate(ctx, system, "Reply to this in your style: "+postText, 100, c.agent.ReplyTemperature())
	if err != nil {
		return "", err
	}
	text = Truncate(text, MaxReplyLength)
	if max := c.agent.EngagementStyle.MaxEmojis; max > 0 {
		text = LimitEmojis(text, max)
	}
	return text, nil
}

// PostPrompt builds the user prompt for an original post of type t.
func (c *Composer) PostPrompt(t PostType) string {
	terms := c.agent.Engagement.SearchTerms
	topic := ""
	if len(terms) > 0 {
		topic = terms[c.rng.IntN(len(terms))]
	}
	tags := Sample(c.rng, c.agent.Engagement.Hashtags, 3)
	hashtags := strings.Join(tags, ", ")

	switch t {
	case PostQuestion:
		return fmt.Sprintf("Create an engaging question about %s that encourages discussion. Include these hashtags where relevant: %s", topic, hashtags)
	case PostTip:
		return fmt.Sprintf("Share a helpful tip or insight about %s. Make it actionable and include these hashtags where relevant: %s", topic, hashtags)
	case PostTrend:
		return fmt.Sprintf("Share an interesting trend or development in %s. Include these hashtags where relevant: %s", topic, hashtags)
	default:
		return fmt.Sprintf("Start a discussion about %s with a thought-provoking statement. Include these hashtags where relevant: %s", topic, hashtags)
	}
}

// OriginalPost writes a post of type t in the agent's content persona.
func (c *Composer) OriginalPost(ctx context.Context, t PostType) (string, error) {
	system := c.agent.Content.SystemPrompt + "\nCreate engaging content that encourages interaction."
	text, err := c.gen.Generate(ctx, system, c.PostPrompt(t), 150, 0.8)
	if err != nil {
		return "", err
	}
	return Truncate(text, MaxPostLength), nil
}

// Sample returns up to n distinct elements of items in random order.
func Sample(rng *rand.Rand, items []string, n int) []string {
	if n > len(items) {
		n = len(items)
	}
	perm := rng.Perm(len(items))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = items[perm[i]]
	}
	return out
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
