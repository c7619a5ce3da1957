// Package networktest provides an in-memory network.Client for tests.
package networktest

import (
	"context"
	"fmt"
	"sync"

	"skyherd/internal/network"
	"skyherd/internal/types"
)

// Call records one mutating request.
type Call struct {
	Op     string
	Target string
	Text   string
	Parent types.PostRef
	Root   types.PostRef
}

// Client is a scripted network.Client. Fields may be set before use; the
// exported methods are safe for concurrent use.
type Client struct {
	Me types.Author

	mu       sync.Mutex
	loggedIn bool
	search   map[string][]types.Post
	profiles map[string]types.Profile
	feeds    map[string][]types.Post
	errs     map[string]error // keyed by op or op+":"+target
	calls    []Call
	lookups  map[string]int
	seq      int
}

var _ network.Client = (*Client)(nil)

// New returns an empty fake logged in as me.
func New(me types.Author) *Client {
	return &Client{
		Me:       me,
		search:   make(map[string][]types.Post),
		profiles: make(map[string]types.Profile),
		feeds:    make(map[string][]types.Post),
		errs:     make(map[string]error),
		lookups:  make(map[string]int),
	}
}

// SetSearch scripts the results for query.
func (c *Client) SetSearch(query string, posts ...types.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search[query] = posts
}

// SetProfile registers a profile under both its DID and handle.
func (c *Client) SetProfile(p types.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.DID] = p
	if p.Handle != "" {
		c.profiles[p.Handle] = p
	}
}

// SetFeed scripts an author feed.
func (c *Client) SetFeed(actor string, posts ...types.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeds[actor] = posts
}

// FailOn makes op fail with err. target narrows it to a single subject.
func (c *Client) FailOn(op, target string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := op
	if target != "" {
		key += ":" + target
	}
	if err == nil {
		delete(c.errs, key)
		return
	}
	c.errs[key] = err
}

// Calls returns the mutating calls made so far.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsFor filters Calls by op.
func (c *Client) CallsFor(op string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Lookups reports how often GetProfile was asked about actor.
func (c *Client) Lookups(actor string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups[actor]
}

func (c *Client) failure(op, target string) error {
	if err, ok := c.errs[op+":"+target]; ok {
		return err
	}
	return c.errs[op]
}

func (c *Client) Login(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("login", ""); err != nil {
		return err
	}
	c.loggedIn = true
	return nil
}

func (c *Client) Self() types.Author { return c.Me }

func (c *Client) SearchPosts(_ context.Context, query string, limit int, _ types.SearchSort) ([]types.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("searchPosts", query); err != nil {
		return nil, err
	}
	posts := c.search[query]
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return append([]types.Post(nil), posts...), nil
}

func (c *Client) GetProfile(_ context.Context, actor string) (types.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[actor]++
	if err := c.failure("getProfile", actor); err != nil {
		return types.Profile{}, err
	}
	p, ok := c.profiles[actor]
	if !ok {
		return types.Profile{}, types.NewPermanent("getProfile", actor, fmt.Errorf("profile not found"))
	}
	return p, nil
}

func (c *Client) GetAuthorFeed(_ context.Context, actor string, limit int) ([]types.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("getAuthorFeed", actor); err != nil {
		return nil, err
	}
	posts := c.feeds[actor]
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return append([]types.Post(nil), posts...), nil
}

func (c *Client) record(call Call) (types.PostRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return types.PostRef{}, types.NewTransient(call.Op, call.Target, network.ErrNotLoggedIn)
	}
	if err := c.failure(call.Op, call.Target); err != nil {
		return types.PostRef{}, err
	}
	c.calls = append(c.calls, call)
	c.seq++
	return types.PostRef{
		URI: fmt.Sprintf("at://%s/%s/%d", c.Me.DID, call.Op, c.seq),
		CID: fmt.Sprintf("cid%d", c.seq),
	}, nil
}

func (c *Client) Follow(_ context.Context, did string) (types.PostRef, error) {
	return c.record(Call{Op: "follow", Target: did})
}

func (c *Client) Like(_ context.Context, post types.PostRef) (types.PostRef, error) {
	return c.record(Call{Op: "like", Target: post.URI})
}

func (c *Client) Repost(_ context.Context, post types.PostRef) (types.PostRef, error) {
	return c.record(Call{Op: "repost", Target: post.URI})
}

func (c *Client) Post(_ context.Context, text string) (types.PostRef, error) {
	return c.record(Call{Op: "post", Text: text})
}

func (c *Client) Reply(_ context.Context, text string, parent, root types.PostRef) (types.PostRef, error) {
	return c.record(Call{Op: "reply", Target: parent.URI, Text: text, Parent: parent, Root: root})
}
