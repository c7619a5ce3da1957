package bluesky

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"skyherd/internal/types"
)

// Record collections.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionFollow = "app.bsky.graph.follow"
)

// createdAt is the record timestamp layout the app view expects.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

// Search and feed page sizes are capped server-side.
const (
	maxSearchLimit = 100
	maxFeedLimit   = 100
)

type authorView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type postView struct {
	URI    string     `json:"uri"`
	CID    string     `json:"cid"`
	Author authorView `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	IndexedAt string `json:"indexedAt"`
}

func (v postView) toPost() types.Post {
	p := types.Post{
		URI:  v.URI,
		CID:  v.CID,
		Text: v.Record.Text,
		Author: types.Author{
			DID:         v.Author.DID,
			Handle:      v.Author.Handle,
			DisplayName: v.Author.DisplayName,
		},
	}
	if t, err := time.Parse(time.RFC3339, v.IndexedAt); err == nil {
		p.IndexedAt = t
	}
	return p
}

type profileView struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	Description    string `json:"description"`
	FollowersCount int    `json:"followersCount"`
	FollowsCount   int    `json:"followsCount"`
	PostsCount     int    `json:"postsCount"`
}

func clampLimit(n, max int) int {
	if n <= 0 || n > max {
		return max
	}
	return n
}

// SearchPosts runs app.bsky.feed.searchPosts.
func (c *Client) SearchPosts(ctx context.Context, query string, limit int, sort types.SearchSort) ([]types.Post, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(clampLimit(limit, maxSearchLimit)))
	if sort != "" {
		params.Set("sort", string(sort))
	}
	var out struct {
		Posts []postView `json:"posts"`
	}
	if err := c.authed(ctx, http.MethodGet, "app.bsky.feed.searchPosts", params, nil, &out, "searchPosts", query); err != nil {
		return nil, err
	}
	posts := make([]types.Post, 0, len(out.Posts))
	for _, v := range out.Posts {
		posts = append(posts, v.toPost())
	}
	return posts, nil
}

// GetProfile runs app.bsky.actor.getProfile. actor is a handle or DID.
func (c *Client) GetProfile(ctx context.Context, actor string) (types.Profile, error) {
	params := url.Values{}
	params.Set("actor", actor)
	var v profileView
	if err := c.authed(ctx, http.MethodGet, "app.bsky.actor.getProfile", params, nil, &v, "getProfile", actor); err != nil {
		return types.Profile{}, err
	}
	return types.Profile{
		DID:            v.DID,
		Handle:         v.Handle,
		Description:    v.Description,
		FollowersCount: v.FollowersCount,
		FollowingCount: v.FollowsCount,
		PostsCount:     v.PostsCount,
	}, nil
}

// GetAuthorFeed runs app.bsky.feed.getAuthorFeed and returns the posts,
// newest first.
func (c *Client) GetAuthorFeed(ctx context.Context, actor string, limit int) ([]types.Post, error) {
	params := url.Values{}
	params.Set("actor", actor)
	params.Set("limit", strconv.Itoa(clampLimit(limit, maxFeedLimit)))
	var out struct {
		Feed []struct {
			Post postView `json:"post"`
		} `json:"feed"`
	}
	if err := c.authed(ctx, http.MethodGet, "app.bsky.feed.getAuthorFeed", params, nil, &out, "getAuthorFeed", actor); err != nil {
		return nil, err
	}
	posts := make([]types.Post, 0, len(out.Feed))
	for _, item := range out.Feed {
		posts = append(posts, item.Post.toPost())
	}
	return posts, nil
}

// =============================================================================
// RECORDS
// =============================================================================

func (c *Client) createRecord(ctx context.Context, op, target, collection string, record map[string]any) (types.PostRef, error) {
	record["$type"] = collection
	record["createdAt"] = time.Now().UTC().Format(createdAtLayout)
	body := map[string]any{
		"repo":       c.Self().DID,
		"collection": collection,
		"record":     record,
	}
	var ref types.PostRef
	if err := c.authed(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, body, &ref, op, target); err != nil {
		return types.PostRef{}, err
	}
	return ref, nil
}

// Follow creates a follow record for did.
func (c *Client) Follow(ctx context.Context, did string) (types.PostRef, error) {
	return c.createRecord(ctx, "follow", did, CollectionFollow, map[string]any{"subject": did})
}

// Like creates a like record for post.
func (c *Client) Like(ctx context.Context, post types.PostRef) (types.PostRef, error) {
	return c.createRecord(ctx, "like", post.URI, CollectionLike, map[string]any{"subject": post})
}

// Repost creates a repost record for post.
func (c *Client) Repost(ctx context.Context, post types.PostRef) (types.PostRef, error) {
	return c.createRecord(ctx, "repost", post.URI, CollectionRepost, map[string]any{"subject": post})
}

// Post publishes a top-level post.
func (c *Client) Post(ctx context.Context, text string) (types.PostRef, error) {
	return c.createRecord(ctx, "post", "", CollectionPost, map[string]any{"text": text})
}

// Reply publishes text as a reply to parent within the thread rooted at root.
func (c *Client) Reply(ctx context.Context, text string, parent, root types.PostRef) (types.PostRef, error) {
	return c.createRecord(ctx, "reply", parent.URI, CollectionPost, map[string]any{
		"text":  text,
		"reply": map[string]types.PostRef{"root": root, "parent": parent},
	})
}
