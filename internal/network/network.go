// Package network defines the social-network capability agents act through.
package network

import (
	"context"
	"errors"

	"skyherd/internal/types"
)

// ErrNotLoggedIn is returned by calls that need a session before Login succeeded.
var ErrNotLoggedIn = errors.New("not logged in")

// Client is everything an agent does on the network. Implementations return
// *types.ActionError for failed calls so callers can tell a skipped candidate
// from a request that will never succeed.
type Client interface {
	// Login establishes the session. Self is valid afterwards.
	Login(ctx context.Context) error
	Self() types.Author

	SearchPosts(ctx context.Context, query string, limit int, sort types.SearchSort) ([]types.Post, error)
	GetProfile(ctx context.Context, actor string) (types.Profile, error)
	GetAuthorFeed(ctx context.Context, actor string, limit int) ([]types.Post, error)

	Follow(ctx context.Context, did string) (types.PostRef, error)
	Like(ctx context.Context, post types.PostRef) (types.PostRef, error)
	Repost(ctx context.Context, post types.PostRef) (types.PostRef, error)
	Post(ctx context.Context, text string) (types.PostRef, error)
	Reply(ctx context.Context, text string, parent, root types.PostRef) (types.PostRef, error)
}
