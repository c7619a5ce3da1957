package types

import "time"

// Author is the account that wrote a post.
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Post is a single feed item as returned by search and author feeds.
type Post struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid"`
	Text      string    `json:"text"`
	Author    Author    `json:"author"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Profile carries the counters agents use to judge accounts, including themselves.
type Profile struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	Description    string `json:"description,omitempty"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	PostsCount     int    `json:"posts_count"`
}

// FollowerRatio is followers/following, or 0 when the account follows nobody.
func (p Profile) FollowerRatio() float64 {
	if p.FollowingCount <= 0 {
		return 0
	}
	return float64(p.FollowersCount) / float64(p.FollowingCount)
}

// SearchSort selects the ordering of search results.
type SearchSort string

const (
	SortLatest SearchSort = "latest"
	SortTop    SearchSort = "top"
)

// PostRef is a strong reference to a record: its URI and content hash.
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Ref returns the post's strong reference.
func (p Post) Ref() PostRef {
	return PostRef{URI: p.URI, CID: p.CID}
}
