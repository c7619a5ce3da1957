// Package types holds the domain vocabulary shared by every skyherd component:
// action kinds, the social-network records agents act on, and the error taxonomy.
package types

import (
	"fmt"
	"sort"
)

// ActionKind identifies one budgeted action an agent can take.
// The string value is the key used in every persisted state file.
type ActionKind string

const (
	ActionFollow ActionKind = "follows"
	ActionLike   ActionKind = "likes"
	ActionRepost ActionKind = "reposts"
	ActionPost   ActionKind = "posts"
	ActionReply  ActionKind = "replies"
)

// AllActions is the fixed, ordered set of action kinds.
var AllActions = []ActionKind{ActionFollow, ActionLike, ActionRepost, ActionPost, ActionReply}

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	for _, known := range AllActions {
		if k == known {
			return true
		}
	}
	return false
}

func (k ActionKind) String() string { return string(k) }

// ParseActionKind accepts both the persisted plural form ("likes") and the
// singular form ("like").
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if k.Valid() {
		return k, nil
	}
	switch s {
	case "follow":
		return ActionFollow, nil
	case "like":
		return ActionLike, nil
	case "repost":
		return ActionRepost, nil
	case "post":
		return ActionPost, nil
	case "reply":
		return ActionReply, nil
	}
	return "", fmt.Errorf("unknown action kind %q", s)
}

// Limits maps an action kind to a per-day cap.
type Limits map[ActionKind]int

// DefaultDailyLimits are applied before an agent's own limits.daily overrides.
func DefaultDailyLimits() Limits {
	return Limits{
		ActionFollow: 750,
		ActionLike:   2500,
		ActionRepost: 450,
		ActionPost:   100,
		ActionReply:  7500,
	}
}

// Clone returns an independent copy.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Total sums every cap.
func (l Limits) Total() int {
	total := 0
	for _, v := range l {
		total += v
	}
	return total
}

// Kinds returns the kinds present in l in AllActions order, followed by any
// unknown kinds sorted by name.
func (l Limits) Kinds() []ActionKind {
	kinds := make([]ActionKind, 0, len(l))
	seen := make(map[ActionKind]bool, len(l))
	for _, k := range AllActions {
		if _, ok := l[k]; ok {
			kinds = append(kinds, k)
			seen[k] = true
		}
	}
	var extra []ActionKind
	for k := range l {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(kinds, extra...)
}
