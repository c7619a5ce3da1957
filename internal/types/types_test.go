package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionKind(t *testing.T) {
	for _, in := range []string{"likes", "like"} {
		k, err := ParseActionKind(in)
		require.NoError(t, err)
		assert.Equal(t, ActionLike, k)
	}
	_, err := ParseActionKind("boosts")
	assert.Error(t, err)
}

func TestLimitsKindsOrder(t *testing.T) {
	l := Limits{ActionReply: 1, ActionLike: 2, "zaps": 3, ActionFollow: 4}
	assert.Equal(t, []ActionKind{ActionFollow, ActionLike, ActionReply, "zaps"}, l.Kinds())
	assert.Equal(t, 10, l.Total())

	c := l.Clone()
	c[ActionLike] = 99
	assert.Equal(t, 2, l[ActionLike])
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	transient := fmt.Errorf("wrapped: %w", NewTransient("like", "at://x", base))
	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.ErrorIs(t, transient, base)

	permanent := NewPermanent("follow", "did:plc:abc", base)
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))
	assert.Contains(t, permanent.Error(), "did:plc:abc")

	assert.True(t, IsTransient(base), "plain errors are transient")
	assert.False(t, IsTransient(nil))

	pe := &PersistenceError{Namespace: "a", Entity: "post_history", Op: "write", Err: base}
	assert.True(t, IsPersistence(fmt.Errorf("save: %w", pe)))
	assert.Equal(t, "state a/post_history: write: boom", pe.Error())
}

func TestProfileFollowerRatio(t *testing.T) {
	assert.Equal(t, 0.0, Profile{FollowersCount: 10}.FollowerRatio())
	assert.InDelta(t, 2.5, Profile{FollowersCount: 10, FollowingCount: 4}.FollowerRatio(), 1e-9)
}
