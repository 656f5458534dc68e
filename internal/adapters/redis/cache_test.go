package redisad

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestCache_RoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0, "cm:")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	var got map[string]int
	ok, err := c.Get(ctx, "avail:A1", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "avail:A1", map[string]int{"count": 2}, 30))
	require.True(t, mr.Exists("cm:avail:A1"), "keys are prefixed")

	ok, err = c.Get(ctx, "avail:A1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got["count"])

	mr.FastForward(31 * time.Second)
	ok, err = c.Get(ctx, "avail:A1", &got)
	require.NoError(t, err)
	require.False(t, ok, "entry should expire")

	require.NoError(t, c.Set(ctx, "timeline:A1", []int{1}, 30))
	require.NoError(t, c.Del(ctx, "timeline:A1"))
	require.False(t, mr.Exists("cm:timeline:A1"))
}

func TestCache_DecodeError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0, "")
	defer c.Close()
	require.NoError(t, mr.Set("bad", "{not json"))

	var v map[string]any
	ok, err := c.Get(context.Background(), "bad", &v)
	require.True(t, ok)
	require.Error(t, err)
}
