package messaging

import (
	"context"
	"testing"

	logx "chatblast/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunFailEvery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewDryRun(DryRunConfig{FailEvery: 3}, logx.Nop())
	s, err := c.Pair(ctx, "client-0")
	require.NoError(t, err)

	var failed int
	for i := 0; i < 9; i++ {
		if err := s.SendMessage(ctx, "91987654321@c.us", TextMessage("hi")); err != nil {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
	assert.Equal(t, uint64(9), c.Sends())
}

func TestDryRunConversationsSurviveRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewDryRun(DryRunConfig{}, logx.Nop())

	s1, err := c.Pair(ctx, "client-0")
	require.NoError(t, err)
	require.NoError(t, s1.SendMessage(ctx, "a@c.us", TextMessage("first")))
	require.NoError(t, s1.SendMessage(ctx, "b@c.us", TextMessage("second")))
	require.NoError(t, s1.Destroy(ctx))
	assert.Error(t, s1.SendMessage(ctx, "a@c.us", TextMessage("late")))

	s2, err := c.Pair(ctx, "client-0")
	require.NoError(t, err)
	convs, err := s2.RecentConversations(ctx, 5)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	msg, ok, err := s2.LastMessage(ctx, "b@c.us")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", msg.Text)

	_, ok, err = s2.LastMessage(ctx, "nobody@c.us")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDryRunPairHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewDryRun(DryRunConfig{PairDelay: 1 << 40}, logx.Nop())
	_, err := c.Pair(ctx, "client-0")
	assert.ErrorIs(t, err, context.Canceled)
}
