package systemd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoop(t *testing.T) {
	var nilN *Notifier
	ok, err := nilN.Ready("x")
	assert.False(t, ok)
	assert.NoError(t, err)

	ok, err = New(false).Status("x")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestStateLines(t *testing.T) {
	var got []string
	n := NewWith(func(state string) (bool, error) {
		got = append(got, state)
		return true, nil
	})

	_, err := n.Ready("paired 4 sessions")
	require.NoError(t, err)
	_, err = n.Status("batch 3 done\n sent=40")
	require.NoError(t, err)
	_, err = n.Stopping("interrupted")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"READY=1\nSTATUS=paired 4 sessions",
		"STATUS=batch 3 done sent=40",
		"STOPPING=1\nSTATUS=interrupted",
	}, got)
}
