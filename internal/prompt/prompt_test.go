package prompt

import (
	"bytes"
	"strings"
	"testing"

	"chatblast/internal/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupFlow(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := New(strings.NewReader("Y\n2\n  Acme Ltd \n15"), &out)

	isTest, err := p.IsTest()
	require.NoError(t, err)
	assert.True(t, isTest)

	choice, err := p.MessageType()
	require.NoError(t, err)
	assert.Equal(t, ChoiceMedia, choice)

	org, err := p.Organization()
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", org)

	n, err := p.Count(42)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	assert.Contains(t, out.String(), "Filtered 42 contacts.")
}

func TestInvalidAnswers(t *testing.T) {
	t.Parallel()
	p := New(strings.NewReader("4\n0\nabc\n"), &bytes.Buffer{})

	_, err := p.MessageType()
	assert.ErrorIs(t, err, ErrInvalidChoice)
	_, err = p.Count(10)
	assert.ErrorIs(t, err, ErrInvalidChoice)
	_, err = p.Count(10)
	assert.ErrorIs(t, err, ErrInvalidChoice)
	_, err = p.Count(10)
	assert.Error(t, err)
}

func TestChooseConversation(t *testing.T) {
	t.Parallel()
	convs := []messaging.Conversation{{ID: "a@g.us", Name: "Team"}, {ID: "b@c.us"}}

	var out bytes.Buffer
	p := New(strings.NewReader("2\n"), &out)
	got, err := p.ChooseConversation(convs)
	require.NoError(t, err)
	assert.Equal(t, "b@c.us", got.ID)
	assert.Contains(t, out.String(), "1. Team")
	assert.Contains(t, out.String(), "2. b@c.us")

	p = New(strings.NewReader("3\n"), &bytes.Buffer{})
	_, err = p.ChooseConversation(convs)
	assert.ErrorIs(t, err, ErrInvalidChoice)

	_, err = p.ChooseConversation(nil)
	assert.ErrorIs(t, err, ErrInvalidChoice)
}
