package conversation

import (
	"testing"

	"github.com/putto11262002/arena/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTopics(t *testing.T) {
	_, err := NewTopics([]string{"AI Ethics"}, 1)
	assert.ErrorIs(t, err, ErrTopicOutOfRange)

	topics, err := NewTopics([]string{"AI Ethics"}, -1)
	require.NoError(t, err)
	assert.Equal(t, core.IntroductionTopicIndex, topics.Current())
}

func TestTopics_SelectTopic(t *testing.T) {
	topics, err := NewTopics([]string{"AI Ethics", "Climate"}, 0)
	require.NoError(t, err)

	testCases := []struct {
		index int
		err   error
	}{
		{index: -1},
		{index: 0},
		{index: 1},
		{index: 2, err: ErrTopicOutOfRange},
		{index: -2, err: ErrTopicOutOfRange},
	}
	for _, tc := range testCases {
		err := topics.SelectTopic(tc.index)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, "index %d", tc.index)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.index, topics.Current())
	}
}

func TestTopics_Label(t *testing.T) {
	topics, err := NewTopics([]string{"AI Ethics", "Climate"}, 0)
	require.NoError(t, err)

	label, err := topics.Label(-1)
	require.NoError(t, err)
	assert.Equal(t, "introduction", label)

	label, err = topics.Label(1)
	require.NoError(t, err)
	assert.Equal(t, "Climate", label)

	_, err = topics.Label(2)
	assert.ErrorIs(t, err, ErrTopicOutOfRange)
}

func TestTopics_RecordIncoming(t *testing.T) {
	t.Run("message on current topic raises no alert", func(t *testing.T) {
		topics, _ := NewTopics([]string{"AI Ethics", "Climate"}, 0)
		assert.False(t, topics.RecordIncoming(message("m1", 0, "bob"), "alice"))
		_, ok := topics.Alert()
		assert.False(t, ok)
	})

	t.Run("own message raises no alert", func(t *testing.T) {
		topics, _ := NewTopics([]string{"AI Ethics", "Climate"}, 0)
		assert.False(t, topics.RecordIncoming(message("m1", 1, "alice"), "alice"))
		assert.False(t, topics.HasAlert(1))
	})

	t.Run("alert is a single slot that is overwritten", func(t *testing.T) {
		topics, _ := NewTopics([]string{"AI Ethics", "Climate"}, 0)
		assert.True(t, topics.RecordIncoming(message("m1", 1, "bob"), "alice"))
		assert.True(t, topics.RecordIncoming(message("m2", -1, "bob"), "alice"))

		alert, ok := topics.Alert()
		require.True(t, ok)
		assert.Equal(t, -1, alert)
		assert.False(t, topics.HasAlert(1))

		assert.Equal(t, 1, topics.Unread(1))
		assert.Equal(t, 1, topics.Unread(-1))
	})

	t.Run("selecting the alerted topic clears it", func(t *testing.T) {
		topics, _ := NewTopics([]string{"AI Ethics", "Climate"}, 0)
		topics.RecordIncoming(message("m1", 1, "bob"), "alice")
		topics.RecordIncoming(message("m2", 1, "carol"), "alice")
		assert.Equal(t, 2, topics.Unread(1))

		require.NoError(t, topics.SelectTopic(1))
		assert.False(t, topics.HasAlert(1))
		assert.Equal(t, 0, topics.Unread(1))
	})

	t.Run("selecting another topic keeps the alert", func(t *testing.T) {
		topics, _ := NewTopics([]string{"AI Ethics", "Climate"}, 0)
		topics.RecordIncoming(message("m1", 1, "bob"), "alice")
		require.NoError(t, topics.SelectTopic(-1))
		assert.True(t, topics.HasAlert(1))
	})
}

// A message sent on another topic is hidden from the current topic, raises the alert of its
// own topic and shows up there once that topic is selected.
func TestTopics_LiveMessageOnAnotherTopic(t *testing.T) {
	cache := NewCache()
	cache.AppendPage("r1", Page{Data: []core.Message{message("m0", 0, "alice")}})

	topics, err := NewTopics([]string{"AI Ethics", "Climate"}, 0)
	require.NoError(t, err)

	hello := message("m1", 1, "bob")
	hello.Content = "hello"
	require.True(t, cache.MergeLivePush("r1", hello))
	topics.RecordIncoming(hello, "alice")

	assert.Equal(t, []string{"m0"}, messageIDs(cache.Project("r1", topics.Current())))
	assert.True(t, topics.HasAlert(1))

	require.NoError(t, topics.SelectTopic(1))
	projected := cache.Project("r1", topics.Current())
	require.Len(t, projected, 1)
	assert.Equal(t, "hello", projected[0].Content)
	assert.False(t, topics.HasAlert(1))
}
