package conversation

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/putto11262002/arena/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestComposer(t *testing.T, current int) (*Composer, *fakeEmitter, *Topics) {
	topics, err := NewTopics([]string{"AI Ethics", "Climate"}, current)
	require.NoError(t, err)
	emitter := newFakeEmitter(true)
	return NewComposer(emitter, "r1", topics), emitter, topics
}

func TestComposer_SendClearsDraft(t *testing.T) {
	c, emitter, _ := newTestComposer(t, 1)
	resets := 0
	c.BindFileInputReset(func() { resets++ })

	c.SetContent("hello")
	require.NoError(t, c.AttachFile("notes.txt", "text/plain", strings.NewReader("hi")))
	require.NoError(t, c.Send("alice"))

	assert.Equal(t, Draft{}, c.Draft())
	assert.Equal(t, 1, resets)

	sent := emitter.emitted(core.EventMessageSend)
	require.Len(t, sent, 1)
	assert.Equal(t, core.MessageSend{
		Content:    "hello",
		File:       &core.File{Name: "notes.txt", Type: "text/plain", Data: "aGk="},
		User:       core.Participant{UID: "alice", RoomID: "r1"},
		Topic:      "Climate",
		TopicIndex: 1,
	}, sent[0])
}

func TestComposer_SendIntroduction(t *testing.T) {
	c, emitter, _ := newTestComposer(t, -1)
	c.SetContent("hi all")
	require.NoError(t, c.Send("alice"))

	sent := emitter.emitted(core.EventMessageSend)
	require.Len(t, sent, 1)
	assert.Equal(t, "introduction", sent[0].(core.MessageSend).Topic)
	assert.Equal(t, -1, sent[0].(core.MessageSend).TopicIndex)
}

func TestComposer_SendPreconditions(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		file    bool
		user    string
		err     error
	}{
		{name: "blank draft", content: "  \n", user: "alice", err: ErrEmptyDraft},
		{name: "no user", content: "hello", err: ErrNoUser},
		{name: "file only", file: true, user: "alice"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, emitter, _ := newTestComposer(t, 0)
			c.SetContent(tc.content)
			if tc.file {
				require.NoError(t, c.AttachFile("a.png", "image/png", strings.NewReader("png")))
			}
			err := c.Send(tc.user)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, emitter.emitted(core.EventMessageSend))
				assert.Equal(t, tc.content, c.Draft().Content)
				return
			}
			require.NoError(t, err)
			assert.Len(t, emitter.emitted(core.EventMessageSend), 1)
		})
	}
}

func TestComposer_EmitFailureKeepsDraft(t *testing.T) {
	c, emitter, _ := newTestComposer(t, 0)
	emitter.err = ErrTransportClosed
	c.SetContent("hello")
	assert.ErrorIs(t, c.Send("alice"), ErrTransportClosed)
	assert.Equal(t, "hello", c.Draft().Content)
}

func TestComposer_AttachFileReadError(t *testing.T) {
	c, _, _ := newTestComposer(t, 0)
	require.NoError(t, c.AttachFile("a.txt", "text/plain", strings.NewReader("a")))

	err := c.AttachFile("b.txt", "text/plain", iotest.ErrReader(errors.New("boom")))
	require.Error(t, err)
	assert.Equal(t, "a.txt", c.Draft().File.Name)

	c.ClearFile()
	assert.Nil(t, c.Draft().File)
}

func TestComposer_NotifyTyping(t *testing.T) {
	c, emitter, topics := newTestComposer(t, 0)

	assert.ErrorIs(t, c.NotifyTyping("alice"), ErrEmptyDraft)

	c.SetContent("h")
	require.NoError(t, topics.SelectTopic(1))
	require.NoError(t, c.NotifyTyping("alice"))

	typing := emitter.emitted(core.EventMessageTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, core.MessageTyping{
		User:       core.Participant{UID: "alice", RoomID: "r1"},
		Topic:      "Climate",
		TopicIndex: 1,
	}, typing[0])
	assert.Equal(t, "h", c.Draft().Content)
}
