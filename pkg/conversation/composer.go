package conversation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/putto11262002/arena/core"
)

var (
	ErrEmptyDraft = errors.New("draft has no content and no file")
	ErrNoUser     = errors.New("user is not known")
)

// Draft is the message being composed.
type Draft struct {
	Content string
	File    *core.File
}

// Composer holds the outgoing draft of a room and emits send and typing events.
// The draft is cleared as soon as the send event is emitted, without waiting for the echo.
type Composer struct {
	emitter Emitter
	roomID  string
	topics  *Topics

	mu             sync.Mutex
	draft          Draft
	resetFileInput func()
}

func NewComposer(emitter Emitter, roomID string, topics *Topics) *Composer {
	return &Composer{emitter: emitter, roomID: roomID, topics: topics}
}

func (c *Composer) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Composer) SetContent(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Content = content
}

// AttachFile reads r and stores it inline in the draft as base64.
// The draft keeps its previous file until the read completes.
func (c *Composer) AttachFile(name, contentType string, r io.Reader) error {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.File = &core.File{Name: name, Type: contentType, Data: sb.String()}
	return nil
}

func (c *Composer) ClearFile() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.File = nil
}

// BindFileInputReset registers f to be called after every send.
func (c *Composer) BindFileInputReset(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetFileInput = f
}

// ready must be called with the lock held.
func (c *Composer) ready(userID string) error {
	if strings.TrimSpace(c.draft.Content) == "" && c.draft.File == nil {
		return ErrEmptyDraft
	}
	if userID == "" {
		return ErrNoUser
	}
	return nil
}

func (c *Composer) topic() (string, int, error) {
	i := c.topics.Current()
	label, err := c.topics.Label(i)
	return label, i, err
}

// Send emits the draft on the selected topic and clears it.
func (c *Composer) Send(userID string) error {
	c.mu.Lock()
	if err := c.ready(userID); err != nil {
		c.mu.Unlock()
		return err
	}
	topic, topicIndex, err := c.topic()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = c.emitter.Emit(core.MessageSend{
		Content:    c.draft.Content,
		File:       c.draft.File,
		User:       core.Participant{UID: userID, RoomID: c.roomID},
		Topic:      topic,
		TopicIndex: topicIndex,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft = Draft{}
	reset := c.resetFileInput
	c.mu.Unlock()

	if reset != nil {
		reset()
	}
	return nil
}

// NotifyTyping emits a typing signal on the selected topic. It is meant to be called on every keystroke.
func (c *Composer) NotifyTyping(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(userID); err != nil {
		return err
	}
	topic, topicIndex, err := c.topic()
	if err != nil {
		return err
	}
	return c.emitter.Emit(core.MessageTyping{
		User:       core.Participant{UID: userID, RoomID: c.roomID},
		Topic:      topic,
		TopicIndex: topicIndex,
	})
}
