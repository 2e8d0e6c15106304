package conversation

import (
	"errors"
	"sync"

	"github.com/putto11262002/arena/core"
)

var ErrTopicOutOfRange = errors.New("topic index out of range")

// Topics tracks the selected topic of a room and which other topics received unread messages.
//
// The alert is a single slot holding the most recent topic that received a message while
// another topic was selected. A newer alert overwrites an older one. Per topic unread
// counts are kept alongside it.
type Topics struct {
	mu      sync.RWMutex
	labels  []string
	current int
	alert   int
	alerted bool
	unread  map[int]int
}

func NewTopics(labels []string, current int) (*Topics, error) {
	t := &Topics{
		labels: append([]string(nil), labels...),
		unread: make(map[int]int),
	}
	if !t.valid(current) {
		return nil, ErrTopicOutOfRange
	}
	t.current = current
	return t, nil
}

func (t *Topics) valid(i int) bool {
	return i >= core.IntroductionTopicIndex && i < len(t.labels)
}

// Labels returns the topic labels, excluding the introduction bucket.
func (t *Topics) Labels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.labels...)
}

func (t *Topics) Current() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Label resolves i to its wire label.
func (t *Topics) Label(i int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	label, ok := core.TopicLabel(t.labels, i)
	if !ok {
		return "", ErrTopicOutOfRange
	}
	return label, nil
}

// SelectTopic switches the active topic and clears its unread state.
func (t *Topics) SelectTopic(i int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(i) {
		return ErrTopicOutOfRange
	}
	t.current = i
	if t.alerted && t.alert == i {
		t.alerted = false
	}
	delete(t.unread, i)
	return nil
}

// RecordIncoming marks the topic of m as unread when it is not the selected topic
// and m was not sent by viewerID. It reports whether an alert was raised.
func (t *Topics) RecordIncoming(m core.Message, viewerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.TopicIndex == t.current || m.Sender.UID == viewerID || !t.valid(m.TopicIndex) {
		return false
	}
	t.alert = m.TopicIndex
	t.alerted = true
	t.unread[m.TopicIndex]++
	return true
}

// Alert returns the most recent topic with unread messages.
func (t *Topics) Alert() (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alert, t.alerted
}

// HasAlert reports whether i holds the alert.
func (t *Topics) HasAlert(i int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alerted && t.alert == i
}

// Unread returns the number of messages received on i since it was last selected.
func (t *Topics) Unread(i int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unread[i]
}
