package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/putto11262002/arena/core"
)

type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	err       error
	events    []core.ClientEvent
}

func newFakeEmitter(connected bool) *fakeEmitter {
	return &fakeEmitter{connected: connected}
}

func (f *fakeEmitter) Emit(e core.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeEmitter) setConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

func (f *fakeEmitter) emitted(eventType string) []core.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.ClientEvent, 0)
	for _, e := range f.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeFetcher serves pages from a fixed list of messages, newest first.
// When gate is not nil every fetch blocks until it receives a value.
type fakeFetcher struct {
	mu       sync.Mutex
	messages []core.Message
	limit    int
	calls    int
	err      error
	gate     chan struct{}
}

func (f *fakeFetcher) ListMessages(ctx context.Context, roomID string, q ListQuery) (core.MessagePage, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return core.MessagePage{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return core.MessagePage{}, f.err
	}
	start := 0
	if q.Cursor != "" {
		fmt.Sscanf(q.Cursor, "%d", &start)
	}
	end := min(start+f.limit, len(f.messages))
	page := core.MessagePage{Data: append([]core.Message(nil), f.messages[start:end]...)}
	if end < len(f.messages) {
		page.NextCursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func message(id string, topicIndex int, sender string) core.Message {
	return core.Message{
		ID:         id,
		RoomID:     "r1",
		Content:    "content of " + id,
		TopicIndex: topicIndex,
		Sender:     core.Participant{UID: sender},
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func messageIDs(messages []core.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}
