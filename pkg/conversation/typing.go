package conversation

import (
	"slices"
	"sync"
	"time"
)

// TypingTTL is how long a peer is shown as typing after its last signal.
const TypingTTL = 3 * time.Second

// TypingTracker tracks which peers are typing. Entries expire on their own.
type TypingTracker struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

type TypingOption func(*TypingTracker)

// WithClock replaces the clock used to expire entries.
func WithClock(now func() time.Time) TypingOption {
	return func(t *TypingTracker) {
		t.now = now
	}
}

func WithTypingTTL(ttl time.Duration) TypingOption {
	return func(t *TypingTracker) {
		t.ttl = ttl
	}
}

func NewTypingTracker(opts ...TypingOption) *TypingTracker {
	t := &TypingTracker{
		ttl:  TypingTTL,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Mark records a typing signal from uid.
func (t *TypingTracker) Mark(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[uid] = t.now()
}

func (t *TypingTracker) IsTyping(uid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.seen[uid]
	return ok && t.now().Sub(at) < t.ttl
}

// Typing returns the sorted uids of the peers currently typing and forgets expired ones.
func (t *TypingTracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	users := make([]string, 0, len(t.seen))
	for uid, at := range t.seen {
		if now.Sub(at) >= t.ttl {
			delete(t.seen, uid)
			continue
		}
		users = append(users, uid)
	}
	slices.Sort(users)
	return users
}
