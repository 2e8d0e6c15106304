package conversation

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/putto11262002/arena/core"
	"github.com/sethvargo/go-retry"
)

// DefaultJoinTimeout is how long a join waits for its acknowledgment before it is retried.
const DefaultJoinTimeout = 5 * time.Second

// Membership joins one room once per connection.
// A join is emitted only when the user and room are known, the transport is connected
// and the room is neither joined nor waiting for an acknowledgment.
type Membership struct {
	emitter     Emitter
	joinTimeout time.Duration
	backoff     func() retry.Backoff
	logger      *slog.Logger

	mu      sync.Mutex
	userID  string
	roomID  string
	joined  bool
	pending bool
	users   []string
	retries retry.Backoff
	timer   *time.Timer
	// epoch invalidates retry timers armed before a reset.
	epoch int
}

type MembershipOption func(*Membership)

func WithJoinTimeout(d time.Duration) MembershipOption {
	return func(m *Membership) {
		m.joinTimeout = d
	}
}

// WithJoinBackoff sets the factory of the backoff between unacknowledged join attempts.
// When the backoff stops the membership gives up until the next connection.
func WithJoinBackoff(f func() retry.Backoff) MembershipOption {
	return func(m *Membership) {
		m.backoff = f
	}
}

func WithMembershipLogger(l *slog.Logger) MembershipOption {
	return func(m *Membership) {
		m.logger = l
	}
}

func defaultJoinBackoff() retry.Backoff {
	return retry.WithMaxRetries(5, retry.NewExponential(time.Second))
}

func NewMembership(emitter Emitter, roomID string, opts ...MembershipOption) *Membership {
	m := &Membership{
		emitter:     emitter,
		roomID:      roomID,
		joinTimeout: DefaultJoinTimeout,
		backoff:     defaultJoinBackoff,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// JoinRoom sets the identity of the membership and joins when eligible.
// It reports whether a join was emitted.
func (m *Membership) JoinRoom(userID, roomID string) bool {
	m.mu.Lock()
	if m.userID != userID || m.roomID != roomID {
		m.userID, m.roomID = userID, roomID
		m.resetLocked()
	}
	m.mu.Unlock()
	return m.Evaluate()
}

// SetUser records the resolved user identity and re-checks eligibility.
func (m *Membership) SetUser(userID string) bool {
	m.mu.Lock()
	roomID := m.roomID
	m.mu.Unlock()
	return m.JoinRoom(userID, roomID)
}

// Evaluate emits a join when the membership is eligible. It reports whether a join was emitted.
func (m *Membership) Evaluate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateLocked()
}

func (m *Membership) evaluateLocked() bool {
	if m.userID == "" || m.roomID == "" || m.joined || m.pending || !m.emitter.Connected() {
		return false
	}
	err := m.emitter.Emit(core.RoomJoin{User: core.Participant{UID: m.userID}, RoomID: m.roomID})
	if err != nil {
		m.logger.Error("emit room:join", slog.String("error", err.Error()))
		return false
	}
	m.pending = true
	if m.retries == nil {
		m.retries = m.backoff()
	}
	epoch := m.epoch
	m.timer = time.AfterFunc(m.joinTimeout, func() { m.timeout(epoch) })
	return true
}

// timeout retries a join that was not acknowledged in time.
func (m *Membership) timeout(epoch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || !m.pending {
		return
	}
	m.pending = false
	delay, stop := m.retries.Next()
	if stop {
		m.logger.Warn("room join not acknowledged, giving up", slog.String("room", m.roomID))
		return
	}
	m.logger.Info("room join not acknowledged, retrying", slog.String("room", m.roomID), slog.Duration("in", delay))
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if epoch != m.epoch {
			return
		}
		m.evaluateLocked()
	})
}

// HandleJoined records the acknowledgment of a join.
func (m *Membership) HandleJoined(ack core.Joined) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ack.Status != core.JoinStatusOK {
		m.logger.Warn("room join rejected", slog.String("status", ack.Status))
		return
	}
	m.stopTimerLocked()
	m.joined = true
	m.pending = false
	m.users = ack.Users
}

// HandleRoster records the users currently in the room.
func (m *Membership) HandleRoster(info core.RoomInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = info.Users
}

// HandleConnect re-checks eligibility after the transport connects.
func (m *Membership) HandleConnect() {
	m.Evaluate()
}

// HandleDisconnect forgets the join. The server drops room membership with the connection.
func (m *Membership) HandleDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Membership) resetLocked() {
	m.stopTimerLocked()
	m.epoch++
	m.joined = false
	m.pending = false
	m.retries = nil
	m.users = nil
}

func (m *Membership) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Close stops any pending retry.
func (m *Membership) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.epoch++
}

func (m *Membership) Joined() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined
}

func (m *Membership) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Users returns the last known roster of the room.
func (m *Membership) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.users...)
}
