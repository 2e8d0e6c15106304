package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/putto11262002/arena/core"
)

// SessionConfig configures the view of one room.
type SessionConfig struct {
	Room *core.Room
	// UserID may be empty until the identity resolves, see Session.SetUser.
	UserID string
	// Transport is closed by Session.Close when Session.Start opened it. A transport
	// that was already open belongs to the caller and is left open.
	Transport *Transport
	API       *Client
	Cache     *Cache
	PageSize  int
	Logger    *slog.Logger
	// OnMessage is called with every live message merged into the cache.
	OnMessage func(core.MessageReceive)
	// MembershipOptions are applied to the membership of the session.
	MembershipOptions []MembershipOption
}

// Session wires the components of a conversation view for one room.
type Session struct {
	Room       *core.Room
	Membership *Membership
	Topics     *Topics
	Cache      *Cache
	Pager      *Pager
	Composer   *Composer
	Typing     *TypingTracker
	Engagement *Engagement

	transport *Transport
	logger    *slog.Logger
	onMessage func(core.MessageReceive)

	mu       sync.Mutex
	userID   string
	greeting string
	offs     []func()
	// ownsTransport is set when Start opened the transport.
	ownsTransport bool
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Room == nil || cfg.Transport == nil || cfg.API == nil {
		return nil, errors.New("room, transport and api are required")
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(core.MessageReceive) {}
	}
	logger := cfg.Logger.With(slog.String("room", cfg.Room.ID))

	current := core.IntroductionTopicIndex
	if cfg.Room.MainTopicIndex != nil {
		current = *cfg.Room.MainTopicIndex
	}
	topics, err := NewTopics(cfg.Room.Topics, current)
	if err != nil {
		return nil, err
	}

	engagement, err := NewEngagement(cfg.Cache, cfg.API, 0)
	if err != nil {
		return nil, err
	}

	opts := append([]MembershipOption{WithMembershipLogger(logger)}, cfg.MembershipOptions...)
	s := &Session{
		Room:       cfg.Room,
		Membership: NewMembership(cfg.Transport, cfg.Room.ID, opts...),
		Topics:     topics,
		Cache:      cfg.Cache,
		Pager:      NewPager(cfg.Cache, cfg.API, cfg.Room.ID, cfg.PageSize),
		Composer:   NewComposer(cfg.Transport, cfg.Room.ID, topics),
		Typing:     NewTypingTracker(),
		Engagement: engagement,
		transport:  cfg.Transport,
		logger:     logger,
		onMessage:  cfg.OnMessage,
		userID:     cfg.UserID,
	}
	return s, nil
}

// Start subscribes to the transport, opens it and loads the most recent page.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	for _, eventType := range []string{
		core.EventJoined, core.EventRoomInfo, core.EventMessageReceive, core.EventGreeting, core.EventUserTyping,
	} {
		s.offs = append(s.offs, s.transport.On(eventType, s.handle))
	}
	s.offs = append(s.offs,
		s.transport.OnConnect(s.Membership.HandleConnect),
		s.transport.OnDisconnect(s.Membership.HandleDisconnect),
	)
	userID := s.userID
	s.mu.Unlock()

	s.Membership.JoinRoom(userID, s.Room.ID)

	switch err := s.transport.Open(ctx); {
	case err == nil:
		s.mu.Lock()
		s.ownsTransport = true
		s.mu.Unlock()
	case !errors.Is(err, ErrAlreadyOpen):
		return fmt.Errorf("open transport: %w", err)
	}
	if _, err := s.Pager.FetchNextPage(ctx); err != nil {
		return fmt.Errorf("fetch first page: %w", err)
	}
	return nil
}

// Close detaches the listeners of the session and closes the transport if Start opened it.
func (s *Session) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	owns := s.ownsTransport
	s.ownsTransport = false
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
	s.Membership.Close()
	if owns {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn(fmt.Sprintf("close transport: %v", err))
		}
	}
}

// SetUser records the resolved identity of the viewer and joins the room when possible.
func (s *Session) SetUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	s.Membership.SetUser(userID)
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Greeting returns the last greeting sent by the server.
func (s *Session) Greeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting
}

// Send sends the draft as the viewer.
func (s *Session) Send() error {
	return s.Composer.Send(s.UserID())
}

// NotifyTyping signals that the viewer is typing.
func (s *Session) NotifyTyping() error {
	return s.Composer.NotifyTyping(s.UserID())
}

// Messages returns the messages of the selected topic, oldest first.
func (s *Session) Messages() []core.Message {
	return s.Cache.Project(s.Room.ID, s.Topics.Current())
}

// View returns the render state of the selected topic.
func (s *Session) View() ViewState {
	return s.Pager.View(s.Topics.Current())
}

func (s *Session) handle(ev core.ServerEvent) {
	switch ev := ev.(type) {
	case core.Joined:
		s.Membership.HandleJoined(ev)
	case core.RoomInfo:
		s.Membership.HandleRoster(ev)
	case core.MessageReceive:
		if ev.RoomID != "" && ev.RoomID != s.Room.ID {
			return
		}
		if !s.Cache.MergeLivePush(s.Room.ID, ev.Message) {
			s.logger.Debug("dropped duplicate message", slog.String("id", ev.ID))
			return
		}
		s.Topics.RecordIncoming(ev.Message, s.UserID())
		s.onMessage(ev)
	case core.Greeting:
		s.mu.Lock()
		s.greeting = string(ev)
		s.mu.Unlock()
	case core.UserTyping:
		if ev.User.UID != s.UserID() {
			s.Typing.Mark(ev.User.UID)
		}
	}
}
