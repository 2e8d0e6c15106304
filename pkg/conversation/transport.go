package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/arena/core"
	"github.com/sethvargo/go-retry"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the server.
	pongWait = 60 * time.Second

	// Send pings to the server with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxPending bounds the events queued while disconnected.
	maxPending = 256
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrAlreadyOpen     = errors.New("transport already open")
	ErrQueueFull       = errors.New("outbound queue full")
)

// Handler receives a decoded inbound event.
type Handler func(core.ServerEvent)

// Emitter sends outbound events.
type Emitter interface {
	Emit(e core.ClientEvent) error
	Connected() bool
}

// Transport owns one long-lived event stream connection to the conversation server.
// It reconnects with a capped exponential backoff until it is closed.
// Inbound events are dispatched sequentially in arrival order.
type Transport struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	backoff func() retry.Backoff
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	// flushing is set from the moment a connection is published until the events
	// queued while disconnected have been written. Emit keeps queueing meanwhile.
	flushing            bool
	closed              bool
	pending             []*core.Event
	nextListenerID      int
	listeners           map[string]map[int]Handler
	connectListeners    map[int]func()
	disconnectListeners map[int]func()
	cancel              context.CancelFunc
	done                chan struct{}

	// writeMu serializes writes on conn.
	writeMu sync.Mutex
}

type TransportOption func(*Transport)

func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = l
	}
}

func WithDialer(d *websocket.Dialer) TransportOption {
	return func(t *Transport) {
		t.dialer = d
	}
}

// WithToken authenticates the connection with a bearer token.
func WithToken(token string) TransportOption {
	return func(t *Transport) {
		t.header.Set("Authorization", "Bearer "+token)
	}
}

// WithReconnectBackoff sets the factory of the backoff used between dial attempts.
// A new backoff is created for every reconnection cycle.
func WithReconnectBackoff(f func() retry.Backoff) TransportOption {
	return func(t *Transport) {
		t.backoff = f
	}
}

// DefaultReconnectBackoff starts at 250ms and doubles up to 10s, with 20% jitter.
func DefaultReconnectBackoff() retry.Backoff {
	b := retry.NewExponential(250 * time.Millisecond)
	b = retry.WithJitterPercent(20, b)
	return retry.WithCappedDuration(10*time.Second, b)
}

func NewTransport(rawURL string, opts ...TransportOption) (*Transport, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	t := &Transport{
		url:                 rawURL,
		header:              make(http.Header),
		dialer:              websocket.DefaultDialer,
		backoff:             DefaultReconnectBackoff,
		logger:              slog.New(slog.NewTextHandler(os.Stderr, nil)),
		listeners:           make(map[string]map[int]Handler),
		connectListeners:    make(map[int]func()),
		disconnectListeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Connected reports whether the transport currently has a live connection.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// On registers h for events of eventType. The returned function removes it.
func (t *Transport) On(eventType string, h Handler) (off func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextListenerID
	t.nextListenerID++
	if t.listeners[eventType] == nil {
		t.listeners[eventType] = make(map[int]Handler)
	}
	t.listeners[eventType][id] = h
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners[eventType], id)
	}
}

// OnConnect registers f to be called every time a connection is established.
func (t *Transport) OnConnect(f func()) (off func()) {
	return t.onState(t.connectListeners, f)
}

// OnDisconnect registers f to be called every time an established connection is lost.
func (t *Transport) OnDisconnect(f func()) (off func()) {
	return t.onState(t.disconnectListeners, f)
}

func (t *Transport) onState(m map[int]func(), f func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextListenerID
	t.nextListenerID++
	m[id] = f
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(m, id)
	}
}

// Open starts connecting in the background. It returns immediately.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.cancel != nil {
		return ErrAlreadyOpen
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx)
	return nil
}

// Close detaches every listener and closes the connection. It waits for the background loop to stop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	clear(t.listeners)
	clear(t.connectListeners)
	clear(t.disconnectListeners)
	t.pending = nil
	cancel, done, conn := t.cancel, t.done, t.conn
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}
	<-done
	return nil
}

// Emit sends e. Events emitted while disconnected are queued and flushed on the next connection.
func (t *Transport) Emit(p core.ClientEvent) error {
	e, err := core.NewEvent(p)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if !t.connected || t.flushing {
		defer t.mu.Unlock()
		if len(t.pending) >= maxPending {
			return ErrQueueFull
		}
		t.pending = append(t.pending, e)
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	if err := t.write(conn, e); err != nil {
		// the read loop notices the broken connection and reconnects
		return fmt.Errorf("write %s: %w", e.Type, err)
	}
	return nil
}

func (t *Transport) write(conn *websocket.Conn, e *core.Event) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	for {
		conn, err := t.dial(ctx)
		if err != nil {
			return
		}
		t.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		t.logger.Info("connection lost, reconnecting")
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		c, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err != nil {
			t.logger.Warn(fmt.Sprintf("dial: %v", err))
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

// serve runs the read loop of conn until it fails or ctx is done.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.connected = true
	t.flushing = true
	t.mu.Unlock()

	// a room join emitted by a connect listener lands in the queue and is
	// written ahead of the room events queued while disconnected
	t.notify(t.connectListeners)
	t.flush(conn)

	stopPing := make(chan struct{})
	go t.ping(conn, stopPing)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	defer func() {
		stop()
		close(stopPing)
		conn.Close()
		t.mu.Lock()
		t.conn = nil
		t.connected = false
		t.flushing = false
		t.mu.Unlock()
		t.notify(t.disconnectListeners)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var e core.Event
		if err := conn.ReadJSON(&e); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				t.logger.Info(fmt.Sprintf("connection closed: %v", err))
			} else {
				t.logger.Error(fmt.Sprintf("ReadJSON: %v", err))
			}
			return
		}
		t.dispatch(&e)
	}
}

// flush writes the queued events until the queue is drained, then lets Emit write directly.
// Joins go first, the relative order of every other event is kept.
func (t *Transport) flush(conn *websocket.Conn) {
	for {
		t.mu.Lock()
		pending := t.pending
		t.pending = nil
		if len(pending) == 0 {
			t.flushing = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		slices.SortStableFunc(pending, func(a, b *core.Event) int {
			return cmp.Compare(flushRank(a), flushRank(b))
		})
		for _, e := range pending {
			if err := t.write(conn, e); err != nil {
				t.logger.Error(fmt.Sprintf("flush %s: %v", e.Type, err))
			}
		}
	}
}

// flushRank orders queued events. The server ignores room events of a
// connection that has not joined the room.
func flushRank(e *core.Event) int {
	if e.Type == core.EventRoomJoin {
		return 0
	}
	return 1
}

func (t *Transport) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.logger.Warn(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}

func (t *Transport) dispatch(e *core.Event) {
	ev, err := core.DecodeServerEvent(e)
	if err != nil {
		t.logger.Warn(err.Error())
		return
	}
	t.mu.Lock()
	handlers := make([]Handler, 0, len(t.listeners[e.Type]))
	for _, h := range t.listeners[e.Type] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (t *Transport) notify(m map[int]func()) {
	t.mu.Lock()
	fns := make([]func(), 0, len(m))
	for _, f := range m {
		fns = append(fns, f)
	}
	t.mu.Unlock()
	for _, f := range fns {
		f()
	}
}
