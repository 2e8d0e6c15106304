package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnNotFound = errors.New("connection not found")

type ConnIDGenerator interface {
	Generate(r *http.Request, conn *websocket.Conn) (int, error)
}

// AutoIncrementConnIDGenerator generates connection ids that are unique for the lifetime of the generator.
type AutoIncrementConnIDGenerator struct {
	counter int64
	mu      sync.Mutex
}

func (g *AutoIncrementConnIDGenerator) Generate(_ *http.Request, _ *websocket.Conn) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return int(g.counter), nil
}

// ConnManager owns the websocket connections of every user and the room membership of each connection.
// Room membership lives as long as the connection does.
type ConnManager struct {
	conns map[string][]*Conn
	// rooms maps a room id to the connections joined to it.
	rooms map[string]map[int]*Conn
	// connRooms maps a connection id to the rooms it joined.
	connRooms map[int][]string
	mu        sync.RWMutex

	connWg      *sync.WaitGroup
	context     context.Context
	logger      *slog.Logger
	idGenerator ConnIDGenerator

	onUserConnected    func(string)
	onUserDisconnected func(string)

	onConnectionOpened func(uid string, id int)
	// onConnectionClosed receives the rooms the connection was joined to when it closed.
	onConnectionClosed func(uid string, id int, rooms []string)

	receivedEvent chan *Event

	upgrader        websocket.Upgrader
	readStreamSize  int
	writeStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithConnIDGenerator(g ConnIDGenerator) ManagerOption {
	return func(m *ConnManager) {
		m.idGenerator = g
	}
}

// WithStreamSize sets the capacity of the shared inbound event stream and of the
// outbound buffer of each connection.
func WithStreamSize(read, write int) ManagerOption {
	return func(m *ConnManager) {
		m.readStreamSize = read
		m.writeStreamSize = write
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		connWg:             wg,
		conns:              make(map[string][]*Conn),
		rooms:              make(map[string]map[int]*Conn),
		connRooms:          make(map[int][]string),
		logger:             logger,
		context:            ctx,
		upgrader:           defaultUpgrader,
		idGenerator:        &AutoIncrementConnIDGenerator{},
		readStreamSize:     100,
		writeStreamSize:    100,
		onUserConnected:    func(string) {},
		onUserDisconnected: func(string) {},
		onConnectionOpened: func(string, int) {},
		onConnectionClosed: func(string, int, []string) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *Event, m.readStreamSize)

	return m
}

func (m *ConnManager) Receive() <-chan *Event {
	return m.receivedEvent
}

// OnUserConnected registers f to be called when the first connection of a user opens.
func (m *ConnManager) OnUserConnected(f func(string)) {
	m.onUserConnected = f
}

// OnUserDisconnected registers f to be called when the last connection of a user closes.
func (m *ConnManager) OnUserDisconnected(f func(string)) {
	m.onUserDisconnected = f
}

func (m *ConnManager) OnConnectionOpened(f func(uid string, id int)) {
	m.onConnectionOpened = f
}

func (m *ConnManager) OnConnectionClosed(f func(uid string, id int, rooms []string)) {
	m.onConnectionClosed = f
}

func (m *ConnManager) IsUserConnected(uid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[uid]
	return ok
}

// Connect upgrades the request and starts serving the connection for uid.
func (m *ConnManager) Connect(uid string, w http.ResponseWriter, r *http.Request) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an error
		return fmt.Errorf("Upgrade: %w", err)
	}

	id, err := m.idGenerator.Generate(r, conn)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), time.Now().Add(writeWait))
		conn.Close()
		return fmt.Errorf("Generate: %w", err)
	}

	m.mu.Lock()
	conns := m.conns[uid]
	wsConn := &Conn{
		uid:         uid,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.writeStreamSize),
		readStream:  m.receivedEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", uid, id))),
		notifyDisconnect: func() {
			m.disconnect(uid, id)
		},
	}
	m.conns[uid] = append(conns, wsConn)
	firstConn := len(conns) == 0
	m.mu.Unlock()

	m.connWg.Add(2)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	if firstConn {
		m.onUserConnected(uid)
	}
	m.onConnectionOpened(uid, id)

	return nil
}

// JoinRoom adds the connection to roomID. Joining a room twice is a no-op.
func (m *ConnManager) JoinRoom(roomID, uid string, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn := m.findConn(uid, id)
	if conn == nil {
		return ErrConnNotFound
	}
	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[int]*Conn)
		m.rooms[roomID] = members
	}
	if _, ok := members[id]; ok {
		return nil
	}
	members[id] = conn
	m.connRooms[id] = append(m.connRooms[id], roomID)
	return nil
}

// InRoom reports whether the connection has joined roomID.
func (m *ConnManager) InRoom(roomID string, id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][id]
	return ok
}

// RoomUsers returns the sorted uids of the users with at least one connection in roomID.
func (m *ConnManager) RoomUsers(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.rooms[roomID]))
	for _, c := range m.rooms[roomID] {
		if !slices.Contains(users, c.uid) {
			users = append(users, c.uid)
		}
	}
	slices.Sort(users)
	return users
}

// findConn must be called with the lock held.
func (m *ConnManager) findConn(uid string, id int) *Conn {
	for _, c := range m.conns[uid] {
		if c.id == id {
			return c
		}
	}
	return nil
}

// leaveRooms must be called with the write lock held.
func (m *ConnManager) leaveRooms(id int) []string {
	rooms := m.connRooms[id]
	for _, roomID := range rooms {
		delete(m.rooms[roomID], id)
		if len(m.rooms[roomID]) == 0 {
			delete(m.rooms, roomID)
		}
	}
	delete(m.connRooms, id)
	return rooms
}

func (m *ConnManager) disconnect(uid string, ids ...int) {
	m.mu.Lock()
	conns, ok := m.conns[uid]
	if !ok {
		m.mu.Unlock()
		return
	}

	closed := make(map[int][]string, len(ids))
	remaining := conns[:0:0]
	for _, c := range conns {
		if len(ids) == 0 || slices.Contains(ids, c.id) {
			c.close()
			closed[c.id] = m.leaveRooms(c.id)
			continue
		}
		remaining = append(remaining, c)
	}
	userDisconnected := len(remaining) == 0
	if userDisconnected {
		delete(m.conns, uid)
	} else {
		m.conns[uid] = remaining
	}
	m.mu.Unlock()

	for id, rooms := range closed {
		m.onConnectionClosed(uid, id, rooms)
	}
	if userDisconnected {
		m.onUserDisconnected(uid)
	}
}

// Close closes every connection.
func (m *ConnManager) Close() {
	m.mu.RLock()
	users := make([]string, 0, len(m.conns))
	for uid := range m.conns {
		users = append(users, uid)
	}
	m.mu.RUnlock()
	for _, uid := range users {
		m.disconnect(uid)
	}
}

func (m *ConnManager) SendToConn(e *Event, uid string, id int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conn := m.findConn(uid, id); conn != nil {
		conn.send(e)
	}
}

// SendToRoom sends e to every connection joined to roomID except the listed connection ids.
func (m *ConnManager) SendToRoom(e *Event, roomID string, except ...int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, conn := range m.rooms[roomID] {
		if slices.Contains(except, id) {
			continue
		}
		conn.send(e)
	}
}
