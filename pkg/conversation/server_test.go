package conversation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/arena/core"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal conversation server. It acknowledges joins, echoes sent messages
// to every connection and serves an empty history.
type testServer struct {
	*httptest.Server
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []*core.Event
	// ackJoins controls whether room:join is acknowledged.
	ackJoins bool
	seq      int
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{t: t, ackJoins: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("GET /api/rooms/{roomID}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(core.MessagePage{Data: []core.Message{}})
	})
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *testServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			var e core.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, &e)
			s.mu.Unlock()
			s.handle(conn, &e)
		}
	}()
}

func (s *testServer) handle(conn *websocket.Conn, e *core.Event) {
	ev, err := core.DecodeClientEvent(e)
	if err != nil {
		return
	}
	switch ev := ev.(type) {
	case core.RoomJoin:
		s.mu.Lock()
		ack := s.ackJoins
		s.mu.Unlock()
		if ack {
			s.send(conn, core.Joined{Status: core.JoinStatusOK, Users: []string{ev.User.UID}})
			s.send(conn, core.Greeting("welcome "+ev.User.UID))
		}
	case core.MessageSend:
		s.mu.Lock()
		s.seq++
		id := "live-" + string(rune('0'+s.seq))
		s.mu.Unlock()
		s.broadcast(core.MessageReceive{
			Message: core.Message{
				ID:         id,
				RoomID:     ev.User.RoomID,
				Content:    ev.Content,
				File:       ev.File,
				Sender:     ev.User,
				TopicIndex: ev.TopicIndex,
			},
			Type: core.MessageKindText,
			User: ev.User,
		})
	case core.MessageTyping:
	}
}

func (s *testServer) send(conn *websocket.Conn, p core.ServerEvent) {
	e, err := core.NewEvent(p)
	require.NoError(s.t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.WriteJSON(e)
}

func (s *testServer) broadcast(p core.ServerEvent) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		s.send(c, p)
	}
}

// dropConnections closes every server side connection.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *testServer) receivedOf(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.received {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (s *testServer) streamURL() string {
	u, err := StreamURL(s.URL)
	require.NoError(s.t, err)
	return u
}

func (s *testServer) receivedTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.received))
	for _, e := range s.received {
		types = append(types, e.Type)
	}
	return types
}
