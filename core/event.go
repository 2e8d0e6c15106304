package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type Event struct {
	// ConnID is the id of the connection the event was received from.
	ConnID int `json:"-"`
	// Dispatcher is the uid of the user the event was received from.
	Dispatcher string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{ConnID: %d, Dispatcher: %s, Type: %s, Payload.Size: %d}", e.ConnID, e.Dispatcher, e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type EventTransport interface {
	SendToConn(event *Event, uid string, connID int)
	SendToRoom(event *Event, roomID string, except ...int)
	Receive() <-chan *Event
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches events received from the transport to the handler registered
// for their type. Events of one connection are handled in the order they were received.
type EventRouter struct {
	listeners map[string]EventHandler
	transport EventTransport
	logger    *slog.Logger
}

func NewEventRouter(logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		transport: transport,
		logger:    logger,
	}
}

// Listen blocks until ctx is done.
func (em *EventRouter) Listen(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-em.transport.Receive():
			em.logger.Debug(fmt.Sprintf("received: %v", e))
			handler, ok := em.listeners[e.Type]
			if !ok {
				em.logger.Warn(fmt.Sprintf("no handler for %q", e.Type))
				continue
			}
			if err := handler(ctx, e); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				em.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err))
			}
		}
	}
}

func (em *EventRouter) On(eventType string, handler EventHandler) {
	em.listeners[eventType] = handler
}

// EmitToConn sends p to a single connection.
func (em *EventRouter) EmitToConn(p ServerEvent, uid string, connID int) error {
	e, err := NewEvent(p)
	if err != nil {
		return err
	}
	em.transport.SendToConn(e, uid, connID)
	return nil
}

// EmitToRoom sends p to every connection joined to roomID except the listed connection ids.
func (em *EventRouter) EmitToRoom(p ServerEvent, roomID string, except ...int) error {
	e, err := NewEvent(p)
	if err != nil {
		return err
	}
	em.transport.SendToRoom(e, roomID, except...)
	return nil
}
