package arena

import (
	"context"
	"errors"
	"fmt"

	"github.com/putto11262002/arena/core"
)

var ErrNotInRoom = errors.New("connection has not joined the room")

// GreetingFor is the text sent to a participant after their join is acknowledged.
func GreetingFor(uid string) core.Greeting {
	return core.Greeting(fmt.Sprintf("Welcome, %s!", uid))
}

// RoomJoinHandler acknowledges a join to the joining connection and refreshes the roster
// of everyone in the room. Joins to rooms that do not exist are dropped without a reply.
func (app *App) RoomJoinHandler(ctx context.Context, e *core.Event) error {
	join, err := decodeClientEvent[core.RoomJoin](e)
	if err != nil {
		return err
	}
	if err := validate.Struct(join); err != nil {
		return fmt.Errorf("validate %s: %w", e.Type, err)
	}

	room, err := app.conversationStore.GetRoomByID(ctx, join.RoomID)
	if err != nil {
		return fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return fmt.Errorf("join %q: %w", join.RoomID, core.ErrInvalidRoom)
	}

	if err := app.wsManager.JoinRoom(room.ID, e.Dispatcher, e.ConnID); err != nil {
		return fmt.Errorf("JoinRoom: %w", err)
	}
	users := app.wsManager.RoomUsers(room.ID)

	if err := app.eventRouter.EmitToConn(core.Joined{Status: core.JoinStatusOK, Users: users},
		e.Dispatcher, e.ConnID); err != nil {
		return err
	}
	if err := app.eventRouter.EmitToConn(GreetingFor(e.Dispatcher), e.Dispatcher, e.ConnID); err != nil {
		return err
	}
	return app.eventRouter.EmitToRoom(core.RoomInfo{Users: users}, room.ID)
}

// MessageSendHandler persists a message and delivers it to every connection in the room,
// the sending connection included.
func (app *App) MessageSendHandler(ctx context.Context, e *core.Event) error {
	send, err := decodeClientEvent[core.MessageSend](e)
	if err != nil {
		return err
	}
	roomID := send.User.RoomID
	if !app.wsManager.InRoom(roomID, e.ConnID) {
		return fmt.Errorf("send to %q: %w", roomID, ErrNotInRoom)
	}

	// the sender is the authenticated connection, not whatever the payload claims
	msg, err := app.conversationStore.SendMessage(ctx, core.MessageCreateInput{
		RoomID:     roomID,
		Sender:     e.Dispatcher,
		Content:    send.Content,
		File:       send.File,
		TopicIndex: send.TopicIndex,
	})
	if err != nil {
		return fmt.Errorf("SendMessage: %w", err)
	}

	kind := core.MessageKindText
	if msg.File != nil {
		kind = core.MessageKindFile
	}
	return app.eventRouter.EmitToRoom(core.MessageReceive{
		Message: *msg,
		Type:    kind,
		User:    core.Participant{UID: e.Dispatcher, RoomID: roomID},
	}, roomID)
}

// MessageTypingHandler relays a typing notification to the other connections in the room.
func (app *App) MessageTypingHandler(ctx context.Context, e *core.Event) error {
	typing, err := decodeClientEvent[core.MessageTyping](e)
	if err != nil {
		return err
	}
	roomID := typing.User.RoomID
	if !app.wsManager.InRoom(roomID, e.ConnID) {
		return fmt.Errorf("typing in %q: %w", roomID, ErrNotInRoom)
	}
	return app.eventRouter.EmitToRoom(core.UserTyping{
		User: core.Participant{UID: e.Dispatcher},
	}, roomID, e.ConnID)
}

func decodeClientEvent[T core.ClientEvent](e *core.Event) (T, error) {
	var zero T
	ce, err := core.DecodeClientEvent(e)
	if err != nil {
		return zero, err
	}
	p, ok := ce.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q handled as %s", core.ErrUnknownEvent, e.Type, zero.EventType())
	}
	return p, nil
}
