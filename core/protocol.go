package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event types exchanged over the conversation stream.
const (
	EventRoomJoin       = "room:join"
	EventJoined         = "message:joined"
	EventRoomInfo       = "room:info"
	EventMessageSend    = "message:send"
	EventMessageReceive = "message:receive"
	EventGreeting       = "message:greeting"
	EventMessageTyping  = "message:typing"
	EventUserTyping     = "message:user_typing"
)

// JoinStatusOK is the status of a successful join acknowledgment.
const JoinStatusOK = "ok"

// Message kinds carried by MessageReceive.Type.
const (
	MessageKindText = "text"
	MessageKindFile = "file"
)

var ErrUnknownEvent = errors.New("unknown event")

// Payload is the body of an event that knows its own type.
type Payload interface {
	EventType() string
}

// ClientEvent is a payload sent from a client to the server.
// The set of implementations is closed.
type ClientEvent interface {
	Payload
	clientEvent()
}

// ServerEvent is a payload sent from the server to a client.
// The set of implementations is closed.
type ServerEvent interface {
	Payload
	serverEvent()
}

type RoomJoin struct {
	User   Participant `json:"user"`
	RoomID string      `json:"roomId" validate:"required"`
}

func (RoomJoin) EventType() string { return EventRoomJoin }
func (RoomJoin) clientEvent()      {}

type MessageSend struct {
	Content    string      `json:"content"`
	File       *File       `json:"file,omitempty"`
	User       Participant `json:"user"`
	Topic      string      `json:"topic"`
	TopicIndex int         `json:"topicIndex"`
}

func (MessageSend) EventType() string { return EventMessageSend }
func (MessageSend) clientEvent()      {}

type MessageTyping struct {
	User       Participant `json:"user"`
	Topic      string      `json:"topic"`
	TopicIndex int         `json:"topicIndex"`
}

func (MessageTyping) EventType() string { return EventMessageTyping }
func (MessageTyping) clientEvent()      {}

type Joined struct {
	Status string   `json:"status"`
	Users  []string `json:"users"`
}

func (Joined) EventType() string { return EventJoined }
func (Joined) serverEvent()      {}

type RoomInfo struct {
	Users []string `json:"users"`
}

func (RoomInfo) EventType() string { return EventRoomInfo }
func (RoomInfo) serverEvent()      {}

// MessageReceive is a live delivered message.
type MessageReceive struct {
	Message
	Type string      `json:"type"`
	User Participant `json:"user"`
}

func (MessageReceive) EventType() string { return EventMessageReceive }
func (MessageReceive) serverEvent()      {}

type Greeting string

func (Greeting) EventType() string { return EventGreeting }
func (Greeting) serverEvent()      {}

type UserTyping struct {
	User Participant `json:"user"`
}

func (UserTyping) EventType() string { return EventUserTyping }
func (UserTyping) serverEvent()      {}

// NewEvent wraps p in an event envelope.
func NewEvent(p Payload) (*Event, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	return &Event{Type: p.EventType(), Payload: b}, nil
}

// DecodeClientEvent decodes the payload of an event sent by a client.
func DecodeClientEvent(e *Event) (ClientEvent, error) {
	switch e.Type {
	case EventRoomJoin:
		return decodePayload[RoomJoin](e)
	case EventMessageSend:
		return decodePayload[MessageSend](e)
	case EventMessageTyping:
		return decodePayload[MessageTyping](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

// DecodeServerEvent decodes the payload of an event sent by the server.
func DecodeServerEvent(e *Event) (ServerEvent, error) {
	switch e.Type {
	case EventJoined:
		return decodePayload[Joined](e)
	case EventRoomInfo:
		return decodePayload[RoomInfo](e)
	case EventMessageReceive:
		return decodePayload[MessageReceive](e)
	case EventGreeting:
		return decodePayload[Greeting](e)
	case EventUserTyping:
		return decodePayload[UserTyping](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

func decodePayload[T Payload](e *Event) (T, error) {
	var p T
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return p, nil
}
