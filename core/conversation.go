package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// IntroductionTopicIndex is the index of the implicit introduction bucket.
	// It is not part of Room.Topics.
	IntroductionTopicIndex = -1
	// IntroductionTopic is the label sent on the wire for IntroductionTopicIndex.
	IntroductionTopic = "introduction"
)

// Participant identifies a user taking part in a room.
type Participant struct {
	UID    string `json:"uid"`
	RoomID string `json:"roomId,omitempty"`
}

// File is an attachment. Data holds the base64 encoded content when the file
// is sent inline, URL is set when the content is hosted elsewhere.
type File struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type"`
	Data string `json:"data,omitempty" validate:"required_without=URL"`
	URL  string `json:"url,omitempty" validate:"omitempty,url"`
}

// Room represents one conversation instance.
type Room struct {
	ID     string   `json:"id"`
	Owner  string   `json:"owner"`
	Topics []string `json:"topics"`
	// MainTopicIndex is the topic emphasized as the title. It is nil when no topic is emphasized.
	MainTopicIndex *int      `json:"mainTopicIndex"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ValidTopicIndex reports whether i addresses the introduction bucket or one of the room topics.
func (r *Room) ValidTopicIndex(i int) bool {
	return i >= IntroductionTopicIndex && i < len(r.Topics)
}

// TopicLabel resolves a topic index to the label used on the wire.
func (r *Room) TopicLabel(i int) (string, bool) {
	return TopicLabel(r.Topics, i)
}

// TopicLabel resolves i against topics. The introduction bucket resolves to IntroductionTopic.
func TopicLabel(topics []string, i int) (string, bool) {
	if i == IntroductionTopicIndex {
		return IntroductionTopic, true
	}
	if i < 0 || i >= len(topics) {
		return "", false
	}
	return topics[i], true
}

// Message represents one chat entry in a room.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	Content    string      `json:"content"`
	File       *File       `json:"file,omitempty"`
	Sender     Participant `json:"sender"`
	TopicIndex int         `json:"topicIndex"`
	CreatedAt  time.Time   `json:"createdAt"`
	// Like is the number of likes, Liked reports whether the viewer liked the message.
	Like     int  `json:"like"`
	Liked    bool `json:"liked"`
	Comments int  `json:"comments"`
	// View is the number of views, Viewed reports whether the viewer has seen the message.
	View   int  `json:"view"`
	Viewed bool `json:"viewed"`
}

// Comment is a reply attached to a message. A user owns at most one comment per message.
type Comment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessagePage is one slice of the room history, newest first.
// NextCursor is empty when there are no older messages.
type MessagePage struct {
	Data       []Message `json:"data"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// MessageQuery selects a page of messages.
type MessageQuery struct {
	// TopicIndex restricts the page to one topic when it is not nil.
	TopicIndex *int
	// Cursor is the continuation token returned by a previous page.
	Cursor string
	// Limit defaults to DefaultPageSize when it is zero.
	Limit int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var (
	// ErrInvalidRoom is returned when a room is not found.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrInvalidMessage is returned when a message carries neither content nor a file.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMessageNotFound is returned when a message does not exist in the room.
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidTopic is returned when a topic index is outside of the room topics.
	ErrInvalidTopic = errors.New("invalid topic")
	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrInvalidComment is returned when a comment has no content.
	ErrInvalidComment = errors.New("invalid comment")
)

// RoomCreateInput represents the input for creating a room.
type RoomCreateInput struct {
	Owner          string   `json:"-" validate:"required"`
	Topics         []string `json:"topics" validate:"dive,required"`
	MainTopicIndex *int     `json:"mainTopicIndex" validate:"omitempty,min=0"`
}

func (in *RoomCreateInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.MainTopicIndex != nil && *in.MainTopicIndex >= len(in.Topics) {
		return ErrInvalidTopic
	}
	return nil
}

// MessageCreateInput represents the input for creating a message.
type MessageCreateInput struct {
	RoomID     string `validate:"required"`
	Sender     string `validate:"required"`
	Content    string
	File       *File `validate:"omitempty"`
	TopicIndex int   `validate:"min=-1"`
}

// Validate checks the input. A message must carry non blank content or a file.
func (m *MessageCreateInput) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" && m.File == nil {
		return ErrInvalidMessage
	}
	return nil
}

type ConversationStore interface {
	// CreateRoom creates a room and returns its ID.
	CreateRoom(ctx context.Context, input RoomCreateInput) (string, error)

	// GetRoomByID returns the room with the given ID.
	// If the room is not found, it returns nil.
	GetRoomByID(ctx context.Context, roomID string) (*Room, error)

	// SendMessage persists a message to the room.
	// If the room does not exist, it returns ErrInvalidRoom.
	// If the topic index is outside of the room topics, it returns ErrInvalidTopic.
	// If the message has no content and no file, it returns ErrInvalidMessage.
	SendMessage(ctx context.Context, input MessageCreateInput) (*Message, error)

	// GetMessages returns a page of messages in the room ordered from newest to oldest.
	// Liked and Viewed are computed for viewer.
	GetMessages(ctx context.Context, roomID, viewer string, query MessageQuery) (MessagePage, error)

	// GetMessage returns a message in the room as seen by viewer.
	// If the message is not found, it returns ErrMessageNotFound.
	GetMessage(ctx context.Context, roomID, messageID, viewer string) (*Message, error)

	// ToggleLike adds the like of user when absent and removes it otherwise.
	// It returns whether the message is now liked by user and the new like count.
	ToggleLike(ctx context.Context, roomID, messageID, user string) (liked bool, count int, err error)

	// UpsertComment creates the comment of author on the message, or replaces its content
	// when author already commented. created reports which one happened.
	UpsertComment(ctx context.Context, roomID, messageID, author, content string) (comment *Comment, created bool, err error)

	// GetComments returns the comments on a message ordered by creation time.
	GetComments(ctx context.Context, roomID, messageID string) ([]Comment, error)

	// RecordView marks the message as viewed by user. first reports whether this is the first
	// view by user, count is the new view count.
	RecordView(ctx context.Context, roomID, messageID, user string) (first bool, count int, err error)
}
