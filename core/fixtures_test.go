package core

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}

	if err := Migrate(db, os.DirFS("../migrations")); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

type ConversationFixture struct {
	*BaseFixture
	store *SQLiteConversationStore
}

func NewConversationFixture(t *testing.T) *ConversationFixture {
	base := NewBaseFixture(t)
	return &ConversationFixture{
		BaseFixture: base,
		store:       NewSQLiteConversationStore(base.db),
	}
}

func (f *ConversationFixture) seedRoom(owner string, topics ...string) *Room {
	id, err := f.store.CreateRoom(f.ctx, RoomCreateInput{Owner: owner, Topics: topics})
	if err != nil {
		f.t.Fatal(err)
	}
	room, err := f.store.GetRoomByID(f.ctx, id)
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

func (f *ConversationFixture) seedMessages(roomID, sender string, topicIndexes ...int) []Message {
	messages := make([]Message, 0, len(topicIndexes))
	for i, topicIndex := range topicIndexes {
		m, err := f.store.SendMessage(f.ctx, MessageCreateInput{
			RoomID:     roomID,
			Sender:     sender,
			Content:    "message " + string(rune('a'+i%26)),
			TopicIndex: topicIndex,
		})
		if err != nil {
			f.t.Fatal(err)
		}
		messages = append(messages, *m)
	}
	return messages
}
