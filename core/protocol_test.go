package core

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientEvent(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want ClientEvent
		err  error
	}{
		{
			name: "room join",
			raw:  `{"type":"room:join","payload":{"user":{"uid":"alice"},"roomId":"r1"}}`,
			want: RoomJoin{User: Participant{UID: "alice"}, RoomID: "r1"},
		},
		{
			name: "message send",
			raw: `{"type":"message:send","payload":{"content":"hello","user":{"uid":"alice","roomId":"r1"},` +
				`"topic":"AI Ethics","topicIndex":0}}`,
			want: MessageSend{Content: "hello", User: Participant{UID: "alice", RoomID: "r1"}, Topic: "AI Ethics"},
		},
		{
			name: "typing",
			raw:  `{"type":"message:typing","payload":{"user":{"uid":"alice"},"topic":"introduction","topicIndex":-1}}`,
			want: MessageTyping{User: Participant{UID: "alice"}, Topic: "introduction", TopicIndex: -1},
		},
		{
			name: "server event sent by client",
			raw:  `{"type":"message:greeting","payload":"hi"}`,
			err:  ErrUnknownEvent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var e Event
			require.NoError(t, DecodeEvent(bytes.NewBufferString(tc.raw), &e))
			got, err := DecodeClientEvent(&e)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestServerEventEnvelope(t *testing.T) {
	receive := MessageReceive{
		Message: Message{ID: "m1", RoomID: "r1", Content: "hello", TopicIndex: 1, Sender: Participant{UID: "bob"}},
		Type:    MessageKindText,
		User:    Participant{UID: "bob"},
	}

	testCases := []struct {
		name    string
		payload ServerEvent
		fields  map[string]any
	}{
		{
			name:    "joined",
			payload: Joined{Status: JoinStatusOK, Users: []string{"alice"}},
			fields:  map[string]any{"status": "ok"},
		},
		{
			name:    "receive flattens message",
			payload: receive,
			fields:  map[string]any{"id": "m1", "content": "hello", "topicIndex": float64(1), "type": "text"},
		},
		{
			name:    "user typing",
			payload: UserTyping{User: Participant{UID: "bob"}},
			fields:  map[string]any{"user": map[string]any{"uid": "bob"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEvent(tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.payload.EventType(), e.Type)

			var body map[string]any
			require.NoError(t, json.Unmarshal(e.Payload, &body))
			for k, v := range tc.fields {
				assert.Equal(t, v, body[k], k)
			}

			decoded, err := DecodeServerEvent(e)
			require.NoError(t, err)
			assert.Equal(t, tc.payload, decoded)
		})
	}

	t.Run("greeting is a bare string", func(t *testing.T) {
		e, err := NewEvent(Greeting("welcome"))
		require.NoError(t, err)
		assert.JSONEq(t, `"welcome"`, string(e.Payload))
	})
}
