package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerURL(t *testing.T) {
	testCases := []struct {
		raw    string
		want   string
		stream string
		err    bool
	}{
		{raw: "http://localhost:8080", want: "http://localhost:8080", stream: "ws://localhost:8080/ws"},
		{raw: "https://arena.example.com/", want: "https://arena.example.com", stream: "wss://arena.example.com/ws"},
		{raw: "https://arena.example.com/chat", want: "https://arena.example.com/chat", stream: "wss://arena.example.com/chat/ws"},
		{raw: "", err: true},
		{raw: "ftp://arena.example.com", err: true},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := serverURL(tc.raw)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			stream, err := StreamURL(got)
			require.NoError(t, err)
			assert.Equal(t, tc.stream, stream)
			assert.Equal(t, tc.want+"/api", APIURL(got))
		})
	}
}
