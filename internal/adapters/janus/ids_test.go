package janus

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRoomIdentity(t *testing.T) {
	cases := []struct {
		name      string
		room      string
		feed      string
		stringIDs bool
		wantJSON  string
	}{
		{"numeric", "1234", "42", false, `{"room":1234,"id":42}`},
		{"forced strings", "1234", "42", true, `{"room":"1234","id":"42"}`},
		{"string room", "lobby", "42", false, `{"room":"lobby","id":"42"}`},
		{"string feed", "1234", "cam-1", false, `{"room":"1234","id":"cam-1"}`},
		{"negative is not numeric", "-5", "1", false, `{"room":"-5","id":"1"}`},
		{"max uint64", "18446744073709551615", "0", false, `{"room":18446744073709551615,"id":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ids := ResolveRoomIdentity(tc.room, tc.feed, tc.stringIDs)
			b, err := json.Marshal(struct {
				Room ID `json:"room"`
				ID   ID `json:"id"`
			}{ids.Room, ids.Feed})
			require.NoError(t, err)
			assert.JSONEq(t, tc.wantJSON, string(b))
			assert.Equal(t, tc.room, ids.Room.String())
			assert.Equal(t, tc.feed, ids.Feed.String())
		})
	}
}

func TestID_UnmarshalJSON(t *testing.T) {
	var n, s ID
	require.NoError(t, json.Unmarshal([]byte(`77`), &n))
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &s))
	assert.Equal(t, NumID(77), n)
	assert.Equal(t, StringID("abc"), s)

	var bad ID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &bad))
}

func TestRandomFeedID_IsUint32(t *testing.T) {
	for i := 0; i < 100; i++ {
		_, err := strconv.ParseUint(RandomFeedID(), 10, 32)
		require.NoError(t, err)
	}
}
