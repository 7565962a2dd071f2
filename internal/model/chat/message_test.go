package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshalNestedPayload(t *testing.T) {
	raw := `{"id":42,"channel":{"id":1,"name":"general"},"author":{"id":"6f1c","username":"alice"},"content":"hi"}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, ID("42"), msg.ID)
	assert.Equal(t, ID("1"), msg.ChannelID)
	assert.Equal(t, "general", msg.ChannelName)
	assert.Equal(t, ID("6f1c"), msg.AuthorID)
	assert.Equal(t, "alice", msg.AuthorName)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, int64(42), msg.Seq, "numeric id stands in for a missing seq")
	assert.True(t, msg.SeqFromID)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"seq"`, "an id-derived hint is not written back as seq")
}

func TestMessageUnmarshalFlatPayload(t *testing.T) {
	raw := `{"id":"m1","channelId":1,"authorId":"u1","content":"hi","seq":7}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, ID("m1"), msg.ID)
	assert.Equal(t, ID("1"), msg.ChannelID)
	assert.Equal(t, ID("u1"), msg.AuthorID)
	assert.Equal(t, int64(7), msg.Seq)
	assert.False(t, msg.SeqFromID)
}

func TestMessageMarshalUsesNestedShape(t *testing.T) {
	msg := Message{ID: "9", ChannelID: "2", ChannelName: "random", AuthorID: "u1", AuthorName: "bob", Content: "yo", Seq: 3}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 9, decoded["id"])
	assert.Equal(t, map[string]any{"id": float64(2), "name": "random"}, decoded["channel"])
	assert.Equal(t, map[string]any{"id": "u1", "username": "bob"}, decoded["author"])
	assert.NotContains(t, decoded, "createdAt")
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`[1, "2", "m3", null]`), &ids))
	assert.Equal(t, []ID{"1", "2", "m3", ""}, ids)

	var bad ID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &bad))
}

func TestIDInt64RejectsNonCanonicalForms(t *testing.T) {
	_, ok := ID("007").Int64()
	assert.False(t, ok)

	n, ok := ID("7").Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
}

func TestMessageValidate(t *testing.T) {
	assert.ErrorIs(t, Message{ChannelID: "1"}.Validate(), ErrMissingMessageID)
	assert.ErrorIs(t, Message{ID: "m1"}.Validate(), ErrMissingChannelID)
	assert.NoError(t, Message{ID: "m1", ChannelID: "1"}.Validate())
}
