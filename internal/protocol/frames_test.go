package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

func TestEncodeParseMessageFrame(t *testing.T) {
	raw, err := Encode(TypeMessage, chat.Message{ID: "m1", ChannelID: "1", ChannelName: "general", Content: "hi"})
	require.NoError(t, err)

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, env.Type)

	var msg chat.Message
	require.NoError(t, env.DecodeData(&msg))
	assert.Equal(t, chat.ID("m1"), msg.ID)
	assert.Equal(t, "general", msg.ChannelName)
}

func TestParseEnvelopeRejectsMissingType(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeDataWithoutPayload(t *testing.T) {
	env, err := NewEnvelope(TypeConnected, nil)
	require.NoError(t, err)

	var frame ConnectedFrame
	assert.Error(t, env.DecodeData(&frame))
}
