package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AgentMessage(t *testing.T) {
	env := Envelope{
		Kind:    KindAgentMessage,
		Sender:  "0xabc",
		Content: json.RawMessage(`{"roomId":"room-1","roundId":"r1","agentId":"a","text":"hello","timestamp":42}`),
	}

	msg, err := Decode(env)
	require.NoError(t, err)

	content, isAgent := msg.(AgentContent)
	require.True(t, isAgent)
	assert.Equal(t, "room-1", content.RoomID)
	assert.Equal(t, "hello", content.Text)
	assert.Equal(t, int64(42), content.Timestamp)
}

func TestDecode_GmMessageWithIgnoreErrors(t *testing.T) {
	env := Envelope{
		Kind:    KindGmMessage,
		Content: json.RawMessage(`{"roomId":"room-1","roundId":"r1","gmId":"gm","targets":["a","b"],"text":"round over","ignoreErrors":true}`),
	}

	msg, err := Decode(env)
	require.NoError(t, err)

	content := msg.(GmContent)
	assert.True(t, content.IgnoreErrors)
	assert.Equal(t, []string{"a", "b"}, content.Targets)
}

func TestDecode_ObservationCarriesRawData(t *testing.T) {
	env := Envelope{
		Kind:    KindObservationMessage,
		Content: json.RawMessage(`{"roomId":"room-1","roundId":"r1","agentId":"a","data":{"score":3}}`),
	}

	msg, err := Decode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":3}`, string(msg.(ObservationContent).Data))
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode(Envelope{Kind: "teleportMessage", Content: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_MalformedContent(t *testing.T) {
	_, err := Decode(Envelope{Kind: KindAgentMessage, Content: json.RawMessage(`"not an object`)})
	assert.ErrorIs(t, err, ErrMalformedContent)
}

func TestEnvelope_KindFieldIsMessageKind(t *testing.T) {
	var env Envelope
	raw := `{"messageKind":"heartbeat","sender":"s","signature":"sig","content":{"timestamp":7}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, KindHeartbeat, env.Kind)

	msg, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.(HeartbeatContent).Timestamp)
}

func TestNewOutbound_TagsKindFromContent(t *testing.T) {
	out := NewOutbound("router", ParticipantCountContent{RoomID: "room-1", Count: 5})

	assert.Equal(t, KindParticipantCount, out.Kind)
	assert.Equal(t, "router", out.Sender)

	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"messageKind":"participantCount","sender":"router","content":{"roomId":"room-1","count":5}}`,
		string(encoded))
}
