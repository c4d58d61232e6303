// ABOUTME: Tests for the hub wire protocol
// ABOUTME: Pins event names and JSON field names that clients depend on

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chathub/internal/store"
)

func TestEventNamesAreStable(t *testing.T) {
	assert.Equal(t, "SendMessage", TypeSendMessage)
	assert.Equal(t, "UpdatedGroup", TypeUpdatedGroup)
	assert.Equal(t, "ReceiveMessageThread", TypeReceiveMessageThread)
	assert.Equal(t, "NewMessage", TypeNewMessage)
	assert.Equal(t, "NewMessageReceived", TypeNewMessageReceived)
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"type":"SendMessage","id":"7","payload":{"content":"hi","client_message_id":"m-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSendMessage, env.Type)
	assert.Equal(t, "7", env.ID)

	req, err := env.DecodeSendMessage()
	require.NoError(t, err)
	assert.Equal(t, "hi", req.Content)
	assert.Equal(t, "m-1", req.ClientMessageID)
	assert.Empty(t, req.RecipientUsername)
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":     `hello`,
		"missing type": `{"id":"1"}`,
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestDecodeSendMessage_Malformed(t *testing.T) {
	env := &Envelope{Type: TypeSendMessage}
	_, err := env.DecodeSendMessage()
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	env.Payload = json.RawMessage(`"just a string"`)
	_, err = env.DecodeSendMessage()
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEncode_Completion(t *testing.T) {
	data, err := Encode(Completion("42", CompletionPayload{Error: "User Not Found"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Completion","id":"42","payload":{"error":"User Not Found"}}`, string(data))
}

func TestEncode_NewMessageReceived(t *testing.T) {
	data, err := Encode(Event{
		Type:    TypeNewMessageReceived,
		Payload: NewMessageReceivedPayload{SenderUsername: "bob", SenderKnownAs: "Bob"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"NewMessageReceived","payload":{"sender_username":"bob","sender_known_as":"Bob"}}`, string(data))
}

func TestNewMessageDTO(t *testing.T) {
	sent := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	read := sent.Add(time.Minute)
	dto := NewMessageDTO(&store.Message{
		ID:                "m1",
		SenderUsername:    "bob",
		RecipientUsername: "lisa",
		Content:           "**hi**",
		MessageSent:       sent,
		DateRead:          &read,
	})

	assert.Equal(t, "m1", dto.ID)
	assert.Equal(t, "<p><strong>hi</strong></p>\n", dto.ContentHTML)
	assert.Equal(t, time.UTC, dto.MessageSent.Location())
	require.NotNil(t, dto.DateRead)
	assert.True(t, dto.DateRead.Equal(read))

	data, err := json.Marshal(dto)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"id", "sender_username", "recipient_username", "content", "content_html", "message_sent", "date_read"} {
		assert.Contains(t, fields, key)
	}
}

func TestNewMessageDTO_UnreadEncodesNull(t *testing.T) {
	data, err := json.Marshal(NewMessageDTO(&store.Message{ID: "m1", MessageSent: time.Now()}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date_read":null`)
}

func TestNewMessageDTOs_EmptyIsArray(t *testing.T) {
	data, err := json.Marshal(ReceiveMessageThreadPayload{Messages: NewMessageDTOs(nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[]}`, string(data))
}

func TestNewGroupDTO(t *testing.T) {
	dto := NewGroupDTO(&store.Group{
		Name: "bob|lisa",
		Connections: []store.Connection{
			{ConnectionID: "c1", Username: "bob"},
			{ConnectionID: "c2", Username: "lisa"},
		},
	})
	assert.Equal(t, "bob|lisa", dto.Name)
	assert.Equal(t, []MemberDTO{{"c1", "bob"}, {"c2", "lisa"}}, dto.Members)

	data, err := json.Marshal(UpdatedGroupPayload{Group: NewGroupDTO(&store.Group{Name: "a|b"})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"group":{"name":"a|b","members":[]}}`, string(data))
}

func TestRenderMarkdown_OmitsRawHTML(t *testing.T) {
	out := RenderMarkdown("<script>alert(1)</script>")
	assert.NotContains(t, out, "<script>")
}
