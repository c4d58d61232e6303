// ABOUTME: Wire protocol for the messaging hub: JSON envelopes, event names and payloads
// ABOUTME: Event names are part of the client contract and must not change

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound invocation names
const (
	TypeSendMessage = "SendMessage"
)

// Outbound event names
const (
	TypeUpdatedGroup         = "UpdatedGroup"
	TypeReceiveMessageThread = "ReceiveMessageThread"
	TypeNewMessage           = "NewMessage"
	TypeNewMessageReceived   = "NewMessageReceived"
	TypeUserIsOnline         = "UserIsOnline"
	TypeUserIsOffline        = "UserIsOffline"
	TypeCompletion           = "Completion"
)

// ErrMalformedEnvelope is returned when an inbound frame is not a valid envelope
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one inbound frame. ID is chosen by the client and echoed in
// the matching Completion.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is one outbound frame.
type Event struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// SendMessageRequest is the payload of a SendMessage invocation. Over the
// websocket the recipient defaults to the conversation counterpart.
type SendMessageRequest struct {
	RecipientUsername string `json:"recipient_username,omitempty" validate:"omitempty,max=64"`
	Content           string `json:"content" validate:"required,max=4096"`
	ClientMessageID   string `json:"client_message_id,omitempty" validate:"omitempty,max=128"`
}

// UpdatedGroupPayload carries the current membership of a conversation group
type UpdatedGroupPayload struct {
	Group GroupDTO `json:"group"`
}

// ReceiveMessageThreadPayload carries the thread delivered on join
type ReceiveMessageThreadPayload struct {
	Messages []MessageDTO `json:"messages"`
}

// NewMessagePayload carries a persisted message to group members
type NewMessagePayload struct {
	Message MessageDTO `json:"message"`
}

// NewMessageReceivedPayload tells a user elsewhere that someone wrote to them
type NewMessageReceivedPayload struct {
	SenderUsername string `json:"sender_username"`
	SenderKnownAs  string `json:"sender_known_as"`
}

// PresencePayload announces a user coming online or going offline
type PresencePayload struct {
	Username string `json:"username"`
}

// CompletionPayload reports the outcome of an invocation
type CompletionPayload struct {
	Error     string      `json:"error,omitempty"`
	Duplicate bool        `json:"duplicate,omitempty"`
	Message   *MessageDTO `json:"message,omitempty"`
}

// Decode parses an inbound frame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return &env, nil
}

// DecodeSendMessage parses the payload of a SendMessage envelope.
func (e *Envelope) DecodeSendMessage() (*SendMessageRequest, error) {
	var req SendMessageRequest
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &req, nil
}

// Encode serializes an outbound frame.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	return data, nil
}

// Completion builds the reply to invocation id.
func Completion(id string, payload CompletionPayload) Event {
	return Event{Type: TypeCompletion, ID: id, Payload: payload}
}
