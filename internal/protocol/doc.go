// Package protocol defines the JSON frames exchanged with hub clients.
//
// Every frame is an envelope:
//
//	{"type": "SendMessage", "id": "1", "payload": {"content": "hi"}}
//
// Clients send SendMessage invocations and receive a Completion carrying the
// same id. The server pushes UpdatedGroup, ReceiveMessageThread, NewMessage,
// NewMessageReceived, UserIsOnline and UserIsOffline events without an id.
package protocol
