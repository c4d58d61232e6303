// Package hub coordinates real-time two-party messaging.
//
// # Sessions
//
// Every transport connection gets a Session bound to one counterpart. Its
// lifecycle is Connecting -> Joined -> Disconnected:
//
//   - Join registers the connection in the presence registry, enrolls it in
//     the conversation group, sends UpdatedGroup to every member, marks the
//     counterpart's unread messages read and sends ReceiveMessageThread to
//     this connection only.
//   - SendMessage persists a message and fans it out (see below).
//   - Disconnect leaves the group, sends UpdatedGroup to the remaining
//     members and unregisters the connection. Every step is attempted even
//     if an earlier one fails.
//
// A failed Join is fatal for the connection; a failed SendMessage is not.
//
// # Group names
//
// Both participants must land in the same group whoever connects first, so
// the name is the two normalized identities in byte order joined by "|":
//
//	GroupName("lisa", "bob") == GroupName("bob", "lisa") == "bob|lisa"
//
// # Presence decision
//
// When a message is sent the hub looks at the conversation group:
//
//   - recipient has a live connection in the group: the message is stored
//     already read and no notification is sent
//   - recipient is connected elsewhere: the message is stored unread and
//     each of the recipient's connections gets NewMessageReceived
//   - recipient is offline: stored unread, nothing is pushed
//
// Nothing is pushed unless the message was persisted. After persisting,
// NewMessage goes to every live connection in the group, so the sender's
// other devices see it too. A membership row only counts while its
// connection is still registered in the presence registry.
//
// # Errors
//
// Errors wrap one of ErrValidation, ErrNotFound, ErrForbidden or
// ErrPersistence. ErrDuplicateMessage reports a retried client message id
// whose first copy is stored, and is an acknowledgement rather than a
// failure. A retry that arrives while the first copy is still being saved
// waits for that save to finish.
package hub
