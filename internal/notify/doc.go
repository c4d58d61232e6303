// Package notify pushes hub events to live connections.
//
// The Dispatcher keeps a directory of attached connections keyed by
// connection id. Notify resolves an identity to its connections through the
// presence registry; SendTo targets explicit ids such as a group's members;
// Broadcast reaches everyone. Each delivery is independent: a connection
// whose Send fails is logged and skipped.
package notify
