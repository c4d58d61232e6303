// Package gateway runs the chathub HTTP server.
//
// # Overview
//
// The gateway owns the store and the messaging hub and exposes them over
// one HTTP server: a websocket endpoint for live conversations and a small
// JSON API for mailbox operations. It listens on TCP or, when configured,
// on a Tailscale tsnet node.
//
// # Endpoints
//
//	GET    /health                          liveness, no auth
//	GET    /health/ready                    store ping, no auth
//	GET    /api/messages?container=&limit=  Inbox, Outbox or Unread (default)
//	POST   /api/messages                    send {recipient_username, content, client_message_id}
//	DELETE /api/messages/{id}               delete for the caller
//	GET    /api/messages/thread/{username}  thread with username, marks it read
//	GET    /api/presence                    online usernames
//	GET    /hubs/message?user=<username>    websocket conversation with username
//
// Everything except health needs a JWT, sent as "Authorization: Bearer" or
// in the access_token query parameter (browsers cannot set headers on a
// websocket upgrade).
//
// # Websocket Protocol
//
// Each connection joins one conversation group. The server pushes
// UpdatedGroup, ReceiveMessageThread, NewMessage, NewMessageReceived,
// UserIsOnline and UserIsOffline events. Clients invoke SendMessage:
//
//	{"type":"SendMessage","id":"1","payload":{"content":"hi","client_message_id":"m-1"}}
//
// and receive a Completion with the same id carrying the stored message,
// a duplicate flag or an error.
//
// Every connection has a bounded send queue. A connection that falls that
// far behind is closed with a policy violation status and is expected to
// reconnect; the thread it receives on join brings it up to date.
//
// # Shutdown
//
// Shutdown stops the HTTP server, closes open websockets and waits for their
// sessions to leave their groups before the hub and store are closed.
package gateway
