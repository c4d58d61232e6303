// Package store provides persistent storage for chathub using SQLite.
//
// # Architecture
//
// The store package splits persistence into small interfaces that consumers
// can depend on individually:
//
//   - UserStore: minimal user profiles (username, display name, activity)
//   - GroupStore: conversation groups and the live connections enrolled in them
//   - MessageStore: direct messages with read receipts and two-sided deletion
//
// Store combines all three with Ping and Close. SQLiteStore implements Store
// in a single struct; MockStore is an in-memory equivalent for tests.
//
// # Data Models
//
//   - User: identity key plus KnownAs display name
//   - Message: sender, recipient, content, send time, nullable read time and
//     per-side deleted flags
//   - Group: deterministic two-party name plus its Connection records
//   - Connection: one live transport connection enrolled in one group
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single pooled connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width RFC 3339 strings in UTC so that
// ORDER BY on the text column matches chronological order.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateUser: username already taken
//   - ErrDuplicateConnection: connection is already enrolled in a group
//   - ErrDuplicateMessage: sender reused a client message id
//   - ErrNotParticipant: user is neither sender nor recipient
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests. MockStore.FailOn injects errors into a
// named method so callers can exercise persistence failures.
package store
