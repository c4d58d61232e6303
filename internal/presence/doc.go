// Package presence tracks which users currently have live connections.
//
// Registry is the in-process source of truth: identity -> set of connection
// ids. Presence is a population, not a flag. A user with a phone and a
// laptop connected stays online until both disconnect, and Add/Remove
// report the first-connection and last-connection transitions so callers
// can announce online and offline exactly once.
//
// Mirror publishes those transitions outward. RedisMirror keeps a Redis set
// of online identities for other processes to read; NopMirror is used when
// no mirror is configured.
package presence
