// Package events publishes domain events to NATS.
//
// After a message is persisted the hub calls Publisher.MessageCreated. The
// NATS implementation sends a small JSON document (ids, participants, group,
// time and whether it was read on arrival, never the content) on
// "<prefix>.message.created". Tail subscribes to the same subject and is
// used by the CLI to watch traffic.
package events
