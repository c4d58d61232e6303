// Package dedupe makes message sends idempotent. A sender's client message
// id is claimed before the message is persisted. The claim stays pending
// until the send commits it after a successful save or releases it after a
// failed one. A retry that arrives while the claim is pending waits for it
// to settle, so a duplicate is only reported once the first copy is stored.
// Committed claims expire after the TTL window.
package dedupe
