// Package relayserver implements the store-and-forward relay.
//
// It serves three concerns: a key package directory clients publish to
// at registration, a durable per-recipient message queue in sqlite,
// and live delivery over long-lived NDJSON streams. A send either
// lands in the recipient's live stream or falls into the queue; a
// receive first takes over the queued backlog, then stays connected
// for live pushes. The relay sees only ciphertext.
package relayserver
