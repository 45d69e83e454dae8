// Package main runs the conclave relay: the key-package directory and
// store-and-forward message switch that clients talk to. It persists
// everything in SQLite and pushes to connected clients over streaming
// HTTP.
//
// HTTP API
//
//	POST /v1/keypackages/{client}
//	    Publish {client}'s key package. The relay verifies the package
//	    signature, its last-resort flag, and that the embedded
//	    credential names {client} before accepting it.
//
//	GET /v1/keypackages/{client}
//	    Return the most recently published key package for {client}.
//
//	POST /v1/messages
//	    Fan one ciphertext out to a list of recipients. The relay
//	    assigns a single message id and timestamp for the whole
//	    fan-out, delivers to recipients with a live stream, and queues
//	    for everyone else.
//
//	GET /v1/messages/{client}
//	    Stream deliveries for {client} as NDJSON. Queued messages are
//	    replayed in send order first, then the stream stays open for
//	    live pushes. Reconnecting displaces the previous stream.
//
//	GET /metrics
//	    Prometheus metrics.
//
//	GET /healthz
//	    Liveness probe.
//
// Behaviour
//
//   - Queued messages survive restarts; they live in SQLite until a
//     recipient connects and drains them.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - An access log records method, path, remote, status, bytes and
//     duration for each request.
//   - The default listen address is 127.0.0.1:8080.
//
// The relay is an untrusted middleman: it never sees plaintext or
// private keys, only ciphertext frames and public key packages.
package main
