// Package relay provides the HTTP implementation of domain.RelayClient.
//
// The relay is a store-and-forward service for protocol frames and a
// directory for key packages. This package offers a concrete HTTP
// client for talking to such a server.
//
// Supported operations include:
//   - Publishing our key package to the directory.
//   - Fetching a peer's key package.
//   - Sending an encrypted frame to a set of recipients.
//   - Streaming deliveries, queued backlog first, then live pushes.
//
// Requests are JSON over HTTP and accept a context for cancellation
// and deadlines. The receive stream is newline-delimited JSON held
// open until either side closes. Non-2xx statuses are returned as
// errors carrying the HTTP method, URL, status, and the server's
// reason when it sent one.
package relay
