// Package store provides bolt-backed persistence for a client's local
// state.
//
// One database file holds everything a single identity owns: the
// identity itself, per-group protocol state, and the key-package init
// key. Records are CBOR. bbolt serialises access, so the store is safe
// for concurrent use.
package store
