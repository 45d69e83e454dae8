// Package cgka is the group cryptographic engine: continuous group-key
// agreement over a flat member list. Every commit fans a fresh random
// epoch secret out to the continuing members, sealed per member to their
// leaf key; welcomes seal the same secret to the newcomer's key-package
// init key. Application payloads are encrypted with keys derived from
// the epoch secret, and every frame is signed by its sender's Ed25519
// credential.
//
// The engine owns its wire format (CBOR frames) and its persistence
// format (opaque CBOR snapshots written through StateStore). Callers
// drive it exclusively through domain.GroupEngine and treat all produced
// blobs as opaque.
package cgka
