// Package commands defines the conclave CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - register       Create your identity and publish its key package
//   - create-group   Start a new group with yourself as sole member
//   - add-member     Add a registered user to a group
//   - remove-member  Remove a member from a group
//   - update-group   Rotate your group key material
//   - members        List a group's members
//   - send           Encrypt and send a message to a group
//   - recv           Stream and decrypt incoming messages
//
// # Implementation
//
// The root command builds a dependency graph (store, engine, services,
// relay client) before any subcommand runs. Every command acts as one
// local user, named by --user; each user keeps a separate state
// database under --home.
package commands
