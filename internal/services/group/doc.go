// Package group drives group membership: creating groups, rotating
// keys, and adding or removing members, with commit fan-out over the
// relay.
package group
