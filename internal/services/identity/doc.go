// Package identity creates the local identity and publishes its key
// package to the relay directory.
package identity
