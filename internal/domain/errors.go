package domain

import "errors"

// Sentinel errors shared by services, stores, the engine, and the relay.
// Callers branch with errors.Is; wrapping adds context.
var (
	// ErrNotRegistered means no identity exists locally. Every group
	// operation requires a registered identity.
	ErrNotRegistered = errors.New("identity not registered")

	// ErrAlreadyRegistered guards the one-credential-per-name rule.
	ErrAlreadyRegistered = errors.New("identity already registered")

	ErrGroupNotFound      = errors.New("group not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrMemberExists       = errors.New("member already present")
	ErrKeyPackageNotFound = errors.New("no key package available")
	ErrInvalidKeyPackage  = errors.New("invalid key package")

	// ErrProtocolViolation marks traffic or engine output the protocol
	// forbids. It is fatal for the operation and never swallowed.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnknownSender marks a message whose sender is not a member of
	// the target group. Receivers log and drop such messages.
	ErrUnknownSender = errors.New("unknown sender")

	// ErrStaleEpoch marks a commit or welcome at or behind the local
	// epoch. Applying it is a no-op; state never rewinds.
	ErrStaleEpoch = errors.New("stale epoch")
)
