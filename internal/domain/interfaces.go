package domain

import "context"

// IdentityStore persists the local identity. LoadIdentity returns
// ErrNotRegistered when nothing has been saved; SaveIdentity returns
// ErrAlreadyRegistered when an identity is already present.
type IdentityStore interface {
	SaveIdentity(id Identity) error
	LoadIdentity() (Identity, error)
}

// GroupEngine is the group cryptographic engine: an opaque per-group
// state machine that owns membership trees, epoch secrets, and all
// commit/welcome/message cryptography. Callers sequence these
// capabilities and move the produced blobs; they never see group state.
type GroupEngine interface {
	// GenerateKeyPackage builds a signed last-resort key package for
	// the local identity and retains the private init key so a later
	// welcome sealed to the package can be opened.
	GenerateKeyPackage() ([]byte, error)

	// ValidateKeyPackage checks a fetched package: well-formed, signed,
	// flagged last-resort, and bound to the expected identity.
	ValidateKeyPackage(identity string, pkg []byte) error

	// InitGroup creates state for a new group with the local identity
	// as sole member.
	InitGroup(group GroupID) error

	// JoinFromWelcome derives group state from a welcome message and
	// returns the embedded group identifier.
	JoinFromWelcome(welcome []byte) (GroupID, error)

	// SelfUpdate stages a key-rotation commit for the local member.
	SelfUpdate(group GroupID) (commit []byte, err error)

	// AddMembers stages a commit adding the holders of the given key
	// packages, returning it together with the welcome for them.
	AddMembers(group GroupID, keyPackages [][]byte) (commit, welcome []byte, err error)

	// RemoveMembers stages a commit removing the named members. A
	// removal never yields a welcome; the second return value exists
	// so callers can assert that.
	RemoveMembers(group GroupID, members []string) (commit, welcome []byte, err error)

	// MergeCommit applies the staged commit to local state, advancing
	// the epoch.
	MergeCommit(group GroupID) error

	// Encrypt protects an application payload under the current epoch.
	Encrypt(group GroupID, plaintext []byte) ([]byte, error)

	// Inspect classifies a protocol message without consuming it.
	Inspect(raw []byte) (MessageKind, GroupID, error)

	// ProcessIncoming consumes an application message, proposal, or
	// commit and reports what happened.
	ProcessIncoming(raw []byte) (Event, error)

	// Members lists the live membership by credential identity.
	Members(group GroupID) ([]string, error)
}

// KeyPackageValidator is the directory-side acceptance check for
// uploaded key packages.
type KeyPackageValidator interface {
	Validate(identity string, pkg []byte) error
}

// IdentityService creates and publishes the local identity.
type IdentityService interface {
	Register(ctx context.Context, name string) error
}

// GroupService drives the group membership lifecycle.
type GroupService interface {
	Create(ctx context.Context) (GroupID, error)
	Update(ctx context.Context, group GroupID) error
	Add(ctx context.Context, group GroupID, member string) error
	Remove(ctx context.Context, group GroupID, member string) error
	Members(group GroupID) ([]string, error)
}

// MessageService sends application messages and runs the receive loop.
type MessageService interface {
	Send(ctx context.Context, group GroupID, plaintext []byte) error
	Receive(ctx context.Context, deliver func(Event)) error
}
