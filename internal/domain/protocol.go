package domain

// MessageKind classifies a protocol message by its envelope tag. The
// relay never reads it; clients dispatch on it when receiving.
type MessageKind uint8

const (
	KindUnknown MessageKind = iota
	KindApplication
	KindProposal
	KindCommit
	KindWelcome
	KindKeyPackage
	KindGroupInfo
)

func (k MessageKind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindProposal:
		return "proposal"
	case KindCommit:
		return "commit"
	case KindWelcome:
		return "welcome"
	case KindKeyPackage:
		return "key-package"
	case KindGroupInfo:
		return "group-info"
	default:
		return "unknown"
	}
}

// Event is the outcome of consuming one incoming protocol message.
type Event struct {
	Kind  MessageKind
	Group GroupID

	// Sender and Plaintext are set for application messages.
	Sender    string
	Plaintext []byte

	// Epoch is the group epoch after a commit or welcome was applied.
	Epoch uint64

	// Removed reports that a commit ended our own membership.
	Removed bool
}
