package domain

import "github.com/google/uuid"

// GroupID identifies a group for its whole lifetime. It is a random
// 128-bit identifier assigned at creation.
type GroupID [16]byte

// NewGroupID returns a fresh random group identifier.
func NewGroupID() GroupID { return GroupID(uuid.New()) }

// ParseGroupID parses the canonical UUID form used on the command line.
func ParseGroupID(s string) (GroupID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupID{}, err
	}
	return GroupID(u), nil
}

func (g GroupID) String() string { return uuid.UUID(g).String() }

func (g GroupID) Slice() []byte { return g[:] }

// IsZero reports whether g is the zero identifier.
func (g GroupID) IsZero() bool { return g == GroupID{} }
