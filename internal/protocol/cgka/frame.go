package cgka

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"conclave/internal/domain"
)

// protocolVersion is checked on every decoded frame and key package.
const protocolVersion = 1

// Wire kinds. Values are part of the format; never renumber.
const (
	kindApplication uint8 = 1
	kindProposal    uint8 = 2
	kindCommit      uint8 = 3
	kindWelcome     uint8 = 4
	kindKeyPackage  uint8 = 5
	kindGroupInfo   uint8 = 6
)

// frame is the outer envelope of every protocol message.
type frame struct {
	Version uint16
	Kind    uint8
	Group   []byte // 16 bytes; empty for key packages
	Body    []byte
}

func encodeFrame(kind uint8, group []byte, body any) ([]byte, error) {
	raw, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return cbor.Marshal(frame{Version: protocolVersion, Kind: kind, Group: group, Body: raw})
}

func decodeFrame(raw []byte) (frame, error) {
	var f frame
	if err := cbor.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Version != protocolVersion {
		return frame{}, fmt.Errorf("protocol version %d not supported", f.Version)
	}
	return f, nil
}

func groupFromFrame(f frame) (domain.GroupID, error) {
	var g domain.GroupID
	if len(f.Group) != len(g) {
		return g, fmt.Errorf("frame group id has %d bytes, want %d", len(f.Group), len(g))
	}
	copy(g[:], f.Group)
	return g, nil
}

func domainKind(k uint8) domain.MessageKind {
	switch k {
	case kindApplication:
		return domain.KindApplication
	case kindProposal:
		return domain.KindProposal
	case kindCommit:
		return domain.KindCommit
	case kindWelcome:
		return domain.KindWelcome
	case kindKeyPackage:
		return domain.KindKeyPackage
	case kindGroupInfo:
		return domain.KindGroupInfo
	default:
		return domain.KindUnknown
	}
}

// frameAD binds sealed or AEAD payloads to their exact slot: label,
// group, epoch, and recipient-or-sender leaf index.
func frameAD(label string, group domain.GroupID, epoch uint64, index uint32) []byte {
	out := make([]byte, 0, len(label)+1+16+8+4)
	out = append(out, label...)
	out = append(out, '|')
	out = append(out, group[:]...)
	out = binary.BigEndian.AppendUint64(out, epoch)
	out = binary.BigEndian.AppendUint32(out, index)
	return out
}
