package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Message is the contract internal/links requires of a typed payload:
// a fixed, self-contained binary encoding, independent of the raw
// byte regions that carry an object's marshalled body.
type Message interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// PapMessage is carried on the capability-passing channel: a freshly
// minted or transferred GlobalPointer, tagged with the sharing
// discipline and the rank that authored the underlying address.
type PapMessage struct {
	Pointer     GlobalPointer
	Author      uint32
	AccessLevel AccessLevel
}

const papMessageSize = 8 + 4 + 1

func (m PapMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, papMessageSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Pointer))
	binary.BigEndian.PutUint32(buf[8:12], m.Author)
	buf[12] = byte(m.AccessLevel)
	return buf, nil
}

func (m *PapMessage) UnmarshalBinary(b []byte) error {
	if len(b) != papMessageSize {
		return errors.Errorf("wire: pap message has %d bytes, want %d", len(b), papMessageSize)
	}
	m.Pointer = GlobalPointer(binary.BigEndian.Uint64(b[0:8]))
	m.Author = binary.BigEndian.Uint32(b[8:12])
	m.AccessLevel = AccessLevel(b[12])
	return nil
}

// DaemonOp enumerates the requests a Daemon serves on the remote
// channel, plus the broadcast used to drive cooperative shutdown.
type DaemonOp uint8

const (
	OpRLoad DaemonOp = iota
	OpRCInc
	OpRCDec
	OpRCGet
	OpPVTReset
	OpDMNEnd
)

func (op DaemonOp) String() string {
	switch op {
	case OpRLoad:
		return "RLOAD"
	case OpRCInc:
		return "RC_INC"
	case OpRCDec:
		return "RC_DEC"
	case OpRCGet:
		return "RC_GET"
	case OpPVTReset:
		return "PVT_RESET"
	case OpDMNEnd:
		return "DMN_END"
	default:
		return "UNKNOWN"
	}
}

// DaemonMessage is carried on the local/remote request-reply
// channels: an opcode addressed at a specific global pointer, tagged
// with the size the requester expects back (meaningful for RLOAD) and
// the rank the reply must be routed to.
type DaemonMessage struct {
	Op      DaemonOp
	Pointer GlobalPointer
	Size    uint64
	From    uint32
}

func (m DaemonMessage) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Op))
	var rest [20]byte
	binary.BigEndian.PutUint64(rest[0:8], uint64(m.Pointer))
	binary.BigEndian.PutUint64(rest[8:16], m.Size)
	binary.BigEndian.PutUint32(rest[16:20], m.From)
	buf.Write(rest[:])
	return buf.Bytes(), nil
}

const daemonMessageSize = 1 + 8 + 8 + 4

func (m *DaemonMessage) UnmarshalBinary(b []byte) error {
	if len(b) != daemonMessageSize {
		return errors.Errorf("wire: daemon message has %d bytes, want %d", len(b), daemonMessageSize)
	}
	m.Op = DaemonOp(b[0])
	m.Pointer = GlobalPointer(binary.BigEndian.Uint64(b[1:9]))
	m.Size = binary.BigEndian.Uint64(b[9:17])
	m.From = binary.BigEndian.Uint32(b[17:21])
	return nil
}
