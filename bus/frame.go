// Package bus carries note messages between keyboard units. A Transport sits
// on top of a Driver (the hardware stand-in) and provides the bounded outbound
// and inbound queues, the transmit mailbox limit and the task loops that
// drain them.
package bus

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("bus: timeout")
	ErrClosed      = errors.New("bus: closed")
	ErrMailboxFull = errors.New("bus: no free mailbox")
	ErrUnknownKind = errors.New("bus: unknown message kind")
	ErrNoteRange   = errors.New("bus: note out of range")
	ErrChecksum    = errors.New("bus: checksum mismatch")
	ErrShortFrame  = errors.New("bus: short frame")
)

// FrameSize is the payload size of every bus frame.
const FrameSize = 8

// DefaultID is the identifier units transmit with.
const DefaultID uint32 = 0x123

// MaxID is the largest standard (11-bit) identifier.
const MaxID uint32 = 0x7FF

// Frame is one raw 8-byte payload.
type Frame [FrameSize]byte

// FrameFrom copies b into a Frame. Extra bytes are ignored.
func FrameFrom(b []byte) (Frame, error) {
	var f Frame
	if len(b) < FrameSize {
		return f, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	copy(f[:], b)
	return f, nil
}

func (f Frame) String() string {
	return fmt.Sprintf("% X", f[:])
}

// Kind is the message type carried in byte 0.
type Kind byte

const (
	Press   Kind = 'P'
	Release Kind = 'R'
)

func (k Kind) Valid() bool {
	return k == Press || k == Release
}

func (k Kind) String() string {
	switch k {
	case Press:
		return "Press"
	case Release:
		return "Release"
	}
	return fmt.Sprintf("Kind(%#02x)", byte(k))
}

// Message is a decoded note event.
type Message struct {
	Kind   Kind
	Octave uint8
	Note   uint8 // semitone 0-11
}

func (m Message) String() string {
	return fmt.Sprintf("%s oct=%d note=%d", m.Kind, m.Octave, m.Note)
}

// Encode builds the wire frame:
//
//	[kind][octave][note][0][0][0][0][0]
func (m Message) Encode() (Frame, error) {
	var f Frame
	if !m.Kind.Valid() {
		return f, fmt.Errorf("%w: %#02x", ErrUnknownKind, byte(m.Kind))
	}
	if m.Note >= 12 {
		return f, fmt.Errorf("%w: %d", ErrNoteRange, m.Note)
	}
	f[0] = byte(m.Kind)
	f[1] = m.Octave
	f[2] = m.Note
	return f, nil
}

// Decode reads the first three bytes of f; the rest are ignored. The returned
// message is filled in even when an error is reported, so callers can still
// use the octave of a frame with an unknown kind.
func Decode(f Frame) (Message, error) {
	m := Message{Kind: Kind(f[0]), Octave: f[1], Note: f[2]}
	if !m.Kind.Valid() {
		return m, fmt.Errorf("%w: %#02x", ErrUnknownKind, f[0])
	}
	if m.Note >= 12 {
		return m, fmt.Errorf("%w: %d", ErrNoteRange, m.Note)
	}
	return m, nil
}

// Filter is an acceptance filter: an identifier passes when it matches ID on
// every bit set in Mask. The zero Filter accepts everything.
type Filter struct {
	ID   uint32
	Mask uint32
}

func (f Filter) Accept(id uint32) bool {
	return id&f.Mask == f.ID&f.Mask
}
