package midi

// MIDI message types
const (
	NoteOn  uint8 = 0x90
	NoteOff uint8 = 0x80
	CC      uint8 = 0xB0
)

// ModWheel is the controller number mapped to the volume knob.
const ModWheel uint8 = 1

// Event is one key or knob change seen on an input port.
type Event struct {
	Type     uint8 // NoteOn, NoteOff, CC
	Channel  uint8
	Note     uint8 // MIDI note, or controller number for CC
	Velocity uint8 // velocity, or controller value for CC
}
