package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"keyduet/debug"
	"keyduet/keys"
)

// KeyboardController plays a MIDI keyboard into a virtual key matrix. Notes
// are folded onto the 12 semitones; a semitone stays held while any octave of
// it is down. The mod wheel turns the knob.
type KeyboardController struct {
	id       string
	matrix   *keys.Virtual
	stopFunc func()

	mu      sync.Mutex
	held    [keys.NumKeys]int
	wheel   int
	wheelOK bool

	events chan Event
}

// NewKeyboardController listens on inPort and drives matrix. A nil port gives
// a controller that only reacts to Handle.
func NewKeyboardController(id string, inPort drivers.In, matrix *keys.Virtual) (*KeyboardController, error) {
	kb := &KeyboardController{
		id:     id,
		matrix: matrix,
		events: make(chan Event, 32),
	}

	if inPort != nil {
		stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
			kb.Handle(msg)
		})
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		kb.stopFunc = stop
	}

	return kb, nil
}

func (kb *KeyboardController) ID() string {
	return kb.id
}

func (kb *KeyboardController) Events() <-chan Event {
	return kb.events
}

// Handle applies one MIDI message.
func (kb *KeyboardController) Handle(msg gomidi.Message) {
	var channel, note, velocity, value uint8
	switch {
	case msg.GetNoteOn(&channel, &note, &velocity) && velocity > 0:
		kb.noteDown(note)
		kb.emit(Event{Type: NoteOn, Channel: channel, Note: note, Velocity: velocity})
	case msg.GetNoteOff(&channel, &note, &velocity), msg.GetNoteOn(&channel, &note, &velocity):
		// NoteOn with velocity 0 lands here too
		kb.noteUp(note)
		kb.emit(Event{Type: NoteOff, Channel: channel, Note: note})
	case msg.GetControlChange(&channel, &note, &value) && note == ModWheel:
		kb.wheelTo(value)
		kb.emit(Event{Type: CC, Channel: channel, Note: note, Velocity: value})
	}
}

func (kb *KeyboardController) noteDown(note uint8) {
	i := int(note % keys.NumKeys)
	kb.mu.Lock()
	kb.held[i]++
	first := kb.held[i] == 1
	kb.mu.Unlock()
	if first {
		kb.matrix.Hold(i)
	}
}

func (kb *KeyboardController) noteUp(note uint8) {
	i := int(note % keys.NumKeys)
	kb.mu.Lock()
	last := false
	if kb.held[i] > 0 {
		kb.held[i]--
		last = kb.held[i] == 0
	}
	kb.mu.Unlock()
	if last {
		kb.matrix.Unhold(i)
	}
}

// wheelTo maps the wheel's 0-127 range onto knob detents. The first position
// seen is only a reference; later moves turn the knob by the difference.
func (kb *KeyboardController) wheelTo(value uint8) {
	detent := int(value) * keys.MaxRotation / 127
	kb.mu.Lock()
	prev, ok := kb.wheel, kb.wheelOK
	kb.wheel, kb.wheelOK = detent, true
	kb.mu.Unlock()
	if ok && detent != prev {
		kb.matrix.Turn(detent - prev)
		debug.Log("midi", "wheel %d -> knob %+d", value, detent-prev)
	}
}

func (kb *KeyboardController) emit(e Event) {
	select {
	case kb.events <- e:
	default:
	}
}

// Close stops listening and lets go of the keys this keyboard was holding.
// Keys held by other sources stay down.
func (kb *KeyboardController) Close() error {
	if kb.stopFunc != nil {
		kb.stopFunc()
		kb.stopFunc = nil
	}
	kb.mu.Lock()
	held := kb.held
	kb.held = [keys.NumKeys]int{}
	kb.mu.Unlock()
	for i, n := range held {
		if n > 0 {
			kb.matrix.Unhold(i)
		}
	}
	return nil
}
