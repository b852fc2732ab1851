// Package midi connects MIDI hardware to a keyboard unit: a MIDI keyboard can
// stand in for the key matrix and knob, and a pair of MIDI ports can carry bus
// frames as SysEx.
package midi

// Controller is an input device feeding the key matrix.
type Controller interface {
	ID() string
	// Events reports every handled message. Sends never block; a slow
	// reader misses events, not keys.
	Events() <-chan Event
	Close() error
}

// DeviceEvent is emitted when controllers connect/disconnect
type DeviceEvent struct {
	Type DeviceEventType
	ID   string
	Err  error // set when a matching port could not be opened
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
	DeviceFailed
)

func (t DeviceEventType) String() string {
	switch t {
	case DeviceConnected:
		return "connected"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceFailed:
		return "failed"
	}
	return "unknown"
}
