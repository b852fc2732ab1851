package midi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"keyduet/bus"
	"keyduet/debug"
)

// SysEx framing of a bus frame (between F0 and F7):
//
//	[7D]['K']['D'][idHi][idLo][hi0][lo0]...[hi7][lo7]
//
// 7D is the non-commercial manufacturer id. The identifier is split in two
// 7-bit halves and every frame byte in two nibbles so the payload stays 7-bit
// clean.
var sysexHeader = []byte{0x7D, 'K', 'D'}

const sysexPayloadSize = 3 + 2 + 2*bus.FrameSize

var errNotBusSysEx = errors.New("midi: not a bus sysex")

// EncodeFrame returns the SysEx payload for one frame.
func EncodeFrame(id uint32, f bus.Frame) []byte {
	out := make([]byte, 0, sysexPayloadSize)
	out = append(out, sysexHeader...)
	out = append(out, byte(id>>7)&0x7F, byte(id)&0x7F)
	for _, b := range f {
		out = append(out, b>>4, b&0x0F)
	}
	return out
}

// DecodeFrame parses a SysEx payload produced by EncodeFrame.
func DecodeFrame(data []byte) (uint32, bus.Frame, error) {
	var f bus.Frame
	if len(data) != sysexPayloadSize || string(data[:3]) != string(sysexHeader) {
		return 0, f, errNotBusSysEx
	}
	id := uint32(data[3]&0x7F)<<7 | uint32(data[4]&0x7F)
	body := data[5:]
	for i := range f {
		hi, lo := body[2*i], body[2*i+1]
		if hi > 0x0F || lo > 0x0F {
			return 0, f, fmt.Errorf("midi: bad nibble at byte %d", i)
		}
		f[i] = hi<<4 | lo
	}
	return id, f, nil
}

// SysExDriver carries bus frames over a MIDI output/input pair. It implements
// bus.Driver; a transmit completes as soon as the message has been handed to
// the output port.
type SysExDriver struct {
	send func(gomidi.Message) error
	stop func()

	mu     sync.RWMutex
	onRx   func(uint32, bus.Frame)
	onDone func()
	filter bus.Filter

	closed atomic.Bool
}

// NewSysExDriver returns a driver that sends through send. Incoming messages
// are fed with Handle.
func NewSysExDriver(send func(gomidi.Message) error) *SysExDriver {
	return &SysExDriver{send: send}
}

// OpenSysEx finds the input and output ports whose names contain inName and
// outName (case-insensitive) and starts listening.
func OpenSysEx(inName, outName string) (*SysExDriver, error) {
	out, err := findOut(outName)
	if err != nil {
		return nil, err
	}
	in, err := findIn(inName)
	if err != nil {
		return nil, err
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	d := NewSysExDriver(send)
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
		d.Handle(msg)
	}, gomidi.UseSysEx())
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	d.stop = stop
	debug.Log("midi", "sysex bus on in=%q out=%q", in.String(), out.String())
	return d, nil
}

func (d *SysExDriver) Transmit(id uint32, f bus.Frame) error {
	if d.closed.Load() {
		return bus.ErrClosed
	}
	if err := d.send(gomidi.SysEx(EncodeFrame(id, f))); err != nil {
		return fmt.Errorf("midi: send sysex: %w", err)
	}
	d.mu.RLock()
	fn := d.onDone
	d.mu.RUnlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (d *SysExDriver) OnReceive(fn func(uint32, bus.Frame)) {
	d.mu.Lock()
	d.onRx = fn
	d.mu.Unlock()
}

func (d *SysExDriver) OnTransmitComplete(fn func()) {
	d.mu.Lock()
	d.onDone = fn
	d.mu.Unlock()
}

func (d *SysExDriver) SetFilter(f bus.Filter) {
	d.mu.Lock()
	d.filter = f
	d.mu.Unlock()
}

// Handle delivers msg if it is a bus frame; anything else is ignored.
func (d *SysExDriver) Handle(msg gomidi.Message) {
	if d.closed.Load() {
		return
	}
	var data []byte
	if !msg.GetSysEx(&data) {
		return
	}
	id, f, err := DecodeFrame(data)
	if err != nil {
		if !errors.Is(err, errNotBusSysEx) {
			debug.Log("midi", "dropped sysex: %v", err)
		}
		return
	}
	d.mu.RLock()
	fn, filter := d.onRx, d.filter
	d.mu.RUnlock()
	if fn != nil && filter.Accept(id) {
		fn(id, f)
	}
}

func (d *SysExDriver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.stop != nil {
		d.stop()
	}
	return nil
}

func findIn(name string) (drivers.In, error) {
	want := strings.ToLower(name)
	for _, p := range gomidi.GetInPorts() {
		if strings.Contains(strings.ToLower(p.String()), want) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("midi: no input port matching %q", name)
}

func findOut(name string) (drivers.Out, error) {
	want := strings.ToLower(name)
	for _, p := range gomidi.GetOutPorts() {
		if strings.Contains(strings.ToLower(p.String()), want) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("midi: no output port matching %q", name)
}
