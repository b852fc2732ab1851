package midi

import (
	"errors"
	"sort"
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"

	"keyduet/bus"
	"keyduet/keys"
)

func TestKeyboardFoldsOctaves(t *testing.T) {
	m := keys.NewVirtual()
	kb, err := NewKeyboardController("test", nil, m)
	if err != nil {
		t.Fatal(err)
	}

	kb.Handle(gomidi.NoteOn(0, 60, 100)) // C4
	kb.Handle(gomidi.NoteOn(0, 72, 100)) // C5
	kb.Handle(gomidi.NoteOn(0, 64, 90))  // E4
	want := keys.Vector(0).With(0, true).With(4, true)
	if m.Keys() != want {
		t.Fatalf("keys = %s, want %s", m.Keys().Bits(), want.Bits())
	}

	kb.Handle(gomidi.NoteOff(0, 60))
	if !m.Keys().Pressed(0) {
		t.Fatal("C released while C5 still held")
	}
	kb.Handle(gomidi.NoteOn(0, 72, 0)) // running-status style note off
	if m.Keys().Pressed(0) {
		t.Fatal("C still held after both released")
	}

	if e := <-kb.Events(); e.Type != NoteOn || e.Note != 60 {
		t.Fatalf("first event = %+v", e)
	}

	_ = kb.Close()
	if m.Keys() != 0 {
		t.Fatalf("keys after close = %s", m.Keys().Bits())
	}
}

func TestKeyboardsShareMatrix(t *testing.T) {
	m := keys.NewVirtual()
	a, _ := NewKeyboardController("a", nil, m)
	b, _ := NewKeyboardController("b", nil, m)

	a.Handle(gomidi.NoteOn(0, 60, 100)) // C
	b.Handle(gomidi.NoteOn(0, 64, 100)) // E
	if want := keys.Vector(0).With(0, true).With(4, true); m.Keys() != want {
		t.Fatalf("keys = %s, want %s", m.Keys().Bits(), want.Bits())
	}

	b.Handle(gomidi.NoteOn(0, 48, 100)) // C on the other keyboard
	a.Handle(gomidi.NoteOff(0, 60))
	if !m.Keys().Pressed(0) {
		t.Fatal("C released while keyboard b still holds it")
	}

	_ = b.Close()
	if m.Keys() != 0 {
		t.Fatalf("keys after b closed = %s", m.Keys().Bits())
	}

	a.Handle(gomidi.NoteOn(0, 62, 100)) // D
	c, _ := NewKeyboardController("c", nil, m)
	c.Handle(gomidi.NoteOn(0, 67, 100)) // G
	_ = c.Close()
	if want := keys.Vector(0).With(2, true); m.Keys() != want {
		t.Fatalf("closing c released keyboard a's keys: %s", m.Keys().Bits())
	}
}

func TestKeyboardModWheel(t *testing.T) {
	m := keys.NewVirtual()
	kb, _ := NewKeyboardController("test", nil, m)

	kb.Handle(gomidi.ControlChange(0, ModWheel, 127))
	if m.Pending() != 0 {
		t.Fatalf("first wheel position turned the knob: %d", m.Pending())
	}
	kb.Handle(gomidi.ControlChange(0, ModWheel, 0))
	if m.Pending() != -8 {
		t.Fatalf("pending = %d, want -8", m.Pending())
	}
	kb.Handle(gomidi.ControlChange(0, ModWheel, 64))
	if m.Pending() != -4 {
		t.Fatalf("pending = %d, want -4", m.Pending())
	}
	kb.Handle(gomidi.ControlChange(0, 7, 0)) // volume CC is not the knob
	if m.Pending() != -4 {
		t.Fatalf("pending = %d after unrelated CC", m.Pending())
	}
}

func TestSysExFrameCodec(t *testing.T) {
	f := bus.Frame{'P', 5, 3, 0, 0, 0, 0, 0xFF}
	data := EncodeFrame(0x123, f)
	for i, b := range data {
		if b > 0x7F {
			t.Fatalf("byte %d = %#x is not 7-bit clean", i, b)
		}
	}
	if data[3] != 0x02 || data[4] != 0x23 {
		t.Fatalf("id bytes = % X", data[3:5])
	}
	id, got, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x123 || got != f {
		t.Fatalf("decoded %#x %v", id, got)
	}

	if _, _, err := DecodeFrame([]byte{0x00, 0x20, 0x29, 0x02}); !errors.Is(err, errNotBusSysEx) {
		t.Fatalf("err = %v", err)
	}
	bad := EncodeFrame(0x123, f)
	bad[6] = 0x10
	if _, _, err := DecodeFrame(bad); err == nil {
		t.Fatal("bad nibble accepted")
	}
}

func TestSysExDriverPair(t *testing.T) {
	var left, right *SysExDriver
	left = NewSysExDriver(func(m gomidi.Message) error { right.Handle(m); return nil })
	right = NewSysExDriver(func(m gomidi.Message) error { left.Handle(m); return nil })

	var got []bus.Frame
	right.OnReceive(func(id uint32, f bus.Frame) {
		if id == 0x123 {
			got = append(got, f)
		}
	})
	done := 0
	left.OnTransmitComplete(func() { done++ })

	if err := left.Transmit(0x123, bus.Frame{'R', 4, 9}); err != nil {
		t.Fatal(err)
	}
	right.Handle(gomidi.SysEx([]byte{0x00, 0x20, 0x29, 0x02, 0x0C, 0x00, 0x7F}))
	right.Handle(gomidi.NoteOn(0, 60, 100))

	if done != 1 || len(got) != 1 || got[0] != (bus.Frame{'R', 4, 9}) {
		t.Fatalf("done=%d got=%v", done, got)
	}

	_ = left.Close()
	if err := left.Transmit(0x123, bus.Frame{'P'}); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}

type fakeController struct {
	id     string
	closed bool
}

func (f *fakeController) ID() string           { return f.id }
func (f *fakeController) Events() <-chan Event { return nil }
func (f *fakeController) Close() error         { f.closed = true; return nil }

func TestDeviceManagerHotPlug(t *testing.T) {
	dm := NewDeviceManager("keyboard", keys.NewVirtual())
	ports := []string{"Midi Through Port-0", "USB Keyboard MIDI 1"}
	dm.listPorts = func() []string { return ports }
	opened := map[string]*fakeController{}
	dm.connect = func(name string) (Controller, error) {
		c := &fakeController{id: name}
		opened[name] = c
		return c, nil
	}

	dm.scan()
	if ids := dm.Connected(); len(ids) != 1 || ids[0] != "USB Keyboard MIDI 1" {
		t.Fatalf("connected = %v", ids)
	}
	if e := <-dm.Events(); e.Type != DeviceConnected || e.ID != "USB Keyboard MIDI 1" {
		t.Fatalf("event = %+v", e)
	}

	dm.scan() // no change, no duplicate connect
	if len(opened) != 1 || len(dm.Events()) != 0 {
		t.Fatalf("rescan reconnected: %v", opened)
	}

	ports = ports[:1]
	dm.scan()
	if !opened["USB Keyboard MIDI 1"].closed {
		t.Fatal("unplugged controller not closed")
	}
	if e := <-dm.Events(); e.Type != DeviceDisconnected {
		t.Fatalf("event = %+v", e)
	}
	if len(dm.Connected()) != 0 {
		t.Fatal("controller still listed")
	}
}

func TestDeviceManagerReportsFailures(t *testing.T) {
	dm := NewDeviceManager("", keys.NewVirtual())
	dm.listPorts = func() []string { return []string{"b", "a"} }
	dm.connect = func(name string) (Controller, error) {
		if name == "b" {
			return nil, errors.New("busy")
		}
		return &fakeController{id: name}, nil
	}
	dm.scan()

	var types []string
	for len(dm.Events()) > 0 {
		types = append(types, (<-dm.Events()).Type.String())
	}
	sort.Strings(types)
	if len(types) != 2 || types[0] != "connected" || types[1] != "failed" {
		t.Fatalf("events = %v", types)
	}
}
