// Package unit assembles a keyboard unit from its configuration: the bus
// driver, the engine, the key matrix and the audio output.
package unit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"keyduet/bus"
	"keyduet/config"
	"keyduet/debug"
	"keyduet/engine"
	"keyduet/keys"
	"keyduet/midi"
	"keyduet/synth"
	"keyduet/tuning"
)

// Unit is one assembled keyboard.
type Unit struct {
	Name      string
	Engine    *engine.Engine
	Matrix    *keys.Virtual
	Transport *bus.Transport
}

// OpenDriver returns the bus driver cfg asks for. Loopback and hub modes
// attach to h, which the caller must run.
func OpenDriver(cfg *config.Config, h *bus.Hub) (bus.Driver, error) {
	switch cfg.Bus.Mode {
	case config.BusLoopback:
		return h.Node(true), nil
	case config.BusHub:
		return h.Node(false), nil
	case config.BusSerial:
		s, err := bus.OpenSerial(cfg.Bus.SerialPort, cfg.Bus.Baud)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BusMIDI:
		d, err := midi.OpenSysEx(cfg.Bus.MidiIn, cfg.Bus.MidiOut)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown bus mode %q", cfg.Bus.Mode)
}

// New builds a unit over drv.
func New(name string, cfg *config.Config, drv bus.Driver, b *tuning.Builder) *Unit {
	tr := bus.New(drv, bus.Options{
		ID:             cfg.UnitID,
		QueueDepth:     cfg.Bus.QueueDepth,
		Mailboxes:      cfg.Bus.Mailboxes,
		SendTimeout:    cfg.SendTimeout(),
		MailboxTimeout: cfg.MailboxTimeout(),
	})
	m := keys.NewVirtual()
	e := engine.New(m, tr, b, engine.Options{
		Octave:       cfg.Octave,
		ScanPeriod:   cfg.ScanPeriod(),
		LockTimeout:  cfg.LockTimeout(),
		InferSkipped: cfg.Knob.InferSkipped,
		RemoteVoice:  cfg.RemoteVoice,
	})
	debug.Log("engine", "unit %s: octave %d id %#x bus %s", name, cfg.Octave, cfg.UnitID, cfg.Bus.Mode)
	return &Unit{Name: name, Engine: e, Matrix: m, Transport: tr}
}

// Close releases the bus driver.
func (u *Unit) Close() error {
	return u.Transport.Close()
}

// RunAudio drives the unit's synthesizer until ctx is done, through the audio
// device or, for the null backend or when no device can be opened, a software
// clock. With audio.record set the output is also captured to a WAV file.
func RunAudio(ctx context.Context, cfg *config.Config, s *synth.Synth) error {
	var tap io.Writer
	if cfg.Audio.Record != "" {
		rec, err := synth.CreateRecorder(cfg.Audio.Record, cfg.SampleRate, cfg.Audio.RecordSeconds)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				debug.Warn("audio", "close recording: %v", err)
			}
		}()
		tap = rec
	}

	if cfg.Audio.Backend == "oto" {
		p, err := synth.OpenPlayer(s, cfg.SampleRate, tap)
		if err == nil {
			p.Start()
			<-ctx.Done()
			return p.Close()
		}
		debug.Warn("audio", "no audio device, using software clock: %v", err)
	}
	return synth.RunClock(ctx, s, cfg.SampleRate, tap)
}

// Duet derives the right-hand unit's config from the left's: one octave up
// and the next bus id.
func Duet(left *config.Config) (*config.Config, error) {
	if left.Octave >= tuning.MaxOctave {
		return nil, errors.New("duet needs an octave below the top one")
	}
	right := *left
	right.Octave++
	right.UnitID++
	right.Bus.Mode = config.BusHub
	right.RemoteVoice = false
	right.Audio.Record = ""
	return &right, nil
}
