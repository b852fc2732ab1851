package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"keyduet/bus"
	"keyduet/config"
	"keyduet/debug"
	"keyduet/midi"
	"keyduet/theme"
	"keyduet/tui"
	"keyduet/tuning"
	"keyduet/unit"
)

type flags struct {
	configPath   string
	octave       int
	busMode      string
	serialPort   string
	baud         int
	midiIn       string
	midiOut      string
	keySource    string
	midiKeys     string
	audio        string
	record       string
	recordSecs   int
	remoteVoice  bool
	inferSkipped bool
	palette      string
	duet         bool
	headless     bool
	debug        bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "config", "", "config file (.json or .yaml), default ~/.config/keyduet/config.json")
	flag.IntVar(&f.octave, "octave", 4, "local octave 0-8")
	flag.StringVar(&f.busMode, "bus", "loopback", "bus driver: loopback, hub, serial or midi")
	flag.StringVar(&f.serialPort, "serial", "", "serial port for -bus serial")
	flag.IntVar(&f.baud, "baud", 115200, "serial baud rate")
	flag.StringVar(&f.midiIn, "midi-in", "", "MIDI input port for -bus midi")
	flag.StringVar(&f.midiOut, "midi-out", "", "MIDI output port for -bus midi")
	flag.StringVar(&f.keySource, "keys", "virtual", "key source: virtual or midi")
	flag.StringVar(&f.midiKeys, "midi-keys", "", "MIDI keyboard port name pattern for -keys midi")
	flag.StringVar(&f.audio, "audio", "oto", "audio backend: oto or null")
	flag.StringVar(&f.record, "record", "", "record the output to this WAV file")
	flag.IntVar(&f.recordSecs, "record-seconds", 10, "length of the recording")
	flag.BoolVar(&f.remoteVoice, "remote-voice", false, "also play the other unit's notes")
	flag.BoolVar(&f.inferSkipped, "infer-skipped", false, "count a skipped knob phase as two detents")
	flag.StringVar(&f.palette, "palette", "", "GIMP palette file for the display")
	flag.BoolVar(&f.duet, "duet", false, "run two units an octave apart on an in-process bus")
	flag.BoolVar(&f.headless, "headless", false, "no terminal UI, print status lines instead")
	flag.BoolVar(&f.debug, "debug", false, "write a debug log to ~/.config/keyduet/debug.log")
	flag.Parse()
	return f
}

// apply copies the flags given on the command line over cfg.
func (f *flags) apply(cfg *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "octave":
			cfg.Octave = f.octave
		case "bus":
			cfg.Bus.Mode = config.BusMode(f.busMode)
		case "serial":
			cfg.Bus.SerialPort = f.serialPort
		case "baud":
			cfg.Bus.Baud = f.baud
		case "midi-in":
			cfg.Bus.MidiIn = f.midiIn
		case "midi-out":
			cfg.Bus.MidiOut = f.midiOut
		case "keys":
			cfg.Keys.Source = f.keySource
		case "midi-keys":
			cfg.Keys.MidiPort = f.midiKeys
		case "audio":
			cfg.Audio.Backend = f.audio
		case "record":
			cfg.Audio.Record = f.record
		case "record-seconds":
			cfg.Audio.RecordSeconds = f.recordSecs
		case "remote-voice":
			cfg.RemoteVoice = f.remoteVoice
		case "infer-skipped":
			cfg.Knob.InferSkipped = f.inferSkipped
		case "debug":
			cfg.Debug = f.debug
		}
	})
}

func loadConfig(f *flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	f.apply(cfg)
	if f.duet {
		// both units share the in-process bus and the left one voices the right
		cfg.Bus.Mode = config.BusHub
		cfg.RemoteVoice = true
	}
	return cfg, cfg.Validate()
}

func main() {
	f := parseFlags()
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, f *flags) error {
	if cfg.Debug {
		path := cfg.LogPath
		if path == "" {
			path = debug.DefaultPath()
		}
		if err := debug.Enable(path); err != nil {
			return err
		}
		defer debug.Disable()
	}

	palette := theme.Default()
	if f.palette != "" {
		p, err := theme.LoadGPL(f.palette)
		if err != nil {
			return err
		}
		palette = p
	}
	th := theme.New(palette)

	b, err := tuning.NewBuilder(cfg.SampleRate)
	if err != nil {
		return err
	}

	hub := bus.NewHub()
	cfgs := []*config.Config{cfg}
	names := []string{"solo"}
	if f.duet {
		right, err := unit.Duet(cfg)
		if err != nil {
			return err
		}
		cfgs = append(cfgs, right)
		names = []string{"left", "right"}
	}

	var units []*unit.Unit
	for i, c := range cfgs {
		drv, err := unit.OpenDriver(c, hub)
		if err != nil {
			return fmt.Errorf("%s: open bus: %w", names[i], err)
		}
		u := unit.New(names[i], c, drv, b)
		defer u.Close()
		units = append(units, u)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var deviceMgr *midi.DeviceManager
	if cfg.Keys.Source == "midi" {
		deviceMgr = midi.NewDeviceManager(cfg.Keys.MidiPort, units[0].Matrix)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	for _, u := range units {
		g.Go(func() error { return u.Engine.Run(gctx) })
	}
	g.Go(func() error { return unit.RunAudio(gctx, cfg, units[0].Engine.Synth()) })
	if deviceMgr != nil {
		g.Go(func() error { return deviceMgr.Run(gctx) })
	}

	if f.headless || !term.IsTerminal(int(os.Stdout.Fd())) {
		g.Go(func() error { return printStatus(gctx, units) })
	} else {
		var tuiUnits []tui.Unit
		for i, u := range units {
			m := u.Matrix
			if i == 0 && deviceMgr != nil {
				m = nil
			}
			tuiUnits = append(tuiUnits, tui.Unit{Name: u.Name, Engine: u.Engine, Matrix: m})
		}
		p := tea.NewProgram(tui.NewModel(tuiUnits, deviceMgr, th), tea.WithAltScreen(), tea.WithContext(gctx))
		g.Go(func() error {
			defer cancel()
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printStatus writes one line per unit every second until ctx is done.
func printStatus(ctx context.Context, units []*unit.Unit) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, u := range units {
				st, err := u.Engine.Status(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Printf("%-5s status: %v\n", u.Name, err)
					continue
				}
				fmt.Printf("%-5s keys %s vol %d step %d  remote octave %d  sent %d recv %d fail %d overrun %d malformed %d\n",
					u.Name, st.Keys, st.Rotation, st.StepSize, st.RemoteOctave,
					st.Sent, st.Received, st.TxFailures, st.RxOverruns, st.Malformed)
			}
		}
	}
}
