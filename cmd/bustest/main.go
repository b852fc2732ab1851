package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"keyduet/bus"
	"keyduet/midi"
	"keyduet/tuning"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	var err error
	switch os.Args[1] {
	case "ports":
		listPorts()
	case "table":
		err = printTable(os.Args[2:])
	case "send":
		err = sendFrame(os.Args[2:])
	case "sniff":
		err = sniff(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Bus Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  ports                          - List serial and MIDI ports")
	fmt.Println("  table [-octave N] [-rate R]    - Print the step size table")
	fmt.Println("  send  <link flags> P|R oct n   - Send one press or release frame")
	fmt.Println("  sniff <link flags>             - Print every frame received")
	fmt.Println("")
	fmt.Println("Link flags: -serial PORT [-baud B] or -midi-in NAME -midi-out NAME")
}

func listPorts() {
	fmt.Println("=== Serial Ports ===")
	ports, err := bus.SerialPorts()
	if err != nil {
		fmt.Printf("  error: %v\n", err)
	}
	for i, p := range ports {
		fmt.Printf("  %d: %s\n", i, p)
	}

	fmt.Println("\n=== MIDI Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")
	type result struct{ ins, outs []string }
	ch := make(chan result, 1)
	go func() {
		ins, outs := midi.PortNames()
		ch <- result{ins, outs}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  in  %d: %s\n", i, p)
		}
		for i, p := range r.outs {
			fmt.Printf("  out %d: %s\n", i, p)
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! The MIDI service is not answering.")
	}
}

func printTable(args []string) error {
	fs := flag.NewFlagSet("table", flag.ExitOnError)
	octave := fs.Int("octave", tuning.ReferenceOctave, "octave 0-8")
	rate := fs.Int("rate", tuning.DefaultSampleRate, "sample rate in Hz")
	fs.Parse(args)

	b, err := tuning.NewBuilder(*rate)
	if err != nil {
		return err
	}
	oct := tuning.ClampOctave(*octave)
	t := b.Build(oct)
	fmt.Printf("octave %d at %d Hz\n", oct, *rate)
	for i, step := range t {
		hz := float64(step) * float64(*rate) / (1 << 32)
		fmt.Printf("  %-2s  %10d  %8.2f Hz\n", tuning.NoteName(i), step, hz)
	}
	return nil
}

type link struct {
	serial  string
	baud    int
	midiIn  string
	midiOut string
	id      uint
}

func linkFlags(name string) (*flag.FlagSet, *link) {
	l := &link{}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&l.serial, "serial", "", "serial port")
	fs.IntVar(&l.baud, "baud", 115200, "serial baud rate")
	fs.StringVar(&l.midiIn, "midi-in", "", "MIDI input port")
	fs.StringVar(&l.midiOut, "midi-out", "", "MIDI output port")
	fs.UintVar(&l.id, "id", uint(bus.DefaultID), "frame identifier")
	return fs, l
}

func (l *link) open() (bus.Driver, error) {
	switch {
	case l.serial != "":
		fmt.Printf("Using serial port %s at %d baud\n", l.serial, l.baud)
		s, err := bus.OpenSerial(l.serial, l.baud)
		if err != nil {
			return nil, err
		}
		return s, nil
	case l.midiIn != "" || l.midiOut != "":
		fmt.Printf("Using MIDI out %q, in %q\n", l.midiOut, l.midiIn)
		d, err := midi.OpenSysEx(l.midiIn, l.midiOut)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("no link given")
}

func sendFrame(args []string) error {
	fs, l := linkFlags("send")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		usage()
		return fmt.Errorf("send needs a kind, an octave and a note")
	}

	var msg bus.Message
	switch strings.ToUpper(rest[0]) {
	case "P":
		msg.Kind = bus.Press
	case "R":
		msg.Kind = bus.Release
	default:
		return fmt.Errorf("kind %q is not P or R", rest[0])
	}
	if _, err := fmt.Sscan(rest[1], &msg.Octave); err != nil {
		return fmt.Errorf("octave: %w", err)
	}
	if _, err := fmt.Sscan(rest[2], &msg.Note); err != nil {
		return fmt.Errorf("note: %w", err)
	}

	drv, err := l.open()
	if err != nil {
		return err
	}
	tr := bus.New(drv, bus.Options{ID: uint32(l.id), SendTimeout: time.Second, MailboxTimeout: time.Second})
	defer tr.Close()

	result := make(chan error, 1)
	tr.HandleTxResults(func(err error) {
		select {
		case result <- err:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go tr.Run(ctx)

	f, err := msg.Encode()
	if err != nil {
		return err
	}
	fmt.Printf("Sending: %s [%s]\n", msg.Kind, f)
	if err := tr.Send(ctx, f); err != nil {
		return err
	}
	select {
	case err := <-result:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("no transmit result")
	}
	fmt.Println("Done!")
	return nil
}

func sniff(args []string) error {
	fs, l := linkFlags("sniff")
	fs.Parse(args)

	drv, err := l.open()
	if err != nil {
		return err
	}
	defer drv.Close()

	fmt.Println("Listening for frames. Ctrl+C to exit.")
	drv.OnReceive(func(id uint32, f bus.Frame) {
		stamp := time.Now().Format("15:04:05.000")
		m, err := bus.Decode(f)
		if err != nil {
			fmt.Printf("[%s] %03X [%s] %v\n", stamp, id, f, err)
			return
		}
		fmt.Printf("[%s] %03X [%s] %s %s%d\n", stamp, id, f, m.Kind, tuning.NoteName(int(m.Note)), m.Octave)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}
