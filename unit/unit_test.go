package unit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"keyduet/bus"
	"keyduet/config"
	"keyduet/tuning"
)

func TestOpenDriverModes(t *testing.T) {
	h := bus.NewHub()
	cfg := config.DefaultConfig()

	for _, mode := range []config.BusMode{config.BusLoopback, config.BusHub} {
		cfg.Bus.Mode = mode
		drv, err := OpenDriver(cfg, h)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if _, ok := drv.(*bus.Node); !ok {
			t.Fatalf("%s: driver %T", mode, drv)
		}
	}

	cfg.Bus.Mode = "carrier-pigeon"
	if _, err := OpenDriver(cfg, h); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestDuetConfig(t *testing.T) {
	left := config.DefaultConfig()
	left.RemoteVoice = true
	left.Audio.Record = "out.wav"
	right, err := Duet(left)
	if err != nil {
		t.Fatal(err)
	}
	if right.Octave != 5 || right.UnitID != 0x124 || right.Bus.Mode != config.BusHub {
		t.Fatalf("right = %+v", right)
	}
	if right.RemoteVoice || right.Audio.Record != "" {
		t.Fatal("right unit must not play or record")
	}
	if left.Octave != 4 {
		t.Fatal("left config modified")
	}

	left.Octave = tuning.MaxOctave
	if _, err := Duet(left); err == nil {
		t.Fatal("duet above the top octave accepted")
	}
}

func TestDuetOverHub(t *testing.T) {
	leftCfg := config.DefaultConfig()
	leftCfg.Bus.Mode = config.BusHub
	leftCfg.ScanPeriodMs = 2
	rightCfg, _ := Duet(leftCfg)

	h := bus.NewHub()
	b, _ := tuning.NewBuilder(leftCfg.SampleRate)
	ld, _ := OpenDriver(leftCfg, h)
	rd, _ := OpenDriver(rightCfg, h)
	left := New("left", leftCfg, ld, b)
	right := New("right", rightCfg, rd, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 3)
	go func() { _ = h.Run(ctx); done <- struct{}{} }()
	go func() { _ = left.Engine.Run(ctx); done <- struct{}{} }()
	go func() { _ = right.Engine.Run(ctx); done <- struct{}{} }()
	defer func() {
		cancel()
		for i := 0; i < 3; i++ {
			<-done
		}
	}()

	right.Matrix.Press(4)
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := left.Engine.Status(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.HasRX && st.RemoteOctave == 5 {
			if st.LastRX != [8]byte{'P', 5, 4} {
				t.Fatalf("last rx = %v", st.LastRX)
			}
			if st.LastRX[0] == 'P' && st.Table != tuning.Build(5) {
				t.Fatal("left table not rebuilt for the right unit's octave")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("left unit never heard the right one")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunAudioRecordsWithSoftwareClock(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audio.Backend = "null"
	cfg.SampleRate = 1000
	cfg.Audio.RecordSeconds = 1
	cfg.Audio.Record = filepath.Join(t.TempDir(), "take.wav")

	h := bus.NewHub()
	b, _ := tuning.NewBuilder(cfg.SampleRate)
	drv, _ := OpenDriver(cfg, h)
	u := New("solo", cfg, drv, b)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := RunAudio(ctx, cfg, u.Engine.Synth()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(cfg.Audio.Record)
	if err != nil {
		t.Fatal(err)
	}
	// one second of 16-bit mono, padded, plus the header
	if info.Size() <= 2*1000 {
		t.Fatalf("wav size = %d", info.Size())
	}
}
