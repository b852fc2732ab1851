// Package engine runs one keyboard unit: the scan task, the bus TX and RX
// tasks and the shared state they meet in. The sample clock is driven
// separately from the cells exposed through Synth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"keyduet/bus"
	"keyduet/debug"
	"keyduet/keys"
	"keyduet/state"
	"keyduet/synth"
	"keyduet/tuning"
)

// DefaultScanPeriod is the key and knob polling period.
const DefaultScanPeriod = 50 * time.Millisecond

// Options configure an Engine.
type Options struct {
	Octave       int           // this unit's octave, sent with every note
	ScanPeriod   time.Duration // DefaultScanPeriod when zero
	LockTimeout  time.Duration // zero waits forever
	InferSkipped bool          // count a skipped knob detent in the last direction
	RemoteVoice  bool          // play the peer's notes on a second oscillator
}

// Status is what the display shows: a copy of the shared state plus the
// transport counters.
type Status struct {
	state.Snapshot
	Octave int
	Bus    bus.Stats
}

// Engine owns one unit.
type Engine struct {
	opts    Options
	store   *state.Store
	scanner *keys.Scanner
	tr      *bus.Transport
	builder *tuning.Builder

	// owned by the RX task
	remoteOctave int
	remoteKeys   keys.Vector

	updates chan struct{}
}

// New wires an engine reading m and talking through tr. The active table
// starts at the reference octave until a peer says otherwise.
func New(m keys.Matrix, tr *bus.Transport, b *tuning.Builder, opts Options) *Engine {
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = DefaultScanPeriod
	}
	e := &Engine{
		opts:    opts,
		scanner: keys.NewScanner(m, opts.InferSkipped),
		tr:      tr,
		builder: b,
		store: state.New(state.Options{
			LockTimeout:  opts.LockTimeout,
			Rotation:     keys.InitialRotation,
			RemoteOctave: tuning.ReferenceOctave,
			Table:        b.Build(tuning.ReferenceOctave),
		}),
		remoteOctave: tuning.ReferenceOctave,
		updates:      make(chan struct{}, 1),
	}
	tr.HandlePackets(e.receive)
	tr.HandleTxResults(e.txResult)
	return e
}

// Store exposes the shared state.
func (e *Engine) Store() *state.Store {
	return e.store
}

// Synth returns a synthesizer reading this engine's cells. Each call returns a
// fresh one with its own accumulators.
func (e *Engine) Synth() *synth.Synth {
	s := synth.New(e.store.Step(), e.store.Volume())
	if e.opts.RemoteVoice {
		s.WithRemote(e.store.RemoteStep())
	}
	return s
}

// Updates is signalled (without blocking) whenever the state changes.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Status takes a snapshot for display.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Snapshot: snap, Octave: e.opts.Octave, Bus: e.tr.Stats()}
	st.RxOverruns = st.Bus.Overruns
	return st, nil
}

// Run starts the transport and the scan task and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tr.Run(ctx) })
	g.Go(func() error { return e.scanLoop(ctx) })
	return g.Wait()
}

func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.ScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.scanOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				debug.Warn("scan", "%v", err)
			}
		}
	}
}

// scanOnce samples the matrix, sends one frame per key edge and then stores
// the new key vector, knob rotation and step size.
func (e *Engine) scanOnce(ctx context.Context) error {
	sc := e.scanner.Scan()

	var sendErr error
	for _, edge := range sc.Edges {
		m := bus.Message{Kind: bus.Release, Octave: uint8(e.opts.Octave), Note: uint8(edge.Note)}
		if edge.Pressed {
			m.Kind = bus.Press
		}
		if err := e.tr.SendMessage(ctx, m); err != nil {
			if ctx.Err() != nil {
				return err
			}
			if errors.Is(err, bus.ErrTimeout) {
				e.count(func(r *state.Record) { r.Timeouts++ })
			}
			sendErr = errors.Join(sendErr, fmt.Errorf("send %s: %w", m, err))
			continue
		}
		debug.Log("scan", "queued %s", m)
	}

	err := e.store.Update(ctx, func(r *state.Record) {
		r.Keys = sc.Keys
		r.Rotation = keys.ClampRotation(r.Rotation, sc.KnobDelta)
		e.store.Step().Store(stepFor(r.Table, sc.Keys))
	})
	if err != nil {
		return errors.Join(sendErr, fmt.Errorf("store keys: %w", err))
	}
	if sc.KnobDelta != 0 {
		debug.Log("knob", "delta %+d", sc.KnobDelta)
	}
	if sc.Edges != nil || sc.KnobDelta != 0 {
		e.notify()
	}
	return sendErr
}

// stepFor applies the monophonic policy: the highest held key sounds.
func stepFor(t tuning.Table, v keys.Vector) uint32 {
	var step uint32
	for i := 0; i < keys.NumKeys; i++ {
		if v.Pressed(i) {
			step = t[i]
		}
	}
	return step
}

// receive is the RX task's per-frame handler.
func (e *Engine) receive(p bus.Packet) {
	ctx := context.Background()
	m, derr := bus.Decode(p.Frame)
	if derr != nil {
		debug.Log("rx", "frame %s from %#x: %v", p.Frame, p.ID, derr)
	}

	// The table is built before the lock is taken and swapped in whole.
	var table *tuning.Table
	if int(m.Octave) != e.remoteOctave {
		t := e.builder.Build(int(m.Octave))
		table = &t
		debug.Log("rx", "remote octave %d -> %d, table rebuilt", e.remoteOctave, m.Octave)
		e.remoteOctave = int(m.Octave)
	}

	err := e.store.Update(ctx, func(r *state.Record) {
		r.LastRX = p.Frame
		r.HasRX = true
		r.RxOK = true
		r.Received++
		if derr != nil {
			r.Malformed++
		}
		if table != nil {
			r.RemoteOctave = int(m.Octave)
			r.Table = *table
			e.store.Step().Store(stepFor(r.Table, r.Keys))
		}
	})
	if err != nil {
		debug.Warn("rx", "store frame: %v", err)
		if table != nil {
			// Not installed; try again on the next frame.
			e.remoteOctave = -1
		}
		return
	}

	if e.opts.RemoteVoice && derr == nil {
		e.playRemote(m)
	}
	e.notify()
}

// playRemote tracks the peer's held keys and sets the second oscillator to
// the highest of them at the frame's octave.
func (e *Engine) playRemote(m bus.Message) {
	e.remoteKeys = e.remoteKeys.With(int(m.Note), m.Kind == bus.Press)
	e.store.RemoteStep().Store(stepFor(e.builder.Build(int(m.Octave)), e.remoteKeys))
}

// txResult records the outcome of each transmit attempt.
func (e *Engine) txResult(err error) {
	switch {
	case err == nil:
		e.count(func(r *state.Record) {
			r.TxOK = true
			r.Sent++
		})
	case errors.Is(err, bus.ErrTimeout):
		e.count(func(r *state.Record) { r.Timeouts++ })
	default:
		e.count(func(r *state.Record) {
			r.TxOK = false
			r.TxFault = true
			r.TxFailures++
		})
	}
	e.notify()
}

func (e *Engine) count(fn func(*state.Record)) {
	if err := e.store.Update(context.Background(), fn); err != nil {
		debug.Warn("engine", "update status: %v", err)
	}
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
