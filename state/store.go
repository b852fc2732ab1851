// Package state owns the unit's shared record: the key vector, the volume
// knob, what the peer last sent, the active frequency table and the bus
// status flags. Everything goes through Update and Snapshot, which hold the
// lock only while the closure runs or the record is copied.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"keyduet/keys"
	"keyduet/tuning"
)

// ErrLockTimeout is returned when the store lock could not be taken within the
// configured timeout.
var ErrLockTimeout = errors.New("state: lock timeout")

// FrameSize is the size of a raw bus frame.
const FrameSize = 8

// Status holds the bus outcome flags and counters shown on the display.
type Status struct {
	TxOK    bool // last transmit accepted by the driver
	TxFault bool // a transmit has failed since start; never cleared
	RxOK    bool // at least one frame received

	Sent       uint64
	TxFailures uint64
	Received   uint64
	RxOverruns uint64 // frames lost because the inbound queue was full
	Malformed  uint64
	Timeouts   uint64 // queue or mailbox waits that hit their timeout
}

// Record is the lock-protected part of the state.
type Record struct {
	Keys         keys.Vector
	Rotation     int
	RemoteOctave int
	Table        tuning.Table

	LastRX [FrameSize]byte
	HasRX  bool

	Status
}

// Snapshot is a copy of the record plus the values of the lock-free cells at
// the time it was taken.
type Snapshot struct {
	Record
	StepSize     uint32
	RemoteStep   uint32
	LockTimeouts uint64
}

// Options configure a new Store.
type Options struct {
	LockTimeout  time.Duration // zero waits forever
	Rotation     int
	RemoteOctave int
	Table        tuning.Table
}

// Store is the single owner of the shared record.
type Store struct {
	lock    *semaphore.Weighted
	timeout time.Duration
	rec     Record

	step       Cell
	remoteStep Cell
	volume     Cell

	lockTimeouts atomic.Uint64
}

// New creates a store. The rotation is clamped to the knob range.
func New(opts Options) *Store {
	s := &Store{
		lock:    semaphore.NewWeighted(1),
		timeout: opts.LockTimeout,
		rec: Record{
			Rotation:     keys.ClampRotation(opts.Rotation, 0),
			RemoteOctave: opts.RemoteOctave,
			Table:        opts.Table,
		},
	}
	s.volume.Store(uint32(s.rec.Rotation))
	return s
}

func (s *Store) acquire(ctx context.Context) error {
	if s.timeout <= 0 {
		if err := s.lock.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("state: acquire: %w", err)
		}
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.lock.Acquire(tctx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("state: acquire: %w", ctx.Err())
		}
		s.lockTimeouts.Add(1)
		return ErrLockTimeout
	}
	return nil
}

// Update runs fn with exclusive access to the record. fn must not block or do
// I/O. The volume cell is refreshed from the record before the lock is released.
func (s *Store) Update(ctx context.Context, fn func(*Record)) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Release(1)
	fn(&s.rec)
	s.rec.Rotation = keys.ClampRotation(s.rec.Rotation, 0)
	s.volume.Store(uint32(s.rec.Rotation))
	return nil
}

// Snapshot copies the record out under the lock.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := s.acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	rec := s.rec
	s.lock.Release(1)
	return Snapshot{
		Record:       rec,
		StepSize:     s.step.Load(),
		RemoteStep:   s.remoteStep.Load(),
		LockTimeouts: s.lockTimeouts.Load(),
	}, nil
}

// Step is the local voice's phase increment, read by the sample routine.
func (s *Store) Step() *Cell {
	return &s.step
}

// RemoteStep is the peer voice's phase increment (zero unless remote voice is on).
func (s *Store) RemoteStep() *Cell {
	return &s.remoteStep
}

// Volume mirrors Record.Rotation for lock-free reads.
func (s *Store) Volume() *Cell {
	return &s.volume
}
