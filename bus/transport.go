package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"keyduet/debug"
)

// Defaults for a unit's transport.
const (
	DefaultQueueDepth = 36
	DefaultMailboxes  = 3
)

// Options configure a Transport. Zero timeouts wait forever.
type Options struct {
	ID             uint32
	QueueDepth     int
	Mailboxes      int
	SendTimeout    time.Duration // waiting for room in the outbound queue
	MailboxTimeout time.Duration // waiting for a free mailbox
}

func (o Options) withDefaults() Options {
	if o.ID == 0 {
		o.ID = DefaultID
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.Mailboxes <= 0 {
		o.Mailboxes = DefaultMailboxes
	}
	return o
}

// Packet is a received frame with the identifier it arrived under.
type Packet struct {
	ID    uint32
	Frame Frame
}

// Stats is a point-in-time view of the queues and mailboxes.
type Stats struct {
	Queued   int // frames waiting in the outbound queue
	Inbound  int // frames waiting in the inbound queue
	InFlight int // mailboxes holding an unacknowledged frame
	Overruns uint64
	Spurious uint64 // transmit completions with nothing in flight
}

// Transport owns the outbound and inbound queues and the mailbox semaphore.
type Transport struct {
	drv  Driver
	opts Options

	out chan Frame
	in  chan Packet

	mailboxes *semaphore.Weighted
	inFlight  atomic.Int32
	overruns  atomic.Uint64
	spurious  atomic.Uint64

	mu         sync.RWMutex
	onPacket   func(Packet)
	onTxResult func(error)

	running atomic.Bool
	done    chan struct{}
}

// New wraps drv and registers the receive and transmit-complete handlers.
func New(drv Driver, opts Options) *Transport {
	opts = opts.withDefaults()
	t := &Transport{
		drv:       drv,
		opts:      opts,
		out:       make(chan Frame, opts.QueueDepth),
		in:        make(chan Packet, opts.QueueDepth),
		mailboxes: semaphore.NewWeighted(int64(opts.Mailboxes)),
		done:      make(chan struct{}),
	}
	drv.OnReceive(t.receive)
	drv.OnTransmitComplete(t.transmitComplete)
	return t
}

// ID returns the identifier frames are sent with.
func (t *Transport) ID() uint32 {
	return t.opts.ID
}

// HandlePackets sets the function the RX task calls for each received frame,
// in arrival order.
func (t *Transport) HandlePackets(fn func(Packet)) {
	t.mu.Lock()
	t.onPacket = fn
	t.mu.Unlock()
}

// HandleTxResults sets the function the TX task calls after each transmit
// attempt: nil on success, the driver's error on failure, or ErrTimeout when
// no mailbox freed up in time (the frame is then retried).
func (t *Transport) HandleTxResults(fn func(error)) {
	t.mu.Lock()
	t.onTxResult = fn
	t.mu.Unlock()
}

// Send queues f for transmission, blocking while the outbound queue is full.
func (t *Transport) Send(ctx context.Context, f Frame) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	// Fast path: room in the queue.
	select {
	case t.out <- f:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if t.opts.SendTimeout > 0 {
		timer := time.NewTimer(t.opts.SendTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case t.out <- f:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: outbound queue full", ErrTimeout)
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage encodes m and queues it.
func (t *Transport) SendMessage(ctx context.Context, m Message) error {
	f, err := m.Encode()
	if err != nil {
		return err
	}
	return t.Send(ctx, f)
}

// Run drives the TX and RX tasks until ctx is cancelled. It may be called once.
func (t *Transport) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("bus: transport already running")
	}
	defer close(t.done)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.txLoop(ctx) })
	g.Go(func() error { return t.rxLoop(ctx) })
	return g.Wait()
}

// Close closes the driver.
func (t *Transport) Close() error {
	return t.drv.Close()
}

// Stats reports queue fill, mailboxes in use and receive overruns.
func (t *Transport) Stats() Stats {
	return Stats{
		Queued:   len(t.out),
		Inbound:  len(t.in),
		InFlight: int(t.inFlight.Load()),
		Overruns: t.overruns.Load(),
		Spurious: t.spurious.Load(),
	}
}

func (t *Transport) txLoop(ctx context.Context) error {
	var spurious uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-t.out:
			if n := t.spurious.Load(); n != spurious {
				debug.Warn("tx", "%d spurious transmit completions", n-spurious)
				spurious = n
			}
			if !t.acquireMailbox(ctx) {
				return nil
			}
			t.inFlight.Add(1)
			err := t.drv.Transmit(t.opts.ID, f)
			if err != nil {
				// Not accepted, so no completion will come for it.
				t.releaseMailbox()
				debug.Log("tx", "transmit %s failed: %v", f, err)
			} else {
				debug.LogEvery(50, "tx", "transmitted %s", f)
			}
			t.reportTx(err)
		}
	}
}

// acquireMailbox waits for a free mailbox, reporting each timeout and trying
// again. It returns false only when ctx is done.
func (t *Transport) acquireMailbox(ctx context.Context) bool {
	for {
		if t.opts.MailboxTimeout <= 0 {
			return t.mailboxes.Acquire(ctx, 1) == nil
		}
		actx, cancel := context.WithTimeout(ctx, t.opts.MailboxTimeout)
		err := t.mailboxes.Acquire(actx, 1)
		cancel()
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		debug.Warn("tx", "no free mailbox after %s (%d in flight)", t.opts.MailboxTimeout, t.inFlight.Load())
		t.reportTx(fmt.Errorf("%w: waiting for mailbox", ErrTimeout))
	}
}

func (t *Transport) rxLoop(ctx context.Context) error {
	var overruns uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-t.in:
			// Overruns only happen while the queue is full, so there is
			// always a frame behind them to report from.
			if n := t.overruns.Load(); n != overruns {
				debug.Warn("rx", "inbound queue full, %d frames dropped (%d total)", n-overruns, n)
				overruns = n
			}
			t.mu.RLock()
			fn := t.onPacket
			t.mu.RUnlock()
			if fn != nil {
				fn(p)
			}
		}
	}
}

// receive is the driver's receive handler. It never blocks: a frame that does
// not fit in the inbound queue is counted and dropped. The RX task logs the
// count; nothing here may take a lock or touch the log file.
func (t *Transport) receive(id uint32, f Frame) {
	select {
	case t.in <- Packet{ID: id, Frame: f}:
	default:
		t.overruns.Add(1)
	}
}

// transmitComplete is the driver's transmit-complete handler.
func (t *Transport) transmitComplete() {
	t.releaseMailbox()
}

func (t *Transport) releaseMailbox() {
	for {
		n := t.inFlight.Load()
		if n <= 0 {
			t.spurious.Add(1)
			return
		}
		if t.inFlight.CompareAndSwap(n, n-1) {
			break
		}
	}
	t.mailboxes.Release(1)
}

func (t *Transport) reportTx(err error) {
	t.mu.RLock()
	fn := t.onTxResult
	t.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
