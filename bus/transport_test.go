package bus_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"keyduet/bus"
	"keyduet/debug"
)

// fakeDriver accepts frames into a channel and completes them only when told.
type fakeDriver struct {
	mu     sync.Mutex
	sent   chan bus.Frame
	onRx   func(uint32, bus.Frame)
	onDone func()
	fail   error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{sent: make(chan bus.Frame, 64)}
}

func (d *fakeDriver) Transmit(id uint32, f bus.Frame) error {
	d.mu.Lock()
	err := d.fail
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.sent <- f
	return nil
}

func (d *fakeDriver) OnReceive(fn func(uint32, bus.Frame)) { d.onRx = fn }
func (d *fakeDriver) OnTransmitComplete(fn func())         { d.onDone = fn }
func (d *fakeDriver) Close() error                         { return nil }

func (d *fakeDriver) complete() { d.onDone() }

func expectFrame(t *testing.T, ch <-chan bus.Frame) bus.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return bus.Frame{}
}

func expectNoFrame(t *testing.T, ch <-chan bus.Frame) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected frame %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func run(t *testing.T, tr *bus.Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMailboxBound(t *testing.T) {
	drv := newFakeDriver()
	tr := bus.New(drv, bus.Options{})
	run(t, tr)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := tr.Send(ctx, bus.Frame{'P', 4, byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if f := expectFrame(t, drv.sent); f[2] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, f)
		}
	}
	expectNoFrame(t, drv.sent)
	if got := tr.Stats().InFlight; got != 3 {
		t.Fatalf("in flight = %d, want 3", got)
	}

	drv.complete()
	if f := expectFrame(t, drv.sent); f[2] != 3 {
		t.Fatalf("fourth frame = %v", f)
	}
}

func TestTransmitFailureReleasesMailbox(t *testing.T) {
	drv := newFakeDriver()
	drv.fail = errors.New("no ack")
	tr := bus.New(drv, bus.Options{})

	results := make(chan error, 8)
	tr.HandleTxResults(func(err error) { results <- err })
	run(t, tr)

	for i := 0; i < 5; i++ {
		if err := tr.Send(context.Background(), bus.Frame{'R', 4, 1}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		select {
		case err := <-results:
			if err == nil || errors.Is(err, bus.ErrTimeout) {
				t.Fatalf("result %d = %v, want driver error", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing result %d (mailboxes leaked?)", i)
		}
	}
	if got := tr.Stats().InFlight; got != 0 {
		t.Fatalf("in flight = %d", got)
	}
}

func TestMailboxTimeoutRetries(t *testing.T) {
	drv := newFakeDriver()
	tr := bus.New(drv, bus.Options{Mailboxes: 1, MailboxTimeout: 10 * time.Millisecond})
	results := make(chan error, 64)
	tr.HandleTxResults(func(err error) {
		select {
		case results <- err:
		default:
		}
	})
	run(t, tr)

	ctx := context.Background()
	_ = tr.Send(ctx, bus.Frame{'P', 4, 0})
	_ = tr.Send(ctx, bus.Frame{'P', 4, 1})
	expectFrame(t, drv.sent)
	if err := <-results; err != nil {
		t.Fatalf("first result = %v", err)
	}
	select {
	case err := <-results:
		if !errors.Is(err, bus.ErrTimeout) {
			t.Fatalf("second result = %v, want timeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no timeout reported")
	}

	drv.complete()
	if f := expectFrame(t, drv.sent); f[2] != 1 {
		t.Fatalf("retried frame = %v", f)
	}
}

func TestSendTimeout(t *testing.T) {
	tr := bus.New(newFakeDriver(), bus.Options{QueueDepth: 1, SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	if err := tr.Send(ctx, bus.Frame{'P'}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(ctx, bus.Frame{'P'}); !errors.Is(err, bus.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSendAfterStop(t *testing.T) {
	tr := bus.New(newFakeDriver(), bus.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(context.Background(), bus.Frame{'P'}); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestReceiveOverrun(t *testing.T) {
	drv := newFakeDriver()
	tr := bus.New(drv, bus.Options{})
	for i := 0; i < bus.DefaultQueueDepth+4; i++ {
		drv.onRx(bus.DefaultID, bus.Frame{'P', 4, byte(i % 12)})
	}
	st := tr.Stats()
	if st.Inbound != bus.DefaultQueueDepth || st.Overruns != 4 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandlersOnlyCountAndTasksLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")
	if err := debug.Enable(logPath); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(debug.Disable)

	drv := newFakeDriver()
	tr := bus.New(drv, bus.Options{})
	for i := 0; i < bus.DefaultQueueDepth+3; i++ {
		drv.onRx(bus.DefaultID, bus.Frame{'P', 4, byte(i % 12)})
	}
	drv.complete() // nothing in flight
	st := tr.Stats()
	if st.Overruns != 3 || st.Spurious != 1 || st.InFlight != 0 {
		t.Fatalf("stats = %+v", st)
	}

	drained := make(chan struct{}, bus.DefaultQueueDepth)
	tr.HandlePackets(func(bus.Packet) { drained <- struct{}{} })
	run(t, tr)
	for i := 0; i < bus.DefaultQueueDepth; i++ {
		select {
		case <-drained:
		case <-time.After(2 * time.Second):
			t.Fatal("inbound queue not drained")
		}
	}
	if err := tr.Send(context.Background(), bus.Frame{'P', 4, 0}); err != nil {
		t.Fatal(err)
	}
	expectFrame(t, drv.sent)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"3 frames dropped", "1 spurious transmit completions"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log missing %q:\n%s", want, data)
		}
	}
}

func TestReceiveInOrder(t *testing.T) {
	drv := newFakeDriver()
	tr := bus.New(drv, bus.Options{})
	got := make(chan bus.Packet, 16)
	tr.HandlePackets(func(p bus.Packet) { got <- p })
	for i := 0; i < 10; i++ {
		drv.onRx(0x100+uint32(i), bus.Frame{'P', 4, byte(i)})
	}
	run(t, tr)
	for i := 0; i < 10; i++ {
		select {
		case p := <-got:
			if p.ID != 0x100+uint32(i) || p.Frame[2] != byte(i) {
				t.Fatalf("packet %d = %+v", i, p)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing packet %d", i)
		}
	}
}
