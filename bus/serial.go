package bus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"keyduet/debug"
)

// Link framing for frames carried over a byte stream:
//
//	[SOF0][SOF1][idHi][idLo][b0..b7][CKS]
//
// CKS is the XOR of the id and payload bytes.
const (
	SOF0 = 0xAA
	SOF1 = 0x55

	linkBodySize  = 2 + FrameSize + 1
	LinkFrameSize = 2 + linkBodySize
)

// EncodeLink builds the on-wire representation of one frame.
func EncodeLink(id uint32, f Frame) []byte {
	out := make([]byte, 0, LinkFrameSize)
	hi, lo := byte(id>>8), byte(id)
	out = append(out, SOF0, SOF1, hi, lo)
	out = append(out, f[:]...)
	cks := hi ^ lo
	for _, b := range f {
		cks ^= b
	}
	return append(out, cks)
}

// LinkDecoder reassembles link frames from a byte stream, resynchronising on
// the start-of-frame marker after garbage or a bad checksum.
type LinkDecoder struct {
	state int // 0 hunting SOF0, 1 expecting SOF1, 2 collecting body
	body  [linkBodySize]byte
	n     int
}

// Feed consumes one byte. ok is true when b completed a valid frame; err is
// ErrChecksum when it completed a corrupt one.
func (d *LinkDecoder) Feed(b byte) (p Packet, ok bool, err error) {
	switch d.state {
	case 0:
		if b == SOF0 {
			d.state = 1
		}
	case 1:
		switch b {
		case SOF1:
			d.state = 2
			d.n = 0
		case SOF0:
			// still could be the start of a frame
		default:
			d.state = 0
		}
	case 2:
		d.body[d.n] = b
		d.n++
		if d.n < linkBodySize {
			return p, false, nil
		}
		d.state = 0
		var cks byte
		for _, c := range d.body[:linkBodySize-1] {
			cks ^= c
		}
		if cks != d.body[linkBodySize-1] {
			return p, false, fmt.Errorf("%w: got %#02x want %#02x", ErrChecksum, d.body[linkBodySize-1], cks)
		}
		p.ID = uint32(d.body[0])<<8 | uint32(d.body[1])
		copy(p.Frame[:], d.body[2:2+FrameSize])
		return p, true, nil
	}
	return p, false, nil
}

// Serial is a Driver over a point-to-point byte stream, usually a serial port.
// Writes are synchronous; the transmit-complete handler fires once the bytes
// have been written.
type Serial struct {
	rw io.ReadWriteCloser

	wmu sync.Mutex

	mu     sync.RWMutex
	onRx   func(uint32, Frame)
	onDone func()
	filter Filter

	malformed atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
}

// OpenSerial opens the named serial device at the given baud rate.
func OpenSerial(name string, baud int) (*Serial, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", name, err)
	}
	debug.Log("serial", "port opened device=%s baud=%d", name, baud)
	return NewSerial(p), nil
}

// SerialPorts lists the serial devices present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// NewSerial starts reading frames from rw.
func NewSerial(rw io.ReadWriteCloser) *Serial {
	s := &Serial{rw: rw, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *Serial) Transmit(id uint32, f Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data := EncodeLink(id, f)
	s.wmu.Lock()
	_, err := s.rw.Write(data)
	s.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("bus: serial write: %w", err)
	}
	s.mu.RLock()
	fn := s.onDone
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (s *Serial) OnReceive(fn func(uint32, Frame)) {
	s.mu.Lock()
	s.onRx = fn
	s.mu.Unlock()
}

func (s *Serial) OnTransmitComplete(fn func()) {
	s.mu.Lock()
	s.onDone = fn
	s.mu.Unlock()
}

func (s *Serial) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Malformed returns the number of frames dropped for a bad checksum.
func (s *Serial) Malformed() uint64 {
	return s.malformed.Load()
}

// Close closes the stream and waits for the reader to exit.
func (s *Serial) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	debug.Log("serial", "closing port")
	err := s.rw.Close()
	<-s.done
	return err
}

func (s *Serial) readLoop() {
	defer close(s.done)
	var dec LinkDecoder
	buf := make([]byte, 64)
	for {
		n, err := s.rw.Read(buf)
		for _, b := range buf[:n] {
			p, ok, ferr := dec.Feed(b)
			if ferr != nil {
				s.malformed.Add(1)
				debug.Log("serial", "dropped frame: %v", ferr)
				continue
			}
			if ok {
				s.dispatch(p)
			}
		}
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, io.EOF) {
				debug.Warn("serial", "read error: %v", err)
			}
			return
		}
	}
}

func (s *Serial) dispatch(p Packet) {
	s.mu.RLock()
	fn, filter := s.onRx, s.filter
	s.mu.RUnlock()
	if fn != nil && filter.Accept(p.ID) {
		fn(p.ID, p.Frame)
	}
}
