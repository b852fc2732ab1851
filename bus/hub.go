package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"keyduet/debug"
)

// hubBacklog bounds the frames accepted by the hub but not yet delivered.
const hubBacklog = 128

type delivery struct {
	from  *Node
	id    uint32
	frame Frame
}

// Hub is an in-memory multi-drop bus. One dispatcher delivers frames in the
// order they were transmitted; every node sees the same order.
type Hub struct {
	mu    sync.RWMutex
	nodes []*Node

	queue chan delivery
	done  chan struct{}
	once  sync.Once
}

// NewHub returns an idle hub. Call Run to start delivery.
func NewHub() *Hub {
	return &Hub{
		queue: make(chan delivery, hubBacklog),
		done:  make(chan struct{}),
	}
}

// Node attaches a new node. A loopback node also receives its own frames,
// which is how a single unit talks to itself.
func (h *Hub) Node(loopback bool) *Node {
	n := &Node{hub: h, loopback: loopback, mailboxes: DefaultMailboxes}
	h.mu.Lock()
	h.nodes = append(h.nodes, n)
	h.mu.Unlock()
	return n
}

// Run dispatches frames until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer h.once.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-h.queue:
			h.dispatch(d)
		}
	}
}

func (h *Hub) dispatch(d delivery) {
	h.mu.RLock()
	nodes := h.nodes
	h.mu.RUnlock()

	for _, n := range nodes {
		if n == d.from && !n.loopback {
			continue
		}
		n.deliver(d.id, d.frame)
	}
	d.from.complete()
}

// Node is one unit's attachment to a Hub. It implements Driver.
type Node struct {
	hub       *Hub
	loopback  bool
	mailboxes int32

	pending atomic.Int32
	closed  atomic.Bool

	mu     sync.RWMutex
	onRx   func(uint32, Frame)
	onDone func()
	filter Filter
}

func (n *Node) Transmit(id uint32, f Frame) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if n.pending.Add(1) > n.mailboxes {
		n.pending.Add(-1)
		return ErrMailboxFull
	}
	select {
	case n.hub.queue <- delivery{from: n, id: id, frame: f}:
		return nil
	case <-n.hub.done:
		n.pending.Add(-1)
		return ErrClosed
	default:
		n.pending.Add(-1)
		debug.Warn("bus", "hub backlog full, frame %s refused", f)
		return ErrMailboxFull
	}
}

func (n *Node) OnReceive(fn func(uint32, Frame)) {
	n.mu.Lock()
	n.onRx = fn
	n.mu.Unlock()
}

func (n *Node) OnTransmitComplete(fn func()) {
	n.mu.Lock()
	n.onDone = fn
	n.mu.Unlock()
}

func (n *Node) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Close detaches the node: it stops receiving and refuses new frames.
func (n *Node) Close() error {
	n.closed.Store(true)
	return nil
}

// Pending returns the frames this node has handed to the hub that have not
// been delivered yet.
func (n *Node) Pending() int {
	return int(n.pending.Load())
}

func (n *Node) deliver(id uint32, f Frame) {
	if n.closed.Load() {
		return
	}
	n.mu.RLock()
	fn, filter := n.onRx, n.filter
	n.mu.RUnlock()
	if fn != nil && filter.Accept(id) {
		fn(id, f)
	}
}

func (n *Node) complete() {
	n.pending.Add(-1)
	n.mu.RLock()
	fn := n.onDone
	n.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
