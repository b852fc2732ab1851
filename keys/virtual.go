package keys

import "sync"

// Virtual is an in-memory Matrix. Keys are set directly; knob turns are
// queued and played back one detent per read of the knob row, so a scanner
// polling at any rate sees only valid single-step transitions.
type Virtual struct {
	mu      sync.Mutex
	keys    Vector
	holds   [NumKeys]int
	row     int
	phase   Phase
	pending int
}

// NewVirtual returns a matrix with no keys held and the knob at phase 00.
func NewVirtual() *Virtual {
	return &Virtual{}
}

func (v *Virtual) SelectRow(row int) {
	v.mu.Lock()
	v.row = row
	v.mu.Unlock()
}

func (v *Virtual) ReadColumns() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.row == KnobRow {
		switch {
		case v.pending > 0:
			v.phase = v.phase.Next(1)
			v.pending--
		case v.pending < 0:
			v.phase = v.phase.Next(-1)
			v.pending++
		}
		return uint8(v.phase)
	}
	if v.row < 0 || v.row >= KeyRows {
		return 0
	}
	return uint8(v.keys>>uint(v.row*Columns)) & 0x0F
}

// Press holds key i.
func (v *Virtual) Press(i int) {
	v.mu.Lock()
	v.keys = v.keys.With(i, true)
	v.mu.Unlock()
}

// Release lets go of key i.
func (v *Virtual) Release(i int) {
	v.mu.Lock()
	v.keys = v.keys.With(i, false)
	v.holds[i] = 0
	v.mu.Unlock()
}

// Hold adds one holder to key i. Several sources can share a matrix this
// way: the key stays down until every holder has let go.
func (v *Virtual) Hold(i int) {
	if i < 0 || i >= NumKeys {
		return
	}
	v.mu.Lock()
	v.holds[i]++
	v.keys = v.keys.With(i, true)
	v.mu.Unlock()
}

// Unhold removes one holder from key i.
func (v *Virtual) Unhold(i int) {
	if i < 0 || i >= NumKeys {
		return
	}
	v.mu.Lock()
	if v.holds[i] > 0 {
		v.holds[i]--
		if v.holds[i] == 0 {
			v.keys = v.keys.With(i, false)
		}
	}
	v.mu.Unlock()
}

// Toggle flips key i and reports whether it is now held.
func (v *Virtual) Toggle(i int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	on := !v.keys.Pressed(i)
	v.keys = v.keys.With(i, on)
	return on
}

// Set replaces the whole key state and forgets every holder.
func (v *Virtual) Set(keys Vector) {
	v.mu.Lock()
	v.keys = keys & vectorMask
	v.holds = [NumKeys]int{}
	v.mu.Unlock()
}

// Keys returns the keys currently held.
func (v *Virtual) Keys() Vector {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.keys
}

// Turn queues n detents: positive is clockwise.
func (v *Virtual) Turn(n int) {
	v.mu.Lock()
	v.pending += n
	v.mu.Unlock()
}

// Pending returns the detents not yet played back.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}
