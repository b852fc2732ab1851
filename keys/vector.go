// Package keys reads the 3x4 key matrix and the quadrature volume knob of a
// keyboard unit.
package keys

import (
	"fmt"
	"strings"
)

// NumKeys is the number of keys on one unit: one octave, C to B.
const NumKeys = 12

const vectorMask = 1<<NumKeys - 1

// Vector is the pressed state of the 12 keys. Bit i is set while semitone i
// (0 = C) is held.
type Vector uint16

// Pressed reports whether key i is held.
func (v Vector) Pressed(i int) bool {
	if i < 0 || i >= NumKeys {
		return false
	}
	return v&(1<<uint(i)) != 0
}

// With returns a copy of v with key i set to on.
func (v Vector) With(i int, on bool) Vector {
	if i < 0 || i >= NumKeys {
		return v
	}
	if on {
		return v | 1<<uint(i)
	}
	return v &^ (1 << uint(i))
}

// Highest returns the highest held key. ok is false when nothing is held.
func (v Vector) Highest() (i int, ok bool) {
	for i = NumKeys - 1; i >= 0; i-- {
		if v.Pressed(i) {
			return i, true
		}
	}
	return -1, false
}

// None reports whether no key is held.
func (v Vector) None() bool {
	return v&vectorMask == 0
}

// Notes returns the held keys in ascending order.
func (v Vector) Notes() []int {
	var out []int
	for i := 0; i < NumKeys; i++ {
		if v.Pressed(i) {
			out = append(out, i)
		}
	}
	return out
}

// String formats the vector as three hex digits, the way the unit's display
// shows it.
func (v Vector) String() string {
	return fmt.Sprintf("%03X", uint16(v&vectorMask))
}

// Bits renders the vector as twelve characters, C first.
func (v Vector) Bits() string {
	var b strings.Builder
	for i := 0; i < NumKeys; i++ {
		if v.Pressed(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Edge is a single key transition between two scans.
type Edge struct {
	Note    int
	Pressed bool
}

// Diff lists the transitions from prev to cur in ascending key order.
func Diff(prev, cur Vector) []Edge {
	changed := (prev ^ cur) & vectorMask
	if changed == 0 {
		return nil
	}
	var edges []Edge
	for i := 0; i < NumKeys; i++ {
		if changed&(1<<uint(i)) != 0 {
			edges = append(edges, Edge{Note: i, Pressed: cur.Pressed(i)})
		}
	}
	return edges
}
