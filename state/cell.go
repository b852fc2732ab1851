package state

import "sync/atomic"

// Cell is a 32-bit value shared with the sample routine. Loads and stores are
// atomic (sequentially consistent in Go, which is stronger than the relaxed
// ordering the routine needs); readers may see a value at most one store
// behind, never a torn one.
type Cell struct {
	v atomic.Uint32
}

func (c *Cell) Load() uint32 {
	return c.v.Load()
}

func (c *Cell) Store(v uint32) {
	c.v.Store(v)
}
