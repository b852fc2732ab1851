package keys

// Volume knob limits.
const (
	MinRotation     = 0
	MaxRotation     = 8
	InitialRotation = MaxRotation
)

// Phase is the 2-bit encoder state, B<<1 | A.
type Phase uint8

// cwOrder is the Gray-code sequence seen while turning clockwise.
var cwOrder = [4]Phase{0b00, 0b01, 0b11, 0b10}

func phaseIndex(p Phase) int {
	for i, q := range cwOrder {
		if q == p&0b11 {
			return i
		}
	}
	return 0
}

// Next returns the phase one detent away: clockwise for dir > 0,
// counter-clockwise for dir < 0.
func (p Phase) Next(dir int) Phase {
	i := phaseIndex(p)
	switch {
	case dir > 0:
		i = (i + 1) % 4
	case dir < 0:
		i = (i + 3) % 4
	}
	return cwOrder[i]
}

// Delta decodes one transition: +1 for a valid clockwise step, -1 for a valid
// counter-clockwise step, 0 for no change or an invalid (skipped) transition.
func Delta(prev, cur Phase) int {
	prev, cur = prev&0b11, cur&0b11
	switch cur {
	case prev:
		return 0
	case prev.Next(1):
		return 1
	case prev.Next(-1):
		return -1
	}
	return 0
}

// ClampRotation applies delta to rotation and keeps the result in
// [MinRotation, MaxRotation].
func ClampRotation(rotation, delta int) int {
	return max(MinRotation, min(rotation+delta, MaxRotation))
}

// Knob decodes successive phases of one encoder. It keeps the previous phase
// and the last direction seen; the rotation itself lives in shared state.
type Knob struct {
	// InferSkipped makes a double transition (both lines changed between two
	// polls) count as one step in the last known direction instead of zero.
	InferSkipped bool

	prev    Phase
	lastDir int
}

// Update feeds the current phase and returns the rotation delta.
func (k *Knob) Update(cur Phase) int {
	cur &= 0b11
	d := Delta(k.prev, cur)
	if d == 0 && k.InferSkipped && k.prev^cur == 0b11 {
		d = k.lastDir
	}
	if d != 0 {
		k.lastDir = d
	}
	k.prev = cur
	return d
}

// Phase returns the last phase seen.
func (k *Knob) Phase() Phase {
	return k.prev
}

// LastDirection returns +1, -1, or 0 if the knob has not moved yet.
func (k *Knob) LastDirection() int {
	return k.lastDir
}
