package keys

// Scan is the result of one pass over the matrix.
type Scan struct {
	Keys      Vector
	Edges     []Edge // transitions since the previous scan, ascending
	KnobDelta int
}

// Scanner samples the matrix once per cycle and remembers the previous key
// vector so it can report edges.
type Scanner struct {
	m    Matrix
	knob Knob
	prev Vector
}

// NewScanner returns a scanner reading m. The previous vector starts empty, so
// keys already held at start-up are reported as presses on the first scan.
func NewScanner(m Matrix, inferSkipped bool) *Scanner {
	return &Scanner{m: m, knob: Knob{InferSkipped: inferSkipped}}
}

// Scan reads keys then the knob, in that order, and returns the combined result.
func (s *Scanner) Scan() Scan {
	cur := ReadKeys(s.m)
	delta := s.knob.Update(ReadKnob(s.m))
	out := Scan{
		Keys:      cur,
		Edges:     Diff(s.prev, cur),
		KnobDelta: delta,
	}
	s.prev = cur
	return out
}

// Previous returns the vector from the last scan.
func (s *Scanner) Previous() Vector {
	return s.prev
}

// Knob exposes the knob decoder for status display.
func (s *Scanner) Knob() *Knob {
	return &s.knob
}
