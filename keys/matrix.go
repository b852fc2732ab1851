package keys

// Matrix layout: rows 0-2 carry the keys, row 3 carries knob 3 on columns 0 (A)
// and 1 (B).
const (
	KeyRows = 3
	Columns = 4
	KnobRow = 3
)

// Matrix is the wiring the scanner talks to. SelectRow drives the row
// multiplexer; ReadColumns returns the four column lines of that row, bit 0 =
// column 0, with 1 meaning closed (already inverted from the active-low pins).
type Matrix interface {
	SelectRow(row int)
	ReadColumns() uint8
}

// ReadKeys samples the three key rows into a Vector.
func ReadKeys(m Matrix) Vector {
	var v Vector
	for row := 0; row < KeyRows; row++ {
		m.SelectRow(row)
		cols := m.ReadColumns()
		for col := 0; col < Columns; col++ {
			if cols&(1<<uint(col)) != 0 {
				v |= 1 << uint(row*Columns+col)
			}
		}
	}
	return v
}

// ReadKnob samples the knob row and returns its 2-bit quadrature phase.
func ReadKnob(m Matrix) Phase {
	m.SelectRow(KnobRow)
	cols := m.ReadColumns()
	return Phase((cols>>1&1)<<1 | cols&1)
}
