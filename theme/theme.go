package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	KeyHeld rune // █ key down
	KeyFree rune // ▒ key up

	MeterOn  rune // ■ volume step lit
	MeterOff rune // · volume step dark

	OK   rune // ● last transfer succeeded
	Fail rune // ✕ last transfer failed
	Idle rune // ○ nothing yet
}

func New(palette *Palette) *Theme {
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			KeyHeld: '█',
			KeyFree: '▒',

			MeterOn:  '■',
			MeterOff: '·',

			OK:   '●',
			Fail: '✕',
			Idle: '○',
		},
	}
}

// Color roles as positions on the palette gradient.
const (
	RoleMuted   = 0.2 // labels, help, idle links
	RoleFG      = 0.4 // key names
	RoleAccent  = 0.5 // unit headers
	RoleWarning = 0.8 // errors, failed links
	RoleSuccess = 1.0 // held keys, good links
)

func (t *Theme) role(pos float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(pos))
}

func (t *Theme) Muted() lipgloss.Color { return t.role(RoleMuted) }
func (t *Theme) FG() lipgloss.Color { return t.role(RoleFG) }
func (t *Theme) Accent() lipgloss.Color { return t.role(RoleAccent) }
func (t *Theme) Warning() lipgloss.Color { return t.role(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.role(RoleSuccess) }

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
