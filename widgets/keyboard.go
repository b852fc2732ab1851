package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"keyduet/keys"
	"keyduet/theme"
	"keyduet/tuning"
)

// RenderKeyStrip renders the 12 semitone keys with their names underneath.
// Sharps and naturals use different colors so the strip reads like a keyboard.
func RenderKeyStrip(th *theme.Theme, v keys.Vector, bindings string) string {
	held := lipgloss.NewStyle().Foreground(th.Success())
	natural := lipgloss.NewStyle().Foreground(th.FG())
	sharp := lipgloss.NewStyle().Foreground(th.Muted())

	var top, names, binds strings.Builder
	for i := 0; i < keys.NumKeys; i++ {
		name := tuning.NoteName(i)
		style := natural
		if strings.HasSuffix(name, "#") {
			style = sharp
		}
		sym := th.Symbols.KeyFree
		if v.Pressed(i) {
			style = held
			sym = th.Symbols.KeyHeld
		}
		top.WriteString(style.Render(strings.Repeat(string(sym), 2)))
		top.WriteString(" ")
		names.WriteString(fmt.Sprintf("%-3s", name))
		if i < len(bindings) {
			binds.WriteString(fmt.Sprintf("%-3c", bindings[i]))
		}
	}
	lines := []string{top.String(), names.String()}
	if binds.Len() > 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(th.Muted()).Render(binds.String()))
	}
	return strings.Join(lines, "\n")
}

// RenderMeter renders level out of max as a bar.
func RenderMeter(th *theme.Theme, level, max int) string {
	var out strings.Builder
	for i := 1; i <= max; i++ {
		if i <= level {
			c := th.Color(float64(i) / float64(max))
			out.WriteString(lipgloss.NewStyle().Foreground(c).Render(string(th.Symbols.MeterOn)))
		} else {
			out.WriteString(lipgloss.NewStyle().Foreground(th.Muted()).Render(string(th.Symbols.MeterOff)))
		}
	}
	return out.String()
}

// LinkState is the display state of one direction of the bus.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkOK
	LinkFail
)

// RenderLink renders "TX ● OK" style status.
func RenderLink(th *theme.Theme, label string, s LinkState) string {
	switch s {
	case LinkOK:
		return fmt.Sprintf("%s %s", label, lipgloss.NewStyle().Foreground(th.Success()).Render(string(th.Symbols.OK)+" OK"))
	case LinkFail:
		return fmt.Sprintf("%s %s", label, lipgloss.NewStyle().Foreground(th.Warning()).Render(string(th.Symbols.Fail)+" Fail"))
	}
	return fmt.Sprintf("%s %s", label, lipgloss.NewStyle().Foreground(th.Muted()).Render(string(th.Symbols.Idle)+" --"))
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}
