package widgets

import (
	"strings"
	"testing"

	"keyduet/keys"
	"keyduet/theme"
)

func TestRenderKeyStrip(t *testing.T) {
	th := theme.New(theme.Default())
	v := keys.Vector(0).With(0, true).With(11, true)
	out := RenderKeyStrip(th, v, "awsedftgyhuj")
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if got := strings.Count(lines[0], string(th.Symbols.KeyHeld)); got != 4 {
		t.Fatalf("held cells = %d, want 4", got)
	}
	for _, name := range []string{"C", "C#", "A#", "B"} {
		if !strings.Contains(lines[1], name) {
			t.Errorf("names line missing %s: %q", name, lines[1])
		}
	}
	if !strings.Contains(lines[2], "a") || !strings.Contains(lines[2], "j") {
		t.Errorf("bindings line = %q", lines[2])
	}

	if n := len(strings.Split(RenderKeyStrip(th, v, ""), "\n")); n != 2 {
		t.Fatalf("strip without bindings has %d lines", n)
	}
}

func TestRenderMeter(t *testing.T) {
	th := theme.New(theme.Default())
	out := RenderMeter(th, 3, 8)
	if on, off := strings.Count(out, string(th.Symbols.MeterOn)), strings.Count(out, string(th.Symbols.MeterOff)); on != 3 || off != 5 {
		t.Fatalf("meter %q: %d on, %d off", out, on, off)
	}
}

func TestRenderLink(t *testing.T) {
	th := theme.New(theme.Default())
	for state, want := range map[LinkState]string{LinkOK: "OK", LinkFail: "Fail", LinkIdle: "--"} {
		if got := RenderLink(th, "TX", state); !strings.Contains(got, want) || !strings.HasPrefix(got, "TX ") {
			t.Errorf("RenderLink(%d) = %q", state, got)
		}
	}
}

func TestRenderKeyHelp(t *testing.T) {
	out := RenderKeyHelp([]KeySection{{Title: "Keys", Keys: []KeyBinding{{Key: "a", Desc: "C"}}}})
	if out != "Keys\n  a            C" {
		t.Fatalf("help = %q", out)
	}
}
