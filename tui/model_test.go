package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"keyduet/bus"
	"keyduet/engine"
	"keyduet/keys"
	"keyduet/theme"
	"keyduet/tuning"
	"keyduet/widgets"
)

func newModel(t *testing.T) (Model, *keys.Virtual) {
	t.Helper()
	b, err := tuning.NewBuilder(tuning.DefaultSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	h := bus.NewHub()
	m := keys.NewVirtual()
	e := engine.New(m, bus.New(h.Node(true), bus.Options{}), b, engine.Options{Octave: 4})
	return NewModel([]Unit{{Name: "left", Engine: e, Matrix: m}}, nil, theme.New(theme.Default())), m
}

func press(model tea.Model, r rune) tea.Model {
	next, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	return next
}

func TestKeysToggleMatrix(t *testing.T) {
	model, mat := newModel(t)
	var tm tea.Model = model
	tm = press(tm, 'a') // C
	tm = press(tm, 'g') // G
	if mat.Keys() != keys.Vector(0).With(0, true).With(7, true) {
		t.Fatalf("keys = %s", mat.Keys().Bits())
	}
	tm = press(tm, 'a')
	if mat.Keys().Pressed(0) {
		t.Fatal("second press did not release C")
	}

	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyDown})
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyDown})
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyUp})
	if mat.Pending() != -1 {
		t.Fatalf("pending turns = %d", mat.Pending())
	}

	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeySpace})
	if mat.Keys() != 0 {
		t.Fatal("space did not release all keys")
	}

	_, cmd := tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
}

func TestViewShowsState(t *testing.T) {
	model, _ := newModel(t)
	next, _ := model.Update(tickMsg(time.Now()))
	view := next.View()
	for _, want := range []string{"keyduet left", "octave 4", "No Note", "Vol", "TX", "RX", "--"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestStatusFormatting(t *testing.T) {
	model, _ := newModel(t)
	st, err := model.Units[0].Engine.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	st.HasRX = true
	st.RxOK = true
	st.LastRX = [8]byte{'P', 5, 3}
	st.Keys = keys.Vector(0).With(0, true).With(4, true)
	if got := lastRX(st); !strings.Contains(got, "Press D#5") {
		t.Fatalf("lastRX = %q", got)
	}
	if got := noteNames(st.Keys); got != "C E" {
		t.Fatalf("noteNames = %q", got)
	}
	if txState(st) != widgets.LinkIdle || rxState(st) != widgets.LinkOK {
		t.Fatal("link states wrong")
	}

	st.Sent, st.TxOK = 3, true
	if txState(st) != widgets.LinkOK {
		t.Fatal("tx without failures should show OK")
	}
	st.TxFailures, st.TxFault = 1, true
	if txState(st) != widgets.LinkFail {
		t.Fatal("tx fault must stay visible after later successes")
	}
}

func TestHelpToggle(t *testing.T) {
	model, _ := newModel(t)
	next := press(model, '?')
	if view := next.View(); !strings.Contains(view, "release all keys") || !strings.Contains(view, "G#") {
		t.Fatalf("help view:\n%s", view)
	}
	next = press(next, '?')
	if strings.Contains(next.View(), "toggle this help") {
		t.Fatal("help still shown")
	}
}
