package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"keyduet/bus"
	"keyduet/engine"
	"keyduet/keys"
	"keyduet/midi"
	"keyduet/theme"
	"keyduet/tuning"
	"keyduet/widgets"
)

// KeyBindings maps terminal keys to semitones C..B, laid out like a piano on
// the home row.
const KeyBindings = "awsedftgyhuj"

// refresh is the display period.
const refresh = time.Second / 30

// Unit is one keyboard shown by the model. Matrix is nil when its keys come
// from somewhere other than the terminal.
type Unit struct {
	Name   string
	Engine *engine.Engine
	Matrix *keys.Virtual
}

type Model struct {
	Units     []Unit
	DeviceMgr *midi.DeviceManager // may be nil
	Theme     *theme.Theme

	focus    int
	status   []engine.Status
	err      error
	device   string
	showHelp bool
	quitting bool
}

type UpdateMsg struct{}

type tickMsg time.Time

type DeviceEventMsg midi.DeviceEvent

func NewModel(units []Unit, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	return Model{
		Units:     units,
		DeviceMgr: deviceMgr,
		Theme:     th,
		status:    make([]engine.Status, len(units)),
	}
}

func ListenForUpdates(e *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		<-e.Updates()
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if len(m.Units) > 0 {
		cmds = append(cmds, ListenForUpdates(m.Units[0].Engine))
	}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.refresh()
		return m, tick()

	case UpdateMsg:
		m.refresh()
		return m, ListenForUpdates(m.Units[0].Engine)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		switch event.Type {
		case midi.DeviceConnected:
			m.device = event.ID
		case midi.DeviceDisconnected:
			if m.device == event.ID {
				m.device = ""
			}
		case midi.DeviceFailed:
			m.err = event.Err
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	if key == "q" || key == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}
	if key == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if key == "tab" && len(m.Units) > 1 {
		m.focus = (m.focus + 1) % len(m.Units)
		return m, nil
	}
	if len(m.Units) == 0 {
		return m, nil
	}
	mat := m.Units[m.focus].Matrix
	if mat == nil {
		return m, nil
	}

	switch key {
	case "up", "+", "=":
		mat.Turn(1)
	case "down", "-", "_":
		mat.Turn(-1)
	case " ", "space":
		mat.Set(0)
	default:
		if len(key) == 1 {
			if i := strings.IndexByte(KeyBindings, key[0]); i >= 0 {
				mat.Toggle(i)
			}
		}
	}
	return m, nil
}

// refresh copies every unit's state; it never writes to it.
func (m *Model) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refresh)
	defer cancel()
	for i, u := range m.Units {
		st, err := u.Engine.Status(ctx)
		if err != nil {
			m.err = err
			continue
		}
		m.status[i] = st
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	errStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	var out strings.Builder
	out.WriteString("\n")
	for i, u := range m.Units {
		marker := " "
		if i == m.focus && len(m.Units) > 1 {
			marker = ">"
		}
		st := m.status[i]
		out.WriteString(headerStyle.Render(fmt.Sprintf("%s keyduet %s  octave %d", marker, u.Name, st.Octave)))
		out.WriteString("\n\n")
		out.WriteString(m.unitView(u, st))
		out.WriteString("\n\n")
	}

	if m.device != "" {
		out.WriteString(dimStyle.Render("MIDI keyboard: " + m.device))
		out.WriteString("\n")
	}
	if m.err != nil {
		out.WriteString(errStyle.Render("error: " + m.err.Error()))
		out.WriteString("\n")
	}
	if m.showHelp {
		out.WriteString(dimStyle.Render(widgets.RenderKeyHelp(m.helpSections())))
		return out.String()
	}
	help := "a-j:keys  up/down:volume  space:release all  ?:help  q:quit"
	if len(m.Units) > 1 {
		help += "  tab:switch unit"
	}
	out.WriteString(dimStyle.Render(help))
	return out.String()
}

func (m Model) helpSections() []widgets.KeySection {
	notes := widgets.KeySection{Title: "Keys (toggle, terminals report no key release)"}
	for i := 0; i < len(KeyBindings); i++ {
		notes.Keys = append(notes.Keys, widgets.KeyBinding{Key: string(KeyBindings[i]), Desc: tuning.NoteName(i)})
	}
	control := widgets.KeySection{
		Title: "Control",
		Keys: []widgets.KeyBinding{
			{Key: "up / +", Desc: "knob clockwise (louder)"},
			{Key: "down / -", Desc: "knob counter-clockwise"},
			{Key: "space", Desc: "release all keys"},
			{Key: "?", Desc: "toggle this help"},
			{Key: "q", Desc: "quit"},
		},
	}
	if len(m.Units) > 1 {
		control.Keys = append(control.Keys, widgets.KeyBinding{Key: "tab", Desc: "switch unit"})
	}
	return []widgets.KeySection{notes, control}
}

func (m Model) unitView(u Unit, st engine.Status) string {
	bindings := ""
	if u.Matrix != nil {
		bindings = KeyBindings
	}
	lines := []string{
		widgets.RenderKeyStrip(m.Theme, st.Keys, bindings),
		"",
		fmt.Sprintf("Keys %s  %s", st.Keys, noteNames(st.Keys)),
		fmt.Sprintf("Vol  %s %d", widgets.RenderMeter(m.Theme, st.Rotation, keys.MaxRotation), st.Rotation),
		fmt.Sprintf("%s   %s", widgets.RenderLink(m.Theme, "TX", txState(st)), widgets.RenderLink(m.Theme, "RX", rxState(st))),
		"RX   " + lastRX(st),
		fmt.Sprintf("Remote octave %d  step %d  in flight %d  queued %d",
			st.RemoteOctave, st.StepSize, st.Bus.InFlight, st.Bus.Queued),
		fmt.Sprintf("sent %d  tx fail %d  recv %d  overrun %d  malformed %d  timeouts %d",
			st.Sent, st.TxFailures, st.Received, st.RxOverruns, st.Malformed, st.Timeouts+st.LockTimeouts),
	}
	return strings.Join(lines, "\n")
}

func noteNames(v keys.Vector) string {
	notes := v.Notes()
	if len(notes) == 0 {
		return "No Note"
	}
	names := make([]string, len(notes))
	for i, n := range notes {
		names[i] = tuning.NoteName(n)
	}
	return strings.Join(names, " ")
}

func txState(st engine.Status) widgets.LinkState {
	switch {
	case st.Sent == 0 && st.TxFailures == 0:
		return widgets.LinkIdle
	case st.TxFault:
		return widgets.LinkFail
	}
	return widgets.LinkOK
}

func rxState(st engine.Status) widgets.LinkState {
	if st.RxOK {
		return widgets.LinkOK
	}
	return widgets.LinkIdle
}

func lastRX(st engine.Status) string {
	if !st.HasRX {
		return "--"
	}
	f := bus.Frame(st.LastRX)
	m, err := bus.Decode(f)
	if err != nil {
		return fmt.Sprintf("[%s] %v", f, err)
	}
	return fmt.Sprintf("%s %s  [%s]", m.Kind, tuning.NoteName(int(m.Note))+fmt.Sprint(m.Octave), f)
}
