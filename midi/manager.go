package midi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"keyduet/debug"
	"keyduet/keys"
)

// DeviceManager handles hot-plug of the MIDI keyboard feeding a matrix: it
// connects every input port whose name contains the pattern and releases the
// keys of any that disappear.
type DeviceManager struct {
	pattern string
	matrix  *keys.Virtual

	controllers map[string]Controller
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration

	// port access, replaceable in tests
	listPorts func() []string
	connect   func(name string) (Controller, error)
}

// NewDeviceManager creates a new device manager. An empty pattern matches
// every input port.
func NewDeviceManager(pattern string, matrix *keys.Virtual) *DeviceManager {
	dm := &DeviceManager{
		pattern:     strings.ToLower(pattern),
		matrix:      matrix,
		controllers: make(map[string]Controller),
		events:      make(chan DeviceEvent, 16),
		pollRate:    time.Second,
		listPorts:   inPortNames,
	}
	dm.connect = dm.openKeyboard
	return dm
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Connected returns the ids of the connected controllers.
func (dm *DeviceManager) Connected() []string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	ids := make([]string, 0, len(dm.controllers))
	for id := range dm.controllers {
		ids = append(ids, id)
	}
	return ids
}

// Run polls for port changes until ctx is cancelled.
func (dm *DeviceManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return nil
		case <-ticker.C:
			dm.scan()
		}
	}
}

func (dm *DeviceManager) scan() {
	// Port listing can hang on some platforms; skip the scan if it does.
	ch := make(chan []string, 1)
	go func() {
		ch <- dm.listPorts()
	}()

	var names []string
	select {
	case names = <-ch:
	case <-time.After(3 * time.Second):
		debug.Warn("midi", "port listing timed out")
		return
	}

	seenIDs := make(map[string]bool)
	for _, name := range names {
		if !strings.Contains(strings.ToLower(name), dm.pattern) {
			continue
		}
		seenIDs[name] = true

		dm.mu.RLock()
		_, exists := dm.controllers[name]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		c, err := dm.connect(name)
		if err != nil {
			debug.Warn("midi", "connect %s: %v", name, err)
			dm.emit(DeviceEvent{Type: DeviceFailed, ID: name, Err: err})
			continue
		}
		dm.mu.Lock()
		dm.controllers[name] = c
		dm.mu.Unlock()
		debug.Log("midi", "keyboard connected: %s", name)
		dm.emit(DeviceEvent{Type: DeviceConnected, ID: name})
	}

	// Check for disconnects
	dm.mu.Lock()
	var gone []string
	for id, c := range dm.controllers {
		if !seenIDs[id] {
			c.Close()
			delete(dm.controllers, id)
			gone = append(gone, id)
		}
	}
	dm.mu.Unlock()
	for _, id := range gone {
		debug.Log("midi", "keyboard disconnected: %s", id)
		dm.emit(DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
}

func (dm *DeviceManager) emit(e DeviceEvent) {
	select {
	case dm.events <- e:
	default:
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, c := range dm.controllers {
		c.Close()
	}
	dm.controllers = make(map[string]Controller)
}

func (dm *DeviceManager) openKeyboard(name string) (Controller, error) {
	for _, p := range gomidi.GetInPorts() {
		if p.String() == name {
			kb, err := NewKeyboardController(name, p, dm.matrix)
			if err != nil {
				return nil, err
			}
			return kb, nil
		}
	}
	return nil, fmt.Errorf("midi: input port %q gone", name)
}

func inPortNames() []string {
	var names []string
	for _, p := range gomidi.GetInPorts() {
		names = append(names, p.String())
	}
	return names
}

// PortNames lists the MIDI input and output ports.
func PortNames() (ins, outs []string) {
	ins = inPortNames()
	for _, p := range gomidi.GetOutPorts() {
		outs = append(outs, p.String())
	}
	return ins, outs
}
