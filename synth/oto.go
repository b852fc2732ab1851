//go:build !headless

package synth

import (
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"keyduet/debug"
)

// Player feeds the audio device from a Synth. The device pulls bytes through
// Read, so its sample clock is what drives Tick.
type Player struct {
	ctx    *oto.Context
	player *oto.Player
	synth  *Synth
	tap    io.Writer

	started bool
	mutex   sync.Mutex // only for setup/control operations
}

// OpenPlayer opens the default output device as mono unsigned 8-bit at
// sampleRate. Every generated byte is also written to tap when it is non-nil.
func OpenPlayer(s *Synth, sampleRate int, tap io.Writer) (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatUnsignedInt8,
		BufferSize:   40 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready
	debug.Log("audio", "oto context ready rate=%d", sampleRate)

	p := &Player{ctx: ctx, synth: s, tap: tap}
	p.player = ctx.NewPlayer(p)
	return p, nil
}

func (p *Player) Read(b []byte) (int, error) {
	p.synth.Fill(b)
	if p.tap != nil {
		if _, err := p.tap.Write(b); err != nil {
			p.tap = nil
			debug.Warn("audio", "tap: %v", err)
		}
	}
	return len(b), nil
}

func (p *Player) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.started && p.player != nil {
		p.player.Play()
		p.started = true
	}
}

func (p *Player) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.player == nil {
		return nil
	}
	err := p.player.Close()
	p.player = nil
	p.started = false
	return err
}
