//go:build headless

package synth

import (
	"errors"
	"io"
)

// ErrNoAudio is returned by OpenPlayer in headless builds.
var ErrNoAudio = errors.New("synth: built without audio output")

type Player struct{}

func OpenPlayer(s *Synth, sampleRate int, tap io.Writer) (*Player, error) {
	return nil, ErrNoAudio
}

func (p *Player) Read(b []byte) (int, error) {
	return len(b), nil
}

func (p *Player) Start() {}

func (p *Player) Close() error {
	return nil
}
