// Package synth generates the sawtooth output one sample at a time.
//
// Tick is the sample routine: it is called at the output rate by whatever
// owns the clock (the audio device or a ticker), reads the step size and the
// volume from atomic cells and never blocks or allocates.
package synth

import "keyduet/keys"

// Source is a lock-free value read on every sample.
type Source interface {
	Load() uint32
}

// MaxVolume leaves the waveform unattenuated.
const MaxVolume = keys.MaxRotation

// Synth holds the phase accumulators. It is not safe for concurrent use:
// exactly one clock drives it.
type Synth struct {
	step   Source
	volume Source
	remote Source

	phase       uint32
	remotePhase uint32
}

// New returns a single-voice synthesizer.
func New(step, volume Source) *Synth {
	return &Synth{step: step, volume: volume}
}

// WithRemote adds a second voice driven by step, mixed after attenuation.
func (s *Synth) WithRemote(step Source) *Synth {
	s.remote = step
	return s
}

// Tick advances the accumulators by one sample and returns the unsigned
// 8-bit output.
func (s *Synth) Tick() uint8 {
	vol := s.volume.Load()
	s.phase += s.step.Load()
	v := Voice(s.phase, vol)
	if s.remote != nil {
		s.remotePhase += s.remote.Load()
		v += Voice(s.remotePhase, vol)
		if v > 127 {
			v = 127
		} else if v < -128 {
			v = -128
		}
	}
	return uint8(v + 128)
}

// Fill writes one Tick per byte of p.
func (s *Synth) Fill(p []byte) {
	for i := range p {
		p[i] = s.Tick()
	}
}

// Phase returns the local accumulator.
func (s *Synth) Phase() uint32 {
	return s.phase
}

// Voice converts an accumulator to a signed sample attenuated for vol. The
// top byte is taken as a sawtooth centred on zero, then shifted right by
// 8-vol with vol clamped to [0, 8].
func Voice(phase, vol uint32) int32 {
	if vol > MaxVolume {
		vol = MaxVolume
	}
	v := int32(phase>>24) - 128
	return v >> (MaxVolume - vol)
}
