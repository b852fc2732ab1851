// Package tuning builds the per-semitone phase increments used by the
// sawtooth oscillator. Tuning is twelve-tone equal temperament anchored at
// A4 = 440 Hz.
package tuning

import (
	"fmt"
	"math"
)

const (
	Semitones = 12

	// ReferenceOctave is the octave the base frequencies belong to (A4 lives here).
	ReferenceOctave = 4
	MinOctave       = 0
	MaxOctave       = 8

	ReferencePitch = 440.0
	referenceIndex = 9 // A

	DefaultSampleRate = 22000
)

var noteNames = [Semitones]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the name of semitone i (0 = C). Out of range indices give "?".
func NoteName(i int) string {
	if i < 0 || i >= Semitones {
		return "?"
	}
	return noteNames[i]
}

// Table holds one phase increment per semitone for a single octave.
type Table [Semitones]uint32

// Frequency returns the reference-octave frequency of semitone i in Hz.
func Frequency(i int) float64 {
	ratio := math.Pow(2, 1.0/12.0)
	if i >= referenceIndex {
		return ReferencePitch * math.Pow(ratio, float64(i-referenceIndex))
	}
	return ReferencePitch / math.Pow(ratio, float64(referenceIndex-i))
}

// ClampOctave limits an octave number to the range the table can represent
// without overflowing a 32-bit increment.
func ClampOctave(octave int) int {
	return max(MinOctave, min(octave, MaxOctave))
}

// Builder computes tables for one sample rate. The reference-octave
// increments are kept as exact mantissa/exponent pairs, so an octave shift is
// a plain bit shift that truncates exactly like floor(2^(octave-4) * inc).
type Builder struct {
	sampleRate int
	mant       [Semitones]uint64
	exp        [Semitones]int
}

// NewBuilder prepares a builder for sampleRate ticks per second.
func NewBuilder(sampleRate int) (*Builder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("tuning: invalid sample rate %d", sampleRate)
	}
	b := &Builder{sampleRate: sampleRate}
	for i := 0; i < Semitones; i++ {
		inc := math.Pow(2, 32) * Frequency(i) / float64(sampleRate)
		frac, e := math.Frexp(inc)
		b.mant[i] = uint64(math.Ldexp(frac, 53))
		b.exp[i] = e - 53
	}
	return b, nil
}

// SampleRate returns the tick rate the builder was created for.
func (b *Builder) SampleRate() int {
	return b.sampleRate
}

// Build returns the table for octave. The octave is clamped to
// [MinOctave, MaxOctave].
func (b *Builder) Build(octave int) Table {
	shift := ClampOctave(octave) - ReferenceOctave
	var t Table
	for i := range t {
		s := b.exp[i] + shift
		switch {
		case s >= 0:
			t[i] = uint32(b.mant[i] << uint(s))
		case s > -64:
			t[i] = uint32(b.mant[i] >> uint(-s))
		}
	}
	return t
}

var defaultBuilder, _ = NewBuilder(DefaultSampleRate)

// Build returns the table for octave at DefaultSampleRate.
func Build(octave int) Table {
	return defaultBuilder.Build(octave)
}
