package synth

import (
	"fmt"
	"io"
	"os"
	"sync"

	wav "github.com/youpy/go-wav"
)

// Recorder captures a fixed number of 8-bit output samples into a 16-bit mono
// WAV stream. Samples past the end are ignored; Close pads whatever is
// missing with silence so the header always matches the data.
type Recorder struct {
	mu        sync.Mutex
	w         *wav.Writer
	out       io.WriteCloser
	remaining int
	batch     []wav.Sample
	closed    bool
}

// NewRecorder writes a WAV of seconds*sampleRate samples to out.
func NewRecorder(out io.WriteCloser, sampleRate, seconds int) *Recorder {
	n := sampleRate * seconds
	return &Recorder{
		w:         wav.NewWriter(out, uint32(n), 1, uint32(sampleRate), 16),
		out:       out,
		remaining: n,
		batch:     make([]wav.Sample, 0, 1024),
	}
}

// CreateRecorder creates path and records into it.
func CreateRecorder(path string, sampleRate, seconds int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("synth: record: %w", err)
	}
	return NewRecorder(f, sampleRate, seconds), nil
}

// Write takes unsigned 8-bit samples as produced by Synth.Tick.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.remaining == 0 {
		return len(p), nil
	}
	take := p
	if len(take) > r.remaining {
		take = take[:r.remaining]
	}
	written := 0
	for written < len(take) {
		n := min(len(take)-written, cap(r.batch))
		r.batch = r.batch[:n]
		for i, b := range take[written : written+n] {
			r.batch[i] = wav.Sample{Values: [2]int{(int(b) - 128) << 8}}
		}
		if err := r.w.WriteSamples(r.batch); err != nil {
			return written, err
		}
		r.remaining -= n
		written += n
	}
	return len(p), nil
}

// Remaining returns how many samples are still to be captured.
func (r *Recorder) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// Close pads the recording to its declared length and closes the output.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	for r.remaining > 0 {
		n := min(r.remaining, cap(r.batch))
		r.batch = r.batch[:n]
		clear(r.batch)
		if err := r.w.WriteSamples(r.batch); err != nil {
			r.out.Close()
			return err
		}
		r.remaining -= n
	}
	return r.out.Close()
}
