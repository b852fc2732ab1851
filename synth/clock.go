package synth

import (
	"context"
	"io"
	"time"

	"keyduet/debug"
)

// clockBatch is the ticker period of the software clock.
const clockBatch = time.Millisecond

// RunClock drives s from a ticker at sampleRate samples per second and writes
// the output to w (io.Discard when nil). It stands in for the hardware timer
// when there is no audio device. Late ticks are caught up so the long-run rate
// stays exact.
func RunClock(ctx context.Context, s *Synth, sampleRate int, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	ticker := time.NewTicker(clockBatch)
	defer ticker.Stop()

	start := time.Now()
	var produced int64
	buf := make([]byte, sampleRate/10+1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			due := int64(now.Sub(start)/time.Millisecond) * int64(sampleRate) / 1000
			for produced < due {
				n := due - produced
				if n > int64(len(buf)) {
					n = int64(len(buf))
				}
				chunk := buf[:n]
				s.Fill(chunk)
				produced += n
				if _, err := w.Write(chunk); err != nil {
					debug.Warn("synth", "sample sink: %v", err)
					w = io.Discard
				}
			}
		}
	}
}
