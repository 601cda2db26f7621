// ABOUTME: Adapts arbitrary device buffer sizes to fixed render quanta
// ABOUTME: Preallocates one quantum per channel and never allocates while rendering
package output

import (
	"sync/atomic"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
)

// Framer pulls quanta from a renderer and hands them out as interleaved
// frames of any length. Only the device callback goroutine may call Fill.
type Framer struct {
	r        stream.Renderer
	channels int
	volume   *Volume

	planes [][]float32
	// next unread frame in planes; audio.Quantum means empty
	pos int

	finished atomic.Bool
}

// NewFramer creates a framer for channels interleaved outputs
func NewFramer(r stream.Renderer, channels int, volume *Volume) *Framer {
	planes := make([][]float32, channels)
	for i := range planes {
		planes[i] = make([]float32, audio.Quantum)
	}
	if volume == nil {
		volume = NewVolume()
	}
	return &Framer{
		r:        r,
		channels: channels,
		volume:   volume,
		planes:   planes,
		pos:      audio.Quantum,
	}
}

// Fill writes len(dst)/channels interleaved frames. After the renderer
// reports it is finished the remaining output is silence.
func (f *Framer) Fill(dst []float32) {
	frames := len(dst) / f.channels
	gain := f.volume.gain()

	for i := 0; i < frames; {
		if f.pos == audio.Quantum {
			f.tick()
		}

		n := min(audio.Quantum-f.pos, frames-i)
		for j := 0; j < n; j++ {
			for ch := 0; ch < f.channels; ch++ {
				dst[(i+j)*f.channels+ch] = f.planes[ch][f.pos+j]
			}
		}
		f.pos += n
		i += n
	}

	applyVolume(dst[:frames*f.channels], gain)
}

func (f *Framer) tick() {
	f.pos = 0
	if f.finished.Load() {
		for _, p := range f.planes {
			clear(p)
		}
		return
	}
	if !f.r.Process(f.planes) {
		f.finished.Store(true)
	}
}

// Finished reports whether the renderer asked to stop
func (f *Framer) Finished() bool {
	return f.finished.Load()
}
