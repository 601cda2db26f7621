// ABOUTME: Sample rate and channel adaptation for sources
// ABOUTME: Linear interpolation resampler and a mono/stereo remixer
package source

import "io"

// Conform wraps src so it produces sampleRate and channels
func Conform(src Source, sampleRate, channels int) Source {
	if src.Channels() != channels {
		src = NewRemix(src, channels)
	}
	if src.SampleRate() != sampleRate {
		src = NewResampled(src, sampleRate)
	}
	return src
}

// Resampled converts a source to another sample rate with linear
// interpolation. Interpolation state carries across reads.
type Resampled struct {
	src      Source
	rate     int
	channels int
	ratio    float64

	// output frames sit between prev and next at fraction pos
	pos  float64
	prev []float32
	next []float32

	in     []float32
	inLen  int
	inIdx  int
	primed  bool
	drained bool
	err     error
}

// NewResampled creates a resampler from src's rate to outputRate
func NewResampled(src Source, outputRate int) *Resampled {
	ch := src.Channels()
	return &Resampled{
		src:      src,
		rate:     outputRate,
		channels: ch,
		ratio:    float64(src.SampleRate()) / float64(outputRate),
		prev:     make([]float32, ch),
		next:     make([]float32, ch),
		in:       make([]float32, 1024*ch),
	}
}

// nextFrame shifts the next input frame into place
func (r *Resampled) nextFrame() bool {
	if r.inIdx >= r.inLen {
		if r.err != nil {
			return r.drain()
		}
		n, err := r.src.ReadSamples(r.in)
		r.inLen = n - n%r.channels
		r.inIdx = 0
		r.err = err
		if r.inLen == 0 {
			if r.err == nil {
				r.err = io.ErrNoProgress
			}
			return r.drain()
		}
	}

	copy(r.prev, r.next)
	copy(r.next, r.in[r.inIdx:r.inIdx+r.channels])
	r.inIdx += r.channels
	return true
}

// drain holds the last input frame once so it is emitted before the
// source error surfaces
func (r *Resampled) drain() bool {
	if r.drained || !r.primed {
		return false
	}
	r.drained = true
	copy(r.prev, r.next)
	return true
}

func (r *Resampled) ReadSamples(dst []float32) (int, error) {
	if !r.primed {
		if !r.nextFrame() {
			return 0, r.err
		}
		r.primed = true
		r.pos = 1
	}

	frames := len(dst) / r.channels
	written := 0

	for i := 0; i < frames; i++ {
		for r.pos >= 1 {
			if !r.nextFrame() {
				return written, r.err
			}
			r.pos--
		}

		frac := float32(r.pos)
		for ch := 0; ch < r.channels; ch++ {
			dst[written] = r.prev[ch]*(1-frac) + r.next[ch]*frac
			written++
		}
		r.pos += r.ratio
	}

	return written, nil
}

func (r *Resampled) SampleRate() int { return r.rate }
func (r *Resampled) Channels() int   { return r.channels }
func (r *Resampled) Close() error    { return r.src.Close() }

// Remix maps a source onto a different channel count. Mono is copied to
// every output channel; wider sources fold down by averaging for mono
// output and keep the first channels otherwise.
type Remix struct {
	src      Source
	channels int
	in       []float32
}

// NewRemix creates a remixer producing channels outputs
func NewRemix(src Source, channels int) *Remix {
	return &Remix{src: src, channels: channels}
}

func (m *Remix) ReadSamples(dst []float32) (int, error) {
	inCh := m.src.Channels()
	frames := len(dst) / m.channels
	need := frames * inCh
	if cap(m.in) < need {
		m.in = make([]float32, need)
	}

	n, err := m.src.ReadSamples(m.in[:need])
	got := n / inCh

	for f := 0; f < got; f++ {
		frame := m.in[f*inCh : (f+1)*inCh]
		out := dst[f*m.channels : (f+1)*m.channels]
		switch {
		case inCh == 1:
			for ch := range out {
				out[ch] = frame[0]
			}
		case m.channels == 1:
			var sum float32
			for _, v := range frame {
				sum += v
			}
			out[0] = sum / float32(inCh)
		default:
			for ch := range out {
				if ch < inCh {
					out[ch] = frame[ch]
				} else {
					out[ch] = 0
				}
			}
		}
	}

	return got * m.channels, err
}

func (m *Remix) SampleRate() int { return m.src.SampleRate() }
func (m *Remix) Channels() int   { return m.channels }
func (m *Remix) Close() error    { return m.src.Close() }
