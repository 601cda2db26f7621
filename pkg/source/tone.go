// ABOUTME: Sine tone source for testing and demos
// ABOUTME: Generates an endless tone at a fixed amplitude on every channel
package source

import "math"

// Tone generates a sine wave
type Tone struct {
	frequency  float64
	amplitude  float64
	sampleRate int
	channels   int
	frame      uint64
}

// NewTone creates a tone at half scale
func NewTone(frequency float64, sampleRate, channels int) *Tone {
	return &Tone{
		frequency:  frequency,
		amplitude:  0.5,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (t *Tone) ReadSamples(dst []float32) (int, error) {
	frames := len(dst) / t.channels

	for i := 0; i < frames; i++ {
		phase := float64(t.frame+uint64(i)) / float64(t.sampleRate)
		v := float32(t.amplitude * math.Sin(2*math.Pi*t.frequency*phase))
		for ch := 0; ch < t.channels; ch++ {
			dst[i*t.channels+ch] = v
		}
	}
	t.frame += uint64(frames)

	return frames * t.channels, nil
}

func (t *Tone) SampleRate() int { return t.sampleRate }
func (t *Tone) Channels() int   { return t.channels }
func (t *Tone) Close() error    { return nil }
