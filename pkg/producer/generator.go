// ABOUTME: Sample generators that fill one quantum per channel
// ABOUTME: Adapters for mono and stereo sample functions and decoded sources
package producer

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/source"
)

// Generator fills blocks[ch] with the next audio.Quantum samples of
// channel ch
type Generator interface {
	Channels() int
	Fill(blocks [][]float32) error
}

// MonoFunc returns the next mono sample
type MonoFunc func() float32

func (f MonoFunc) Channels() int { return 1 }

func (f MonoFunc) Fill(blocks [][]float32) error {
	for i := range blocks[0] {
		blocks[0][i] = f()
	}
	return nil
}

// StereoFunc returns the next left and right samples
type StereoFunc func() (float32, float32)

func (f StereoFunc) Channels() int { return 2 }

func (f StereoFunc) Fill(blocks [][]float32) error {
	left, right := blocks[0], blocks[1]
	for i := range left {
		left[i], right[i] = f()
	}
	return nil
}

// SourceGenerator reads a decoded source. The source must already match
// the stream's sample rate and channel count (see source.Conform). Once the
// source ends every later quantum is silent.
type SourceGenerator struct {
	src   source.Source
	buf   []float32
	ended bool
}

// NewSourceGenerator wraps src
func NewSourceGenerator(src source.Source) (*SourceGenerator, error) {
	ch := src.Channels()
	if ch < 1 || ch > 2 {
		return nil, fmt.Errorf("source has %d channels: %w", ch, ErrChannelMismatch)
	}
	return &SourceGenerator{
		src: src,
		buf: make([]float32, audio.Quantum*ch),
	}, nil
}

func (g *SourceGenerator) Channels() int { return g.src.Channels() }

func (g *SourceGenerator) Fill(blocks [][]float32) error {
	if g.ended {
		for _, b := range blocks {
			clear(b)
		}
		return nil
	}

	n, err := source.ReadFull(g.src, g.buf)
	clear(g.buf[n:])

	ch := len(blocks)
	for i := 0; i < audio.Quantum; i++ {
		for c := 0; c < ch; c++ {
			blocks[c][i] = g.buf[i*ch+c]
		}
	}

	if errors.Is(err, io.EOF) {
		g.ended = true
		return nil
	}
	return err
}

// Ended reports whether the source has run out
func (g *SourceGenerator) Ended() bool {
	return g.ended
}

// Close closes the underlying source
func (g *SourceGenerator) Close() error {
	return g.src.Close()
}
