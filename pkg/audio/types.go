// ABOUTME: Audio type definitions for block streaming
// ABOUTME: Defines sample blocks, resolutions and sample conversions
package audio

import (
	"fmt"
	"math"
	"time"
)

const (
	// Quantum is the number of frames rendered per tick
	Quantum = 128

	// DefaultSampleRate is used when a stream does not specify one
	DefaultSampleRate = 48000

	// quantizedLevels is the top value of an 8-bit quantized sample
	quantizedLevels = 255
)

// Sample is a full-precision amplitude in [-1, 1]
type Sample = float32

// Resolution selects how samples are encoded between producer and consumer
type Resolution uint8

const (
	// ResolutionFull carries float32 samples
	ResolutionFull Resolution = iota
	// ResolutionQuantized carries unsigned 8-bit samples
	ResolutionQuantized
)

func (r Resolution) String() string {
	switch r {
	case ResolutionFull:
		return "full"
	case ResolutionQuantized:
		return "quantized"
	default:
		return fmt.Sprintf("Resolution(%d)", uint8(r))
	}
}

// Valid reports whether r is a known resolution
func (r Resolution) Valid() bool {
	return r == ResolutionFull || r == ResolutionQuantized
}

// ParseResolution parses "full" or "quantized"
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "full", "float", "":
		return ResolutionFull, nil
	case "quantized", "u8", "8bit":
		return ResolutionQuantized, nil
	}
	return 0, fmt.Errorf("unknown resolution: %q (supported: full, quantized)", s)
}

// Block is one channel's worth of samples for a single quantum.
// Exactly one of Samples (full) or Raw (quantized) is populated.
type Block struct {
	Samples []float32
	Raw     []uint8
}

// NewBlock allocates an empty block for the given resolution
func NewBlock(res Resolution) Block {
	if res == ResolutionQuantized {
		return Block{Raw: make([]uint8, Quantum)}
	}
	return Block{Samples: make([]float32, Quantum)}
}

// Len returns the number of samples the block carries
func (b Block) Len() int {
	if b.Raw != nil {
		return len(b.Raw)
	}
	return len(b.Samples)
}

// Resolution reports which encoding the block uses
func (b Block) Resolution() Resolution {
	if b.Raw != nil {
		return ResolutionQuantized
	}
	return ResolutionFull
}

// Decode writes the block's samples into dst as full precision
func (b Block) Decode(dst []float32) {
	if b.Raw != nil {
		for i, v := range b.Raw {
			dst[i] = Dequantize(v)
		}
		return
	}
	copy(dst, b.Samples)
}

// Quantize encodes a sample to unsigned 8-bit
func Quantize(s float32) uint8 {
	v := math.Round(float64(Clamp(s)+1) / 2 * quantizedLevels)
	return uint8(v)
}

// Dequantize decodes an unsigned 8-bit sample (raw/255*2-1)
func Dequantize(v uint8) float32 {
	return float32(v)/quantizedLevels*2 - 1
}

// QuantizeBlock converts a full-precision block into a quantized one
func QuantizeBlock(samples []float32) Block {
	raw := make([]uint8, len(samples))
	for i, s := range samples {
		raw[i] = Quantize(s)
	}
	return Block{Raw: raw}
}

// Clamp limits a sample to [-1, 1]; NaN becomes silence
func Clamp(s float32) float32 {
	switch {
	case s != s:
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// SampleToInt16 converts a float sample to 16-bit PCM
func SampleToInt16(s float32) int16 {
	return int16(Clamp(s) * math.MaxInt16)
}

// SampleFromInt16 converts 16-bit PCM to a float sample
func SampleFromInt16(s int16) float32 {
	return float32(s) / 32768.0
}

// QuantumDuration is the wall-clock length of one tick at sampleRate
func QuantumDuration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return time.Duration(Quantum) * time.Second / time.Duration(sampleRate)
}
