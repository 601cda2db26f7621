// ABOUTME: Software volume and mute shared by output backends
// ABOUTME: Safe to change from a UI goroutine while the device renders
package output

import (
	"log"
	"math"
	"sync/atomic"
)

// Volume holds a 0-100 level and a mute flag
type Volume struct {
	level atomic.Int32
	muted atomic.Bool
}

// NewVolume starts at full volume
func NewVolume() *Volume {
	v := &Volume{}
	v.level.Store(100)
	return v
}

// SetVolume sets the volume (0-100)
func (v *Volume) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	v.level.Store(int32(volume))
	log.Printf("Volume set to %d", volume)
}

// SetMuted sets mute state
func (v *Volume) SetMuted(muted bool) {
	v.muted.Store(muted)
	log.Printf("Muted: %v", muted)
}

// GetVolume returns current volume
func (v *Volume) GetVolume() int {
	return int(v.level.Load())
}

// IsMuted returns mute state
func (v *Volume) IsMuted() bool {
	return v.muted.Load()
}

// gain is the current multiplier
func (v *Volume) gain() float32 {
	if v.muted.Load() {
		return 0
	}
	return float32(v.level.Load()) / 100
}

// applyVolume scales samples in place with clipping protection
func applyVolume(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		scaled := s * gain
		if scaled > 1 {
			scaled = 1
		} else if scaled < -1 {
			scaled = -1
		} else if math.IsNaN(float64(scaled)) {
			scaled = 0
		}
		samples[i] = scaled
	}
}
