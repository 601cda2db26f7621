// ABOUTME: Fixed-capacity block ring shared by the message pump and the render tick
// ABOUTME: Single writer per cursor, no locks, no allocation after construction
package stream

import (
	"sync/atomic"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
)

// Ring is a single-producer single-consumer queue of blocks.
//
// front counts blocks ever enqueued and is written only by the pump;
// back counts blocks ever dequeued and is written only by the tick.
// Slot contents are written before front is published, so a tick that
// observes front has a fully written slot.
type Ring struct {
	slots []slot
	mask  uint64
	res   audio.Resolution

	front atomic.Uint64
	back  atomic.Uint64
}

type slot struct {
	samples []float32
	raw     []uint8
}

// NewRing preallocates capacity slots; capacity must be a power of two
func NewRing(capacity int, res audio.Resolution) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("stream: ring capacity must be a power of two")
	}

	r := &Ring{
		slots: make([]slot, capacity),
		mask:  uint64(capacity - 1),
		res:   res,
	}
	for i := range r.slots {
		if res == audio.ResolutionQuantized {
			r.slots[i].raw = make([]uint8, audio.Quantum)
		} else {
			r.slots[i].samples = make([]float32, audio.Quantum)
		}
	}
	return r
}

// Cap returns the number of slots
func (r *Ring) Cap() int {
	return len(r.slots)
}

// FrontIndex returns the count of blocks ever enqueued
func (r *Ring) FrontIndex() uint64 {
	return r.front.Load()
}

// BackIndex returns the count of blocks ever dequeued
func (r *Ring) BackIndex() uint64 {
	return r.back.Load()
}

// Depth returns the live queue depth
func (r *Ring) Depth() int {
	back := r.back.Load()
	front := r.front.Load()
	return int(front - back)
}

// PushBatch copies blocks into free slots and publishes them at once.
// Blocks that do not fit are not enqueued; the count accepted is returned.
// Pump side only.
func (r *Ring) PushBatch(blocks []audio.Block) int {
	if r.slots == nil {
		return 0
	}
	front := r.front.Load()
	free := uint64(len(r.slots)) - (front - r.back.Load())

	n := uint64(len(blocks))
	if n > free {
		n = free
	}

	for i := uint64(0); i < n; i++ {
		s := &r.slots[(front+i)&r.mask]
		b := blocks[i]
		if r.res == audio.ResolutionQuantized {
			copy(s.raw, b.Raw)
		} else {
			copy(s.samples, b.Samples)
		}
	}

	r.front.Store(front + n)
	return int(n)
}

// PopInto decodes the oldest block into dst and dequeues it. dst must hold
// at least audio.Quantum samples. Tick side only.
func (r *Ring) PopInto(dst []float32) bool {
	back := r.back.Load()
	if back == r.front.Load() {
		return false
	}

	s := &r.slots[back&r.mask]
	if r.res == audio.ResolutionQuantized {
		for i, v := range s.raw {
			dst[i] = audio.Dequantize(v)
		}
	} else {
		copy(dst, s.samples)
	}

	r.back.Store(back + 1)
	return true
}

// Release drops the slot storage. Call only once neither side touches
// the ring any more.
func (r *Ring) Release() {
	r.slots = nil
}
