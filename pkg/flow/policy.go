// ABOUTME: Watermark policy shared by producer and consumer
// ABOUTME: Validates tides, sizes the ring and computes priming batches
package flow

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
)

// MaxBlocksPerDelivery is the most blocks one delivery frame can carry
const MaxBlocksPerDelivery = math.MaxUint16

// Policy is the flow-control contract both sides of a stream honor.
// All counts are in blocks, never samples or milliseconds.
type Policy struct {
	// LowTide is the live depth below which a refill is requested
	LowTide int
	// HighTide caps outstanding requests: a refill is only issued while
	// outstanding + BufferRequestSize stays below it
	HighTide int
	// BufferRequestSize is the number of blocks asked for per refill
	BufferRequestSize int
	// Resolution is negotiated once and never changes mid-stream
	Resolution audio.Resolution
	// Channels is the number of blocks consumed per tick
	Channels int
	// MaxOutstanding caps distinct in-flight requests (0 = no cap)
	MaxOutstanding int
}

// DefaultPolicy returns the reference tides for a stereo full-precision stream
func DefaultPolicy() Policy {
	return Policy{
		LowTide:           10,
		HighTide:          50,
		BufferRequestSize: 10,
		Resolution:        audio.ResolutionFull,
		Channels:          2,
	}
}

// Validate checks the policy invariants
func (p Policy) Validate() error {
	if p.LowTide <= 0 || p.HighTide <= p.LowTide {
		return fmt.Errorf("%w (low=%d, high=%d)", ErrInvalidTides, p.LowTide, p.HighTide)
	}
	if p.Channels != 1 && p.Channels != 2 {
		return fmt.Errorf("%w (got %d)", ErrInvalidChannels, p.Channels)
	}
	if p.BufferRequestSize <= 0 || p.BufferRequestSize%p.Channels != 0 {
		return fmt.Errorf("%w (size=%d, channels=%d)", ErrInvalidRequestSize, p.BufferRequestSize, p.Channels)
	}
	if !p.Resolution.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidResolution, p.Resolution)
	}
	if p.MaxOutstanding < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidOutstanding, p.MaxOutstanding)
	}
	// Check the operands first so PrimeBlocks cannot overflow
	if p.HighTide > MaxBlocksPerDelivery || p.BufferRequestSize > MaxBlocksPerDelivery ||
		p.PrimeBlocks() > MaxBlocksPerDelivery {
		return fmt.Errorf("%w (high=%d, size=%d, max=%d)",
			ErrPolicyTooLarge, p.HighTide, p.BufferRequestSize, MaxBlocksPerDelivery)
	}
	return nil
}

// Warnings returns advisory notes for a valid but questionable policy
func (p Policy) Warnings() []string {
	var warnings []string
	if p.BufferRequestSize > p.HighTide-p.LowTide {
		warnings = append(warnings, fmt.Sprintf(
			"buffer request size %d exceeds tide margin %d; one refill can cross both watermarks",
			p.BufferRequestSize, p.HighTide-p.LowTide))
	}
	if p.BufferRequestSize >= p.HighTide {
		warnings = append(warnings, fmt.Sprintf(
			"buffer request size %d never fits under high tide %d; no refill will be issued",
			p.BufferRequestSize, p.HighTide))
	}
	return warnings
}

// ShouldRequest is the per-tick refill decision
func (p Policy) ShouldRequest(liveDepth, outstanding int) bool {
	return liveDepth < p.LowTide && outstanding+p.BufferRequestSize < p.HighTide
}

// PrimeBlocks is the size of the unsolicited start-up batch. It clears
// HighTide so the first ticks never see an empty queue.
func (p Policy) PrimeBlocks() int {
	return RoundToChannels(p.HighTide+p.BufferRequestSize, p.Channels)
}

// Capacity is the ring size: room for the priming batch plus everything
// the high tide lets be outstanding, rounded up to a power of two.
func (p Policy) Capacity() int {
	need := p.PrimeBlocks() + p.HighTide + p.BufferRequestSize
	capacity := 1
	for capacity < need {
		capacity <<= 1
	}
	return capacity
}

// CompatibleWith reports whether next may replace p on a running stream
func (p Policy) CompatibleWith(next Policy) error {
	if p.Resolution != next.Resolution || p.Channels != next.Channels {
		return ErrImmutableField
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Capacity() > p.Capacity() {
		return fmt.Errorf("%w (needs a ring of %d blocks, stream has %d)",
			ErrInvalidTides, next.Capacity(), p.Capacity())
	}
	return nil
}

// MaxUnderrunFreeLatency is the longest reply latency that never starves
// the consumer. A refill is first requested with less than LowTide blocks
// queued, and at most HighTide-BufferRequestSize blocks can be in flight,
// so the smaller of the two, consumed Channels blocks per tick, bounds it.
func MaxUnderrunFreeLatency(p Policy, sampleRate int) time.Duration {
	margin := min(p.LowTide, p.HighTide-p.BufferRequestSize)
	ticks := margin / p.Channels
	return time.Duration(ticks) * audio.QuantumDuration(sampleRate)
}

// RoundToChannels rounds n up to a multiple of channels
func RoundToChannels(n, channels int) int {
	if channels <= 1 {
		return n
	}
	if rem := n % channels; rem != 0 {
		n += channels - rem
	}
	return n
}

// Holder publishes policy snapshots to the real-time side. Writers swap a
// whole snapshot between ticks; the tick loads it once per quantum.
type Holder struct {
	p atomic.Pointer[Policy]
}

// NewHolder creates a holder with an initial snapshot
func NewHolder(p Policy) *Holder {
	h := &Holder{}
	h.p.Store(&p)
	return h
}

// Load returns the current snapshot
func (h *Holder) Load() *Policy {
	return h.p.Load()
}

// Store publishes a new snapshot
func (h *Holder) Store(p Policy) {
	h.p.Store(&p)
}
