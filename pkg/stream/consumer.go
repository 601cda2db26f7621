// ABOUTME: Real-time consumer that feeds one render quantum per tick
// ABOUTME: Drains the block ring and issues watermark-driven refill requests
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
)

// Renderer is the render-quantum contract a host audio engine drives.
// out holds one slice per output channel, each audio.Quantum long.
// The return value asks the host to keep the stream alive.
type Renderer interface {
	Process(out [][]float32) bool
}

// State is the advisory state of the last tick
type State int32

const (
	StateIdle State = iota
	StateDelivering
	StateReplenishing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDelivering:
		return "delivering"
	case StateReplenishing:
		return "replenishing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Consumer is the real-time side of a stream.
//
// Field ownership:
//   - ring back cursor, requested: render tick only
//   - ring front cursor, credited: message pump only
//
// Outstanding blocks are requested - credited, which is never negative
// because the pump never credits more than it observes outstanding.
type Consumer struct {
	base     flow.Policy
	policy   *flow.Holder
	ring     *Ring
	requests chan<- protocol.Request
	channels int

	// scratch receives blocks for channels the host did not supply
	scratch []float32

	requested atomic.Int64
	credited  atomic.Int64

	state     atomic.Int32
	stopped   atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	lastFault atomic.Value

	ticks      atomic.Int64
	underruns  atomic.Int64
	issued     atomic.Int64
	coalesced  atomic.Int64
	delivered  atomic.Int64
	overflowed atomic.Int64
	malformed  atomic.Int64
	late       atomic.Int64
	faults     atomic.Int64
}

// NewConsumer creates a consumer for policy. Refill requests are sent
// without blocking on requests; a full channel coalesces the request.
func NewConsumer(policy flow.Policy, requests chan<- protocol.Request) (*Consumer, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream policy: %w", err)
	}

	return &Consumer{
		base:     policy,
		policy:   flow.NewHolder(policy),
		ring:     NewRing(policy.Capacity(), policy.Resolution),
		requests: requests,
		channels: policy.Channels,
		scratch:  make([]float32, audio.Quantum),
		done:     make(chan struct{}),
	}, nil
}

// Process renders one quantum into out. It never blocks or panics out to
// the caller, and only the recovered-fault path allocates.
func (c *Consumer) Process(out [][]float32) (alive bool) {
	if c.stopped.Load() {
		silence(out)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			silence(out)
			c.faults.Add(1)
			// Allocates, but only after a panic. atomic.Value needs one
			// concrete type, so the fault is kept as a string.
			c.lastFault.Store(fmt.Sprint(r))
			alive = !c.stopped.Load()
		}
	}()

	p := c.policy.Load()
	c.ticks.Add(1)

	depth := c.ring.Depth()
	state := StateIdle

	if depth >= c.channels {
		for ch := 0; ch < c.channels; ch++ {
			c.popChannel(out, ch)
		}
		// mono stream on a wider device: copy channel 0 everywhere
		for ch := c.channels; ch < len(out); ch++ {
			copy(out[ch], out[0])
		}
		state = StateDelivering
	} else {
		silence(out)
		c.underruns.Add(1)
	}

	outstanding := c.requested.Load() - c.credited.Load()
	if p.ShouldRequest(depth, int(outstanding)) && c.belowRequestCap(p, outstanding) {
		select {
		case c.requests <- protocol.Request{BlocksNeeded: p.BufferRequestSize}:
			c.requested.Add(int64(p.BufferRequestSize))
			c.issued.Add(1)
			state = StateReplenishing
		default:
			c.coalesced.Add(1)
		}
	}

	c.state.Store(int32(state))
	return true
}

func (c *Consumer) popChannel(out [][]float32, ch int) {
	if ch < len(out) && len(out[ch]) >= audio.Quantum {
		c.ring.PopInto(out[ch])
		return
	}
	c.ring.PopInto(c.scratch)
	if ch < len(out) {
		copy(out[ch], c.scratch)
	}
}

// belowRequestCap applies MaxOutstanding, counting in-flight requests as
// outstanding blocks in units of the request size
func (c *Consumer) belowRequestCap(p *flow.Policy, outstanding int64) bool {
	if p.MaxOutstanding == 0 {
		return true
	}
	size := int64(p.BufferRequestSize)
	inFlight := (outstanding + size - 1) / size
	return inFlight < int64(p.MaxOutstanding)
}

// DeliveryStatus describes what happened to a delivery
type DeliveryStatus int

const (
	DeliveryAccepted DeliveryStatus = iota
	DeliveryPartial
	DeliveryDroppedStopped
	DeliveryDroppedMalformed
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryAccepted:
		return "accepted"
	case DeliveryPartial:
		return "partial"
	case DeliveryDroppedStopped:
		return "dropped (stopped)"
	case DeliveryDroppedMalformed:
		return "dropped (malformed)"
	default:
		return fmt.Sprintf("DeliveryStatus(%d)", int(s))
	}
}

// DeliveryResult reports the outcome of Deliver
type DeliveryResult struct {
	Status   DeliveryStatus
	Accepted int
	Overflow int
}

// Deliver enqueues a delivery. It must only be called from one goroutine,
// the message pump.
func (c *Consumer) Deliver(d protocol.Delivery) DeliveryResult {
	if c.stopped.Load() {
		c.late.Add(1)
		return DeliveryResult{Status: DeliveryDroppedStopped}
	}

	if !c.wellFormed(d) {
		c.malformed.Add(1)
		return DeliveryResult{Status: DeliveryDroppedMalformed}
	}

	accepted := c.ring.PushBatch(d.Blocks)
	overflow := len(d.Blocks) - accepted
	c.delivered.Add(int64(accepted))
	if overflow > 0 {
		c.overflowed.Add(int64(overflow))
	}

	if !d.Prime {
		outstanding := c.requested.Load() - c.credited.Load()
		credit := min(int64(len(d.Blocks)), outstanding)
		if credit > 0 {
			c.credited.Add(credit)
		}
	}

	if overflow > 0 {
		return DeliveryResult{Status: DeliveryPartial, Accepted: accepted, Overflow: overflow}
	}
	return DeliveryResult{Status: DeliveryAccepted, Accepted: accepted}
}

func (c *Consumer) wellFormed(d protocol.Delivery) bool {
	if d.Resolution != c.base.Resolution || len(d.Blocks)%c.channels != 0 {
		return false
	}
	for _, b := range d.Blocks {
		if b.Len() != audio.Quantum || b.Resolution() != d.Resolution {
			return false
		}
	}
	return true
}

// Pump delivers messages from deliveries until ctx is done, the channel
// closes or the consumer stops.
func (c *Consumer) Pump(ctx context.Context, deliveries <-chan protocol.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.Deliver(d)
		}
	}
}

// SetPolicy swaps the tides between ticks. Resolution and channels are
// fixed, and the new policy must fit the ring allocated at construction.
func (c *Consumer) SetPolicy(next flow.Policy) error {
	if err := c.base.CompatibleWith(next); err != nil {
		return fmt.Errorf("policy update rejected: %w", err)
	}
	c.policy.Store(next)
	return nil
}

// Policy returns the current policy snapshot
func (c *Consumer) Policy() flow.Policy {
	return *c.policy.Load()
}

// Stop stops requests and drops later deliveries. Idempotent.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.state.Store(int32(StateStopped))
		close(c.done)
	})
}

// Done is closed once the consumer stops
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Release frees the ring. Call after Stop, once the render driver has
// stopped calling Process and the pump has returned.
func (c *Consumer) Release() {
	c.Stop()
	c.ring.Release()
}

// State returns the state of the last tick
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// LastFault returns the most recent recovered tick fault, if any
func (c *Consumer) LastFault() string {
	if v, ok := c.lastFault.Load().(string); ok {
		return v
	}
	return ""
}

// Stats tracks consumer metrics
type Stats struct {
	FrontIndex    uint64
	BackIndex     uint64
	Depth         int
	DataRequested int64
	Ticks         int64
	Underruns     int64
	Requests      int64
	Coalesced     int64
	Delivered     int64
	Overflowed    int64
	Malformed     int64
	Late          int64
	Faults        int64
}

// Stats returns a snapshot of consumer metrics. Counters are read
// independently, so a snapshot taken mid-tick may be slightly skewed.
func (c *Consumer) Stats() Stats {
	back := c.ring.BackIndex()
	front := c.ring.FrontIndex()
	credited := c.credited.Load()
	requested := c.requested.Load()

	return Stats{
		FrontIndex:    front,
		BackIndex:     back,
		Depth:         int(front - back),
		DataRequested: requested - credited,
		Ticks:         c.ticks.Load(),
		Underruns:     c.underruns.Load(),
		Requests:      c.issued.Load(),
		Coalesced:     c.coalesced.Load(),
		Delivered:     c.delivered.Load(),
		Overflowed:    c.overflowed.Load(),
		Malformed:     c.malformed.Load(),
		Late:          c.late.Load(),
		Faults:        c.faults.Load(),
	}
}

func silence(out [][]float32) {
	for _, ch := range out {
		clear(ch)
	}
}
