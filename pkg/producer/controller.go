// ABOUTME: Producer controller that answers refill requests with block batches
// ABOUTME: Primes the stream once, then synthesizes exactly what each request asks for
package producer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
)

// faultLogInterval limits how often generator faults are logged
const faultLogInterval = time.Second

// Config holds producer configuration
type Config struct {
	Policy     flow.Policy
	Generator  Generator
	Deliveries chan<- protocol.Delivery
}

// Controller is the producer side of a stream. It keeps no sample state
// beyond what the generator holds.
type Controller struct {
	policy     flow.Policy
	gen        Generator
	deliveries chan<- protocol.Delivery

	// mu serializes generator access
	mu      sync.Mutex
	scratch [][]float32
	primed  atomic.Bool

	lastFaultLog time.Time
	suppressed   int

	requests atomic.Int64
	blocks   atomic.Int64
	faults   atomic.Int64
	clamped  atomic.Int64
}

// New creates a producer controller
func New(cfg Config) (*Controller, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream policy: %w", err)
	}
	if cfg.Generator == nil {
		return nil, ErrNoGenerator
	}
	if cfg.Deliveries == nil {
		return nil, ErrNoDeliveries
	}
	if cfg.Generator.Channels() != cfg.Policy.Channels {
		return nil, fmt.Errorf("%w: generator has %d, policy has %d",
			ErrChannelMismatch, cfg.Generator.Channels(), cfg.Policy.Channels)
	}

	scratch := make([][]float32, cfg.Policy.Channels)
	for i := range scratch {
		scratch[i] = make([]float32, audio.Quantum)
	}

	return &Controller{
		policy:     cfg.Policy,
		gen:        cfg.Generator,
		deliveries: cfg.Deliveries,
		scratch:    scratch,
	}, nil
}

// Prime sends the unsolicited start-up batch. Only the first call sends.
func (c *Controller) Prime(ctx context.Context) error {
	if !c.primed.CompareAndSwap(false, true) {
		return nil
	}

	d := c.Synthesize(c.policy.PrimeBlocks())
	d.Prime = true

	log.Printf("Priming stream with %d blocks", len(d.Blocks))
	return c.send(ctx, d)
}

// Serve primes the stream and then answers requests until ctx is done or
// requests is closed
func (c *Controller) Serve(ctx context.Context, requests <-chan protocol.Request) error {
	if err := c.Prime(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			if req.BlocksNeeded <= 0 {
				continue
			}
			c.requests.Add(1)
			n := req.BlocksNeeded
			// A well-behaved consumer never has more than HighTide outstanding
			if n > c.policy.HighTide {
				c.clamped.Add(1)
				log.Printf("Clamping request for %d blocks to high tide %d", n, c.policy.HighTide)
				n = c.policy.HighTide
			}
			if err := c.send(ctx, c.Synthesize(n)); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) send(ctx context.Context, d protocol.Delivery) error {
	select {
	case c.deliveries <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Synthesize builds a delivery of at least n blocks, rounded up to whole
// quanta. Stereo blocks are interleaved L, R per quantum.
func (c *Controller) Synthesize(n int) protocol.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := c.policy.Channels
	total := flow.RoundToChannels(n, channels)
	blocks := make([]audio.Block, 0, total)

	for q := 0; q < total/channels; q++ {
		c.fill()
		for ch := 0; ch < channels; ch++ {
			blocks = append(blocks, c.encode(c.scratch[ch]))
		}
	}

	c.blocks.Add(int64(len(blocks)))
	return protocol.Delivery{Resolution: c.policy.Resolution, Blocks: blocks}
}

func (c *Controller) encode(samples []float32) audio.Block {
	if c.policy.Resolution == audio.ResolutionQuantized {
		return audio.QuantizeBlock(samples)
	}
	b := audio.NewBlock(audio.ResolutionFull)
	for i, s := range samples {
		b.Samples[i] = audio.Clamp(s)
	}
	return b
}

// fill runs the generator for one quantum; a fault leaves silence
func (c *Controller) fill() {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("generator panic: %v", r)
			}
		}()
		err = c.gen.Fill(c.scratch)
	}()

	if err != nil {
		for _, b := range c.scratch {
			clear(b)
		}
		c.faults.Add(1)
		c.logFault(err)
	}
}

func (c *Controller) logFault(err error) {
	now := time.Now()
	if now.Sub(c.lastFaultLog) < faultLogInterval {
		c.suppressed++
		return
	}

	if c.suppressed > 0 {
		log.Printf("Generator fault, quantum silenced: %v (%d more suppressed)", err, c.suppressed)
	} else {
		log.Printf("Generator fault, quantum silenced: %v", err)
	}
	c.lastFaultLog = now
	c.suppressed = 0
}

// Policy returns the policy the controller was built with
func (c *Controller) Policy() flow.Policy {
	return c.policy
}

// Stats tracks producer metrics
type Stats struct {
	Requests int64
	Blocks   int64
	Faults   int64
	// Clamped counts requests cut down to the high tide
	Clamped int64
}

// Stats returns a snapshot of producer metrics
func (c *Controller) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Blocks:   c.blocks.Load(),
		Faults:   c.faults.Load(),
		Clamped:  c.clamped.Load(),
	}
}
