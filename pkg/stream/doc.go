// ABOUTME: Real-time consumer package
// ABOUTME: Block ring, render tick and message pump for pull-based streams
// Package stream implements the real-time side of a pull-based audio stream.
//
// A Consumer is driven by a host audio engine through Process, once per
// render quantum. Each tick dequeues one block per output channel from a
// preallocated Ring and, when the live depth falls below the low tide,
// posts a refill Request without blocking. Deliveries from the producer
// arrive through Deliver, called from a single message-pump goroutine.
//
// The render path takes no locks and allocates nothing outside recovering
// a panic: the ring cursors and request counters each have exactly one
// writer.
//
// Example:
//
//	requests := make(chan protocol.Request, 8)
//	c, err := stream.NewConsumer(flow.DefaultPolicy(), requests)
//	go c.Pump(ctx, deliveries)
//	out := [][]float32{make([]float32, audio.Quantum), make([]float32, audio.Quantum)}
//	c.Process(out)
package stream
