// Package flow defines the watermark policy shared by a stream's producer and
// its real-time consumer.
//
// A consumer requests BufferRequestSize blocks whenever its live depth falls
// below LowTide and the blocks already requested plus the new request stay
// under HighTide. The policy shapes the probability of underrun and overflow;
// it cannot rule either out because delivery latency is unbounded.
package flow
