// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Block, Resolution and sample conversion functions
// Package audio provides the fundamental types shared by the producer and the
// real-time consumer.
//
// This package defines:
//   - Block: one channel's quantum (128 frames) of samples
//   - Resolution: full float32 samples or 8-bit quantized samples
//
// It also provides conversions:
//   - float ↔ 8-bit quantized (raw/255*2-1)
//   - float ↔ 16-bit PCM
//
// Example:
//
//	b := audio.QuantizeBlock(samples)
//	out := make([]float32, audio.Quantum)
//	b.Decode(out)
package audio
