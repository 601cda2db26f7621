// Package producer answers refill requests with batches of synthesized
// blocks.
//
// A Controller wraps a Generator, which fills one quantum per channel at a
// time. It sends an unsolicited priming batch when the stream starts and
// then one delivery per request. A failing generator yields silence for the
// affected quantum instead of stopping the stream.
package producer
