// ABOUTME: Stream protocol package
// ABOUTME: Message types and binary framing shared by producer and consumer
// Package protocol defines the two message shapes that cross between a
// stream's consumer and producer:
//   - Request: the consumer asks for BlocksNeeded more blocks
//   - Delivery: the producer answers with an ordered batch of blocks
//
// Over a network link, control messages travel as JSON text frames wrapped in
// Message, and deliveries as binary frames (see EncodeDelivery).
package protocol
