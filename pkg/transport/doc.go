// Package transport carries refill requests and block deliveries between a
// consumer and a producer.
//
// A Pipe connects both ends in process, optionally delaying deliveries to
// model a slow channel. Over a network, Server accepts WebSocket sessions
// and Dial opens one from the consumer side. Control messages travel as
// JSON text frames and deliveries as binary frames.
//
// Channels are unreliable from the stream's point of view: a lost request
// is never retried explicitly, the consumer simply asks again once its
// queue drops below the low tide.
package transport
