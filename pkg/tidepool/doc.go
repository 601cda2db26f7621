// ABOUTME: High-level tidepool library API
// ABOUTME: Wires producers, consumers, transports and outputs together
// Package tidepool provides high-level APIs for pull-based audio streaming.
//
// This is the main entry point for most library users, providing:
//   - LocalStream: producer and consumer in one process
//   - Player: consume a remote producer and play it on a local device
//   - Server: host producers for remote players
//
// For lower-level control, see the stream, producer, flow and transport
// packages.
//
// Example LocalStream:
//
//	phase := 0.0
//	gen := producer.MonoFunc(func() float32 {
//	    phase += 2 * math.Pi * 440 / 48000
//	    return float32(math.Sin(phase)) * 0.3
//	})
//	policy := flow.DefaultPolicy()
//	policy.Channels = 1
//	s, err := tidepool.NewLocalStream(tidepool.LocalConfig{
//	    Policy:    policy,
//	    Generator: gen,
//	    Output:    output.NewMalgo(),
//	})
//	err = s.Start(ctx)
//
// Example Player:
//
//	player, err := tidepool.NewPlayer(tidepool.PlayerConfig{
//	    ServerAddr: "localhost:8937",
//	    PlayerName: "Living Room",
//	})
//	err = player.Connect(ctx)
package tidepool
