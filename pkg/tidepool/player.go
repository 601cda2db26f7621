// ABOUTME: High-level Player API for remote streams
// ABOUTME: Connects to a producer over WebSocket and plays through a local output
package tidepool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/tidepool/internal/version"
	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/audio/output"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	"github.com/Resonate-Protocol/tidepool/pkg/transport"
	"github.com/google/uuid"
)

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// ServerAddr is the server address (host:port)
	ServerAddr string

	// PlayerName is the display name for this player
	PlayerName string

	// Policy sets the tides (default: flow.DefaultPolicy)
	Policy flow.Policy

	// SampleRate requested from the server (default 48000)
	SampleRate int

	// Volume is the initial volume (0-100, default 100)
	Volume int

	// Output plays the stream (default: malgo)
	Output output.Output

	// MonitorInterval logs consumer health periodically when set
	MonitorInterval time.Duration
}

// volumeControl is implemented by backends with software volume
type volumeControl interface {
	SetVolume(int)
	SetMuted(bool)
	GetVolume() int
	IsMuted() bool
}

// PlayerStats contains playback statistics
type PlayerStats struct {
	stream.Stats
	State     stream.State
	Connected bool
	Server    string
}

// Player plays a remote stream
type Player struct {
	config PlayerConfig

	client   *transport.Client
	consumer *stream.Consumer
	output   output.Output

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopOnce sync.Once
}

// NewPlayer creates a new player with the given configuration
func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.Policy == (flow.Policy{}) {
		config.Policy = flow.DefaultPolicy()
	}
	if config.SampleRate == 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.PlayerName == "" {
		config.PlayerName = "Tidepool Player"
	}
	if config.Output == nil {
		config.Output = output.NewMalgo()
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream policy: %w", err)
	}

	if vc, ok := config.Output.(volumeControl); ok {
		vc.SetVolume(config.Volume)
	}

	return &Player{config: config, output: config.Output}, nil
}

// Connect dials the server, waits for the priming batch and starts playback
func (p *Player) Connect(ctx context.Context) error {
	hello := protocol.ClientHello{
		ClientID:   uuid.New().String(),
		Name:       p.config.PlayerName,
		Version:    version.ProtocolVersion,
		SampleRate: p.config.SampleRate,
		Policy:     protocol.NewPolicyState(p.config.Policy),
		DeviceInfo: &protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	}

	client, err := transport.Dial(ctx, transport.ClientConfig{
		ServerAddr:    p.config.ServerAddr,
		Hello:         hello,
		RequestBuffer: requestBuffer(p.config.Policy),
	})
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	consumer, err := stream.NewConsumer(p.config.Policy, client.Requests())
	if err != nil {
		client.Close()
		return err
	}

	if err := awaitPrime(ctx, consumer, client.Deliveries()); err != nil {
		client.Close()
		return err
	}

	p.mu.Lock()
	p.client = client
	p.consumer = consumer
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("Connected to server: %s", p.config.ServerAddr)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		consumer.Pump(p.ctx, client.Deliveries())
	}()
	go func() {
		defer p.wg.Done()
		select {
		case <-client.Done():
			log.Printf("Server connection lost")
			consumer.Stop()
		case <-p.ctx.Done():
		}
	}()

	if p.config.MonitorInterval > 0 {
		go stream.Monitor(p.ctx, consumer, p.config.MonitorInterval)
	}

	if err := p.output.Open(p.config.SampleRate, p.config.Policy.Channels); err != nil {
		p.Close()
		return fmt.Errorf("failed to initialize output: %w", err)
	}
	if err := p.output.Start(consumer); err != nil {
		p.Close()
		return fmt.Errorf("failed to start output: %w", err)
	}

	return nil
}

// Done is closed when the stream stops for any reason
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumer == nil {
		return nil
	}
	return p.consumer.Done()
}

// Stats returns a snapshot of playback statistics
func (p *Player) Stats() PlayerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PlayerStats{Server: p.config.ServerAddr}
	if p.consumer == nil {
		return stats
	}
	stats.Stats = p.consumer.Stats()
	stats.State = p.consumer.State()
	select {
	case <-p.client.Done():
	default:
		stats.Connected = true
	}
	return stats
}

// Policy returns the current stream policy
func (p *Player) Policy() flow.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumer == nil {
		return p.config.Policy
	}
	return p.consumer.Policy()
}

// SetPolicy retunes the tides of the running stream
func (p *Player) SetPolicy(next flow.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumer == nil {
		return fmt.Errorf("not connected")
	}
	return p.consumer.SetPolicy(next)
}

// SetVolume sets output volume when the backend supports it
func (p *Player) SetVolume(volume int) {
	if vc, ok := p.output.(volumeControl); ok {
		vc.SetVolume(volume)
	}
}

// SetMuted sets output mute when the backend supports it
func (p *Player) SetMuted(muted bool) {
	if vc, ok := p.output.(volumeControl); ok {
		vc.SetMuted(muted)
	}
}

// Volume reports the output volume and mute state
func (p *Player) Volume() (int, bool) {
	if vc, ok := p.output.(volumeControl); ok {
		return vc.GetVolume(), vc.IsMuted()
	}
	return 100, false
}

// Close stops playback and disconnects
func (p *Player) Close() error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		consumer, client, cancel := p.consumer, p.client, p.cancel
		p.mu.Unlock()

		if consumer != nil {
			consumer.Stop()
		}
		err = p.output.Close()
		if cancel != nil {
			cancel()
		}
		if client != nil {
			client.Close()
		}
		p.wg.Wait()
		if consumer != nil {
			consumer.Release()
		}
	})
	return err
}
