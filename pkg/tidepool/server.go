// ABOUTME: High-level Server API hosting one producer per remote player
// ABOUTME: Negotiates the policy in the handshake and advertises itself via mDNS
package tidepool

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/Resonate-Protocol/tidepool/internal/discovery"
	"github.com/Resonate-Protocol/tidepool/internal/version"
	"github.com/Resonate-Protocol/tidepool/pkg/producer"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/Resonate-Protocol/tidepool/pkg/source"
	"github.com/Resonate-Protocol/tidepool/pkg/transport"
)

// GeneratorFactory builds a fresh generator for one session
type GeneratorFactory func(sampleRate, channels int) (producer.Generator, error)

// ServerConfig configures a tidepool server
type ServerConfig struct {
	// Port to listen on (default: 8937)
	Port int

	// Name of the server for identification
	Name string

	// Generators makes one generator per session (required)
	Generators GeneratorFactory

	// SourceName is shown to players
	SourceName string

	// MaxSampleRate rejects players asking for more (default 192000)
	MaxSampleRate int

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool
}

// Server hosts producers for remote players
type Server struct {
	config    ServerConfig
	transport *transport.Server
	mdns      *discovery.Manager
}

// SessionInfo describes a connected player
type SessionInfo = transport.SessionInfo

// NewServer creates a new server
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port == 0 {
		config.Port = 8937
	}
	if config.Name == "" {
		config.Name = "Tidepool Server"
	}
	if config.MaxSampleRate == 0 {
		config.MaxSampleRate = 192000
	}
	if config.Generators == nil {
		return nil, fmt.Errorf("generator factory is required")
	}

	s := &Server{config: config}

	ts, err := transport.NewServer(transport.ServerConfig{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Accept:  s.accept,
		Handler: s.serveSession,
	})
	if err != nil {
		return nil, err
	}
	s.transport = ts

	return s, nil
}

// SourceGenerators opens path once per session and conforms it to the
// player's format
func SourceGenerators(path string, loop bool) GeneratorFactory {
	return func(sampleRate, channels int) (producer.Generator, error) {
		src, err := source.Open(path, loop)
		if err != nil {
			return nil, err
		}
		return producer.NewSourceGenerator(source.Conform(src, sampleRate, channels))
	}
}

// accept validates the player's requested stream
func (s *Server) accept(hello protocol.ClientHello) (protocol.ServerHello, error) {
	if _, err := hello.Policy.Policy(); err != nil {
		return protocol.ServerHello{}, fmt.Errorf("invalid policy: %w", err)
	}
	if hello.SampleRate <= 0 || hello.SampleRate > s.config.MaxSampleRate {
		return protocol.ServerHello{}, fmt.Errorf("unsupported sample rate %d", hello.SampleRate)
	}

	return protocol.ServerHello{
		Name:       s.config.Name,
		Version:    version.ProtocolVersion,
		SampleRate: hello.SampleRate,
		Source:     s.config.SourceName,
	}, nil
}

// serveSession runs one producer until the player leaves
func (s *Server) serveSession(ctx context.Context, sess *transport.Session) error {
	hello := sess.Hello()
	policy, err := hello.Policy.Policy()
	if err != nil {
		return err
	}

	gen, err := s.config.Generators(hello.SampleRate, policy.Channels)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	if c, ok := gen.(interface{ Close() error }); ok {
		defer c.Close()
	}

	ctrl, err := producer.New(producer.Config{
		Policy:     policy,
		Generator:  gen,
		Deliveries: sess.Deliveries(),
	})
	if err != nil {
		return err
	}

	log.Printf("Streaming to %s: %dHz, %d channels, %s, tides %d/%d, request size %d",
		hello.Name, hello.SampleRate, policy.Channels, policy.Resolution,
		policy.LowTide, policy.HighTide, policy.BufferRequestSize)

	err = ctrl.Serve(ctx, sess.Requests())
	stats := ctrl.Stats()
	log.Printf("Session %s ended: %d requests, %d blocks, %d generator faults",
		hello.Name, stats.Requests, stats.Blocks, stats.Faults)
	return err
}

// Start serves until Stop is called
func (s *Server) Start() error {
	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.transport.ID())

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
		})
		if err := s.mdns.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	return s.transport.Start()
}

// Stop stops the server
func (s *Server) Stop() {
	if s.mdns != nil {
		s.mdns.Stop()
	}
	s.transport.Stop()
}

// Sessions returns information about connected players
func (s *Server) Sessions() []SessionInfo {
	return s.transport.Sessions()
}

// Handler exposes the WebSocket handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.transport.Handler()
}
