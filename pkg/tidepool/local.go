// ABOUTME: In-process stream with producer and consumer joined by a pipe
// ABOUTME: Handles the start-up ordering so the first tick finds the priming batch
package tidepool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/audio/output"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/producer"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	"github.com/Resonate-Protocol/tidepool/pkg/transport"
)

// primeTimeout bounds the wait for the priming batch
const primeTimeout = 5 * time.Second

// LocalConfig configures an in-process stream
type LocalConfig struct {
	Policy    flow.Policy
	Generator producer.Generator

	// SampleRate of the output device (default 48000)
	SampleRate int

	// Latency delays every delivery, modelling a slow channel
	Latency time.Duration

	// Output drives the consumer. Nil leaves ticking to the caller
	// through Consumer().Process.
	Output output.Output

	// MonitorInterval logs consumer health periodically when set
	MonitorInterval time.Duration
}

// LocalStream runs a producer and a consumer in one process
type LocalStream struct {
	config   LocalConfig
	pipe     *transport.Pipe
	consumer *stream.Consumer
	producer *producer.Controller

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	serveErr error
}

// NewLocalStream validates the configuration and builds both ends
func NewLocalStream(config LocalConfig) (*LocalStream, error) {
	if config.SampleRate == 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream policy: %w", err)
	}
	for _, w := range config.Policy.Warnings() {
		log.Printf("Policy warning: %s", w)
	}

	pipe := transport.NewPipe(config.Latency, requestBuffer(config.Policy))

	consumer, err := stream.NewConsumer(config.Policy, pipe.Requests())
	if err != nil {
		pipe.Close()
		return nil, err
	}

	prod, err := producer.New(producer.Config{
		Policy:     config.Policy,
		Generator:  config.Generator,
		Deliveries: pipe.ProducerDeliveries(),
	})
	if err != nil {
		pipe.Close()
		return nil, err
	}

	return &LocalStream{
		config:   config,
		pipe:     pipe,
		consumer: consumer,
		producer: prod,
	}, nil
}

// requestBuffer holds every request the high tide allows in flight
func requestBuffer(p flow.Policy) int {
	return p.HighTide/p.BufferRequestSize + 1
}

// Start primes the consumer and then starts the output
func (s *LocalStream) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.producer.Serve(ctx, s.pipe.ProducerRequests())
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Producer stopped: %v", err)
			s.serveErr = err
		}
	}()

	if err := awaitPrime(ctx, s.consumer, s.pipe.Deliveries()); err != nil {
		s.Stop()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumer.Pump(ctx, s.pipe.Deliveries())
	}()

	if s.config.MonitorInterval > 0 {
		go stream.Monitor(ctx, s.consumer, s.config.MonitorInterval)
	}

	if s.config.Output != nil {
		if err := s.config.Output.Open(s.config.SampleRate, s.config.Policy.Channels); err != nil {
			s.Stop()
			return fmt.Errorf("failed to open output: %w", err)
		}
		if err := s.config.Output.Start(s.consumer); err != nil {
			s.Stop()
			return fmt.Errorf("failed to start output: %w", err)
		}
	}

	return nil
}

// awaitPrime delivers the priming batch before the first tick can run
func awaitPrime(ctx context.Context, c *stream.Consumer, deliveries <-chan protocol.Delivery) error {
	timer := time.NewTimer(primeTimeout)
	defer timer.Stop()

	select {
	case d := <-deliveries:
		res := c.Deliver(d)
		if res.Status != stream.DeliveryAccepted {
			return fmt.Errorf("priming batch %s", res.Status)
		}
		log.Printf("Stream primed with %d blocks", res.Accepted)
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for priming batch")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consumer returns the real-time side
func (s *LocalStream) Consumer() *stream.Consumer {
	return s.consumer
}

// Producer returns the producer side
func (s *LocalStream) Producer() *producer.Controller {
	return s.producer
}

// SetPolicy swaps the tides on the running consumer
func (s *LocalStream) SetPolicy(p flow.Policy) error {
	return s.consumer.SetPolicy(p)
}

// Stop halts the stream, closes the output and frees the ring
func (s *LocalStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.consumer.Stop()
		if s.config.Output != nil {
			err = s.config.Output.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.pipe.Close()
		s.consumer.Release()
		if err == nil {
			err = s.serveErr
		}
	})
	return err
}
