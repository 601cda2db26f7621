//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Opens a non-interleaved stream with exactly one quantum per callback
package output

import (
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	"github.com/gordonklaus/portaudio"
)

// PortAudio output implementation
type PortAudio struct {
	*Volume

	stream     *portaudio.Stream
	sampleRate int
	channels   int
	mu         sync.Mutex
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() Output {
	return &PortAudio{Volume: NewVolume()}
}

// Open initializes PortAudio
func (p *PortAudio) Open(sampleRate, channels int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	p.sampleRate = sampleRate
	p.channels = channels
	return nil
}

// Start opens the default stream; each callback is one render tick
func (p *PortAudio) Start(r stream.Renderer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := portaudio.OpenDefaultStream(0, p.channels, float64(p.sampleRate), audio.Quantum,
		func(out [][]float32) {
			r.Process(out)
			gain := p.gain()
			for _, ch := range out {
				applyVolume(ch, gain)
			}
		})
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if err := s.Start(); err != nil {
		s.Close()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.stream = s
	log.Printf("Audio output started: %dHz, %d channels (portaudio, %d frames per buffer)",
		p.sampleRate, p.channels, audio.Quantum)
	return nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			return err
		}
		if err := p.stream.Close(); err != nil {
			return err
		}
		p.stream = nil
	}
	return portaudio.Terminate()
}
