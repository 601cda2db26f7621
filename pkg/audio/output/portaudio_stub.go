//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"errors"

	"github.com/Resonate-Protocol/tidepool/pkg/stream"
)

var errPortAudioDisabled = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio output implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() Output {
	return &PortAudio{}
}

func (p *PortAudio) Open(sampleRate, channels int) error { return errPortAudioDisabled }
func (p *PortAudio) Start(r stream.Renderer) error       { return errPortAudioDisabled }
func (p *PortAudio) Close() error                        { return nil }
