// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for render-quantum playback backends
package output

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/tidepool/pkg/stream"
)

// Output represents an audio output driven by render ticks
type Output interface {
	// Open initializes the output device
	Open(sampleRate, channels int) error

	// Start begins calling r.Process once per quantum
	Start(r stream.Renderer) error

	// Close stops ticking and releases output resources. No Process call
	// is in progress once Close returns.
	Close() error
}

// New returns a backend by name: "malgo", "oto" or "portaudio"
func New(name string) (Output, error) {
	switch strings.ToLower(name) {
	case "", "malgo":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "portaudio":
		return NewPortAudio(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q (supported: malgo, oto, portaudio)", name)
	}
}
