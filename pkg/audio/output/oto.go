// ABOUTME: Oto-based audio output implementation
// ABOUTME: The oto player pulls 16-bit PCM from a reader backed by a Framer
package output

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	"github.com/ebitengine/oto/v3"
)

// oto allows only one context per process
var (
	otoCtx  *oto.Context
	otoRate int
	otoCh   int
	otoMu   sync.Mutex
)

// Oto output implementation using oto library
type Oto struct {
	*Volume

	player     *oto.Player
	reader     *pcmReader
	sampleRate int
	channels   int
	ready      bool
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{Volume: NewVolume()}
}

// Open initializes the shared oto context
func (o *Oto) Open(sampleRate, channels int) error {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		// oto cannot be reinitialized with another format
		if otoRate != sampleRate || otoCh != channels {
			return fmt.Errorf("oto already running at %dHz/%dch", otoRate, otoCh)
		}
	} else {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   4 * audio.QuantumDuration(sampleRate),
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		otoCtx = ctx
		otoRate = sampleRate
		otoCh = channels
	}

	o.sampleRate = sampleRate
	o.channels = channels
	o.ready = true

	log.Printf("Audio output initialized: %dHz, %d channels (oto)", sampleRate, channels)
	return nil
}

// Start creates a player that pulls from r
func (o *Oto) Start(r stream.Renderer) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}

	o.reader = newPCMReader(NewFramer(r, o.channels, o.Volume), o.channels)
	o.player = otoCtx.NewPlayer(o.reader)
	o.player.Play()
	return nil
}

// Close stops the player
func (o *Oto) Close() error {
	if o.player != nil {
		o.player.Pause()
		if err := o.player.Close(); err != nil {
			log.Printf("Warning: oto player close error: %v", err)
		}
		o.player = nil
	}
	if o.reader != nil {
		o.reader.close()
		o.reader = nil
	}
	o.ready = false
	return nil
}

// pcmReader renders 16-bit little-endian PCM on demand
type pcmReader struct {
	framer   *Framer
	channels int
	buf      []float32

	mu     sync.Mutex
	closed bool
}

func newPCMReader(f *Framer, channels int) *pcmReader {
	return &pcmReader{
		framer:   f,
		channels: channels,
		buf:      make([]float32, audio.Quantum*channels),
	}
}

// Read fills p with whole frames
func (r *pcmReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frameBytes := 2 * r.channels
	frames := len(p) / frameBytes
	if r.closed {
		n := frames * frameBytes
		clear(p[:n])
		return n, nil
	}

	total := frames * r.channels
	if total > len(r.buf) {
		r.buf = make([]float32, total)
	}
	samples := r.buf[:total]
	r.framer.Fill(samples)

	for i, s := range samples {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(audio.SampleToInt16(s)))
	}
	return frames * frameBytes, nil
}

// close waits out any Read in progress; later reads are silent
func (r *pcmReader) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
