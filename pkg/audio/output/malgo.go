// ABOUTME: Malgo-based audio output driven by the device callback
// ABOUTME: Uses miniaudio via malgo; each callback pulls quanta through a Framer
package output

import (
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	"github.com/gen2brain/malgo"
)

// initialCallbackFrames sizes the conversion buffer before the first callback
const initialCallbackFrames = 4096

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	*Volume

	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	channels   int

	framer *Framer
	buf    []float32
	mu     sync.Mutex
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{Volume: NewVolume()}
}

// Open initializes the malgo context and records the format
func (m *Malgo) Open(sampleRate, channels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("output already started")
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	m.sampleRate = sampleRate
	m.channels = channels
	m.buf = make([]float32, initialCallbackFrames*channels)
	return nil
}

// Start opens the playback device and begins rendering
func (m *Malgo) Start(r stream.Renderer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return fmt.Errorf("output not initialized")
	}

	m.framer = NewFramer(r, m.channels, m.Volume)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInFrames = audio.Quantum
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		m.dataCallback(pOutputSample, frameCount)
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	log.Printf("Audio output started: %dHz, %d channels (malgo/S16, period %d frames)",
		m.sampleRate, m.channels, audio.Quantum)

	return nil
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	total := int(frameCount) * m.channels
	if total > len(m.buf) {
		// Only when the device asks for more than any earlier period
		m.buf = make([]float32, total)
	}
	samples := m.buf[:total]

	m.framer.Fill(samples)
	write16Bit(pOutput, samples)
}

// write16Bit converts float samples to 16-bit little-endian output
func write16Bit(output []byte, samples []float32) {
	for i, sample := range samples {
		sample16 := audio.SampleToInt16(sample)
		output[i*2] = byte(sample16)
		output[i*2+1] = byte(sample16 >> 8)
	}
}

// Close stops the device and releases the context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Printf("Warning: device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}

	return nil
}
