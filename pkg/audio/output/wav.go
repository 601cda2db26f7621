// ABOUTME: WAV file output that renders ticks offline or at wall-clock pace
// ABOUTME: Encodes 16-bit PCM through go-audio/wav
package output

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVOptions controls file rendering
type WAVOptions struct {
	// Realtime paces ticks at the quantum duration instead of rendering
	// as fast as possible
	Realtime bool

	// Ticks stops rendering after this many quanta; 0 renders until Close
	Ticks int64
}

// WAV renders a stream into a WAV file
type WAV struct {
	*Volume

	w      io.WriteSeeker
	closer io.Closer
	opts   WAVOptions

	enc        *wav.Encoder
	sampleRate int
	channels   int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
	err      error
	ticks    atomic.Int64
}

// NewWAV renders into w
func NewWAV(w io.WriteSeeker, opts WAVOptions) *WAV {
	return &WAV{
		Volume: NewVolume(),
		w:      w,
		opts:   opts,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// NewWAVFile creates path and renders into it
func NewWAVFile(path string, opts WAVOptions) (*WAV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	out := NewWAV(f, opts)
	out.closer = f
	return out, nil
}

// Open prepares a 16-bit PCM encoder
func (o *WAV) Open(sampleRate, channels int) error {
	o.sampleRate = sampleRate
	o.channels = channels
	o.enc = wav.NewEncoder(o.w, sampleRate, 16, channels, 1)
	return nil
}

// Start renders on a new goroutine
func (o *WAV) Start(r stream.Renderer) error {
	if o.enc == nil {
		return fmt.Errorf("output not initialized")
	}
	o.started = true
	go o.render(r)
	return nil
}

func (o *WAV) render(r stream.Renderer) {
	defer close(o.done)

	planes := make([][]float32, o.channels)
	for i := range planes {
		planes[i] = make([]float32, audio.Quantum)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: o.channels, SampleRate: o.sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, audio.Quantum*o.channels),
	}

	var pace <-chan time.Time
	if o.opts.Realtime {
		ticker := time.NewTicker(audio.QuantumDuration(o.sampleRate))
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		if o.opts.Ticks > 0 && o.ticks.Load() >= o.opts.Ticks {
			return
		}

		select {
		case <-o.stop:
			return
		default:
		}

		if pace != nil {
			select {
			case <-pace:
			case <-o.stop:
				return
			}
		}

		alive := r.Process(planes)
		gain := o.gain()
		for i := 0; i < audio.Quantum; i++ {
			for ch := 0; ch < o.channels; ch++ {
				s := audio.Clamp(planes[ch][i] * gain)
				buf.Data[i*o.channels+ch] = int(audio.SampleToInt16(s))
			}
		}

		if err := o.enc.Write(buf); err != nil {
			o.err = fmt.Errorf("error writing WAV data: %w", err)
			log.Printf("%v", o.err)
			return
		}
		o.ticks.Add(1)

		if !alive {
			return
		}
	}
}

// Done is closed when rendering ends
func (o *WAV) Done() <-chan struct{} {
	return o.done
}

// Ticks returns the number of quanta written so far
func (o *WAV) Ticks() int64 {
	return o.ticks.Load()
}

// Close stops rendering and finalizes the file header
func (o *WAV) Close() error {
	o.stopOnce.Do(func() { close(o.stop) })
	if o.started {
		<-o.done
	}

	var err error
	if o.enc != nil {
		if cerr := o.enc.Close(); cerr != nil {
			err = fmt.Errorf("failed to finalize wav: %w", cerr)
		}
		o.enc = nil
	}
	if o.closer != nil {
		if cerr := o.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
		o.closer = nil
	}
	if err == nil {
		err = o.err
	}
	return err
}
