// ABOUTME: MP3 source backed by go-mp3
// ABOUTME: Decodes 16-bit stereo PCM into float samples
package source

import (
	"encoding/binary"
	"io"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

type mp3Source struct {
	decoder *mp3.Decoder
	buf     []byte
}

func newMP3(r io.ReadSeeker) (Source, error) {
	return newMP3Reader(r)
}

func newMP3Reader(r io.Reader) (*mp3Source, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &mp3Source{decoder: decoder}, nil
}

func (s *mp3Source) ReadSamples(dst []float32) (int, error) {
	// MP3 decoder outputs int16 = 2 bytes per sample
	numBytes := len(dst) * 2
	if cap(s.buf) < numBytes {
		s.buf = make([]byte, numBytes)
	}
	buf := s.buf[:numBytes]

	n, err := s.decoder.Read(buf)

	numSamples := n / 2
	for i := 0; i < numSamples; i++ {
		dst[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}
	return numSamples, err
}

func (s *mp3Source) SampleRate() int { return s.decoder.SampleRate() }

// MP3 decoder always outputs stereo
func (s *mp3Source) Channels() int { return 2 }

func (s *mp3Source) Close() error { return nil }
