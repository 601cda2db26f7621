// ABOUTME: FLAC source backed by mewkiz/flac
// ABOUTME: Parses frames on demand and interleaves their subframes
package source

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

type flacSource struct {
	stream     *flac.Stream
	sampleRate int
	channels   int
	scale      float32

	// current frame and the next sample index within it
	frame *frame.Frame
	pos   int
}

func newFLAC(r io.ReadSeeker) (Source, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, err
	}

	info := stream.Info
	if info.NChannels == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("%w: flac stream info incomplete", ErrInvalidSource)
	}

	return &flacSource{
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		scale:      float32(int64(1) << (info.BitsPerSample - 1)),
	}, nil
}

func (s *flacSource) ReadSamples(dst []float32) (int, error) {
	written := 0
	frames := len(dst) / s.channels

	for frames > 0 {
		if s.frame == nil || s.pos >= int(s.frame.BlockSize) {
			f, err := s.stream.ParseNext()
			if err != nil {
				return written, err
			}
			s.frame = f
			s.pos = 0
		}

		for s.pos < int(s.frame.BlockSize) && frames > 0 {
			for ch := 0; ch < s.channels; ch++ {
				dst[written] = float32(s.frame.Subframes[ch].Samples[s.pos]) / s.scale
				written++
			}
			s.pos++
			frames--
		}
	}

	return written, nil
}

func (s *flacSource) SampleRate() int { return s.sampleRate }
func (s *flacSource) Channels() int   { return s.channels }
func (s *flacSource) Close() error    { return nil }
