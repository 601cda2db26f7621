// ABOUTME: Audio source abstraction for streaming from files or generating tones
// ABOUTME: Dispatches by extension or URL and loops file sources on EOF
package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidSource     = errors.New("invalid audio source")
)

// Source provides interleaved float32 samples in [-1, 1]
type Source interface {
	// ReadSamples fills dst with interleaved samples and returns how many
	// were written. io.EOF marks the end of a finite source.
	ReadSamples(dst []float32) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// decodeFunc opens a decoder over a seekable stream
type decodeFunc func(r io.ReadSeeker) (Source, error)

var decoders = map[string]decodeFunc{
	".mp3":  newMP3,
	".flac": newFLAC,
	".ogg":  newVorbis,
	".oga":  newVorbis,
	".wav":  newWAV,
	".aif":  newAIFF,
	".aiff": newAIFF,
}

// Open creates a source from a file path or HTTP URL. An empty path
// yields a 440Hz test tone. File sources restart from the top on EOF when
// loop is set.
func Open(pathOrURL string, loop bool) (Source, error) {
	if pathOrURL == "" {
		return NewTone(440, audio.DefaultSampleRate, 2), nil
	}

	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return OpenURL(pathOrURL)
	}

	ext := strings.ToLower(filepath.Ext(pathOrURL))
	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac, .ogg, .wav, .aiff)", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(pathOrURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	src, err := decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(pathOrURL), err)
	}

	log.Printf("Loaded %s (sample rate: %d Hz, channels: %d)",
		filepath.Base(pathOrURL), src.SampleRate(), src.Channels())

	return &fileSource{file: f, decode: decode, cur: src, loop: loop}, nil
}

// OpenURL streams MP3 from an HTTP URL. Streams do not loop.
func OpenURL(url string) (Source, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTTP stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	src, err := newMP3Reader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	log.Printf("Streaming MP3 from HTTP: %s (sample rate: %d Hz)", url, src.SampleRate())

	return &closerSource{Source: src, closer: resp.Body}, nil
}

// fileSource owns the file under a decoder and rebuilds the decoder to loop
type fileSource struct {
	file   *os.File
	decode decodeFunc
	cur    Source
	loop   bool
}

func (s *fileSource) ReadSamples(dst []float32) (int, error) {
	n, err := s.cur.ReadSamples(dst)
	if !errors.Is(err, io.EOF) || !s.loop {
		return n, err
	}

	if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
		return n, fmt.Errorf("failed to seek to start: %w", seekErr)
	}
	next, decErr := s.decode(s.file)
	if decErr != nil {
		return n, fmt.Errorf("failed to restart decoder: %w", decErr)
	}
	s.cur = next

	if n == 0 {
		return s.cur.ReadSamples(dst)
	}
	return n, nil
}

func (s *fileSource) SampleRate() int { return s.cur.SampleRate() }
func (s *fileSource) Channels() int   { return s.cur.Channels() }
func (s *fileSource) Close() error    { return s.file.Close() }

type closerSource struct {
	Source
	closer io.Closer
}

func (s *closerSource) Close() error {
	return s.closer.Close()
}

// ReadFull reads until dst is full or the source fails. Short reads are
// retried, so a partial result always comes with an error.
func ReadFull(src Source, dst []float32) (int, error) {
	total := 0
	stalls := 0
	for total < len(dst) {
		n, err := src.ReadSamples(dst[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			stalls++
			if stalls > 8 {
				return total, io.ErrNoProgress
			}
			continue
		}
		stalls = 0
	}
	return total, nil
}
