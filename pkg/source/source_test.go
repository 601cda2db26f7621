// ABOUTME: Tests for audio sources
// ABOUTME: Covers tone generation, WAV decoding and looping, resampling and remixing
package source

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, sampleRate, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           data,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func ramp(n int) []int {
	data := make([]int, n)
	for i := range data {
		data[i] = (i - n/2) * 100
	}
	return data
}

func TestToneSource(t *testing.T) {
	tone := NewTone(1000, 48000, 2)
	dst := make([]float32, 96)

	n, err := tone.ReadSamples(dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 96 {
		t.Fatalf("expected 96 samples, got %d", n)
	}

	for i := 0; i < n; i += 2 {
		if dst[i] != dst[i+1] {
			t.Fatalf("frame %d: channels differ", i/2)
		}
		if math.Abs(float64(dst[i])) > 0.5+1e-6 {
			t.Fatalf("sample %d exceeds amplitude: %f", i, dst[i])
		}
	}

	// 12 samples per cycle at 1kHz/48kHz: frame 3 is the first peak
	if math.Abs(float64(dst[6])-0.5) > 1e-4 {
		t.Errorf("expected peak at frame 3, got %f", dst[6])
	}
}

func TestOpenWAV(t *testing.T) {
	data := ramp(100)
	path := writeTestWAV(t, 8000, 1, data)

	src, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 8000 || src.Channels() != 1 {
		t.Fatalf("unexpected format: %d Hz, %d channels", src.SampleRate(), src.Channels())
	}

	dst := make([]float32, 100)
	n, err := ReadFull(src, dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 100 {
		t.Fatalf("expected 100 samples, got %d", n)
	}
	for i, v := range data {
		want := float32(v) / 32768
		if math.Abs(float64(dst[i]-want)) > 1e-6 {
			t.Fatalf("sample %d: expected %f, got %f", i, want, dst[i])
		}
	}

	n, err = ReadFull(src, dst)
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after end of file, got n=%d err=%v", n, err)
	}
}

func TestOpenWAVLoops(t *testing.T) {
	data := ramp(100)
	path := writeTestWAV(t, 8000, 1, data)

	src, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	dst := make([]float32, 250)
	n, err := ReadFull(src, dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 250 {
		t.Fatalf("expected 250 samples, got %d", n)
	}

	for _, i := range []int{0, 99, 100, 199, 249} {
		want := float32(data[i%100]) / 32768
		if math.Abs(float64(dst[i]-want)) > 1e-6 {
			t.Errorf("sample %d: expected %f, got %f", i, want, dst[i])
		}
	}
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	_, err := Open("song.xyz", false)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOpenEmptyPathIsTone(t *testing.T) {
	src, err := Open("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*Tone); !ok {
		t.Errorf("expected tone source, got %T", src)
	}
}

func TestOpenRejectsCorruptWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not really a wav file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, false); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}
}

// fixedSource replays a slice once
type fixedSource struct {
	data     []float32
	rate     int
	channels int
	pos      int
}

func (s *fixedSource) ReadSamples(dst []float32) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(dst, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *fixedSource) SampleRate() int { return s.rate }
func (s *fixedSource) Channels() int   { return s.channels }
func (s *fixedSource) Close() error    { return nil }

func TestResampledIdentity(t *testing.T) {
	src := &fixedSource{data: []float32{0.1, 0.2, 0.3, 0.4}, rate: 48000, channels: 1}
	r := NewResampled(src, 48000)

	dst := make([]float32, 4)
	n, err := r.ReadSamples(dst)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 samples, got %d (%v)", n, err)
	}
	for i, want := range src.data {
		if dst[i] != want {
			t.Errorf("sample %d: expected %f, got %f", i, want, dst[i])
		}
	}
}

func TestResampledUpsamplesByInterpolation(t *testing.T) {
	src := &fixedSource{data: []float32{0, 1, 0, -1, 0}, rate: 24000, channels: 1}
	r := NewResampled(src, 48000)

	dst := make([]float32, 8)
	n, err := r.ReadSamples(dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 samples, got %d", n)
	}

	want := []float32{0, 0.5, 1, 0.5, 0, -0.5, -1, -0.5}
	for i := range want {
		if math.Abs(float64(dst[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: expected %f, got %f", i, want[i], dst[i])
		}
	}

	if r.SampleRate() != 48000 {
		t.Errorf("expected 48000, got %d", r.SampleRate())
	}
}

func TestResampledPropagatesEOF(t *testing.T) {
	src := &fixedSource{data: []float32{0, 0.5}, rate: 48000, channels: 1}
	r := NewResampled(src, 48000)

	dst := make([]float32, 8)
	n, err := r.ReadSamples(dst)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 samples before EOF, got %d", n)
	}
}

func TestRemix(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		inCh     int
		outCh    int
		expected []float32
	}{
		{"mono to stereo", []float32{0.1, 0.2}, 1, 2, []float32{0.1, 0.1, 0.2, 0.2}},
		{"stereo to mono", []float32{0.2, 0.4, -1, 1}, 2, 1, []float32{0.3, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fixedSource{data: tt.in, rate: 48000, channels: tt.inCh}
			m := Conform(src, 48000, tt.outCh)

			dst := make([]float32, len(tt.expected))
			n, err := m.ReadSamples(dst)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != len(tt.expected) {
				t.Fatalf("expected %d samples, got %d", len(tt.expected), n)
			}
			for i := range tt.expected {
				if math.Abs(float64(dst[i]-tt.expected[i])) > 1e-6 {
					t.Errorf("sample %d: expected %f, got %f", i, tt.expected[i], dst[i])
				}
			}
		})
	}
}

func TestConformPassesThrough(t *testing.T) {
	tone := NewTone(440, 48000, 2)
	if Conform(tone, 48000, 2) != Source(tone) {
		t.Error("expected matching source to be returned unchanged")
	}
}
