// ABOUTME: Tests for the producer controller and generators
// ABOUTME: Covers priming, request sizing, stereo interleave, quantization and fault handling
package producer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/Resonate-Protocol/tidepool/pkg/source"
)

func counter() MonoFunc {
	n := float32(0)
	return func() float32 {
		n++
		return n / 1000
	}
}

func newController(t *testing.T, policy flow.Policy, gen Generator) (*Controller, chan protocol.Delivery) {
	t.Helper()
	deliveries := make(chan protocol.Delivery, 16)
	c, err := New(Config{Policy: policy, Generator: gen, Deliveries: deliveries})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, deliveries
}

func monoPolicy() flow.Policy {
	return flow.Policy{LowTide: 10, HighTide: 50, BufferRequestSize: 10, Channels: 1}
}

func TestNewValidation(t *testing.T) {
	deliveries := make(chan protocol.Delivery)

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"invalid policy", Config{Policy: flow.Policy{}, Generator: counter(), Deliveries: deliveries}, flow.ErrInvalidTides},
		{"no generator", Config{Policy: monoPolicy(), Deliveries: deliveries}, ErrNoGenerator},
		{"no deliveries", Config{Policy: monoPolicy(), Generator: counter()}, ErrNoDeliveries},
		{"channel mismatch", Config{Policy: flow.DefaultPolicy(), Generator: counter(), Deliveries: deliveries}, ErrChannelMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPrimeSendsOnce(t *testing.T) {
	c, deliveries := newController(t, monoPolicy(), counter())
	ctx := context.Background()

	if err := c.Prime(ctx); err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if err := c.Prime(ctx); err != nil {
		t.Fatalf("second Prime: %v", err)
	}

	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one priming delivery, got %d", len(deliveries))
	}
	d := <-deliveries
	if !d.Prime {
		t.Error("expected prime flag")
	}
	if len(d.Blocks) != monoPolicy().PrimeBlocks() {
		t.Errorf("expected %d blocks, got %d", monoPolicy().PrimeBlocks(), len(d.Blocks))
	}
	if len(d.Blocks) < monoPolicy().HighTide {
		t.Errorf("priming batch %d does not clear the high tide", len(d.Blocks))
	}
}

func TestSynthesizeIsContinuous(t *testing.T) {
	c, _ := newController(t, monoPolicy(), counter())

	first := c.Synthesize(2)
	second := c.Synthesize(1)

	if len(first.Blocks) != 2 || len(second.Blocks) != 1 {
		t.Fatalf("unexpected block counts %d, %d", len(first.Blocks), len(second.Blocks))
	}

	// Samples continue across blocks and deliveries
	last := first.Blocks[1].Samples[audio.Quantum-1]
	next := second.Blocks[0].Samples[0]
	if next-last < 0.0009 || next-last > 0.0011 {
		t.Errorf("expected continuation, got %f then %f", last, next)
	}
}

func TestSynthesizeStereoInterleaves(t *testing.T) {
	gen := StereoFunc(func() (float32, float32) { return 0.25, -0.25 })
	c, _ := newController(t, flow.DefaultPolicy(), gen)

	d := c.Synthesize(3)
	if len(d.Blocks) != 4 {
		t.Fatalf("expected request rounded up to 4 blocks, got %d", len(d.Blocks))
	}

	for i, b := range d.Blocks {
		want := float32(0.25)
		if i%2 == 1 {
			want = -0.25
		}
		if b.Samples[0] != want {
			t.Errorf("block %d: expected %f, got %f", i, want, b.Samples[0])
		}
	}
}

func TestSynthesizeQuantized(t *testing.T) {
	policy := monoPolicy()
	policy.Resolution = audio.ResolutionQuantized
	c, _ := newController(t, policy, MonoFunc(func() float32 { return 1 }))

	d := c.Synthesize(1)
	if d.Resolution != audio.ResolutionQuantized {
		t.Fatalf("expected quantized delivery")
	}
	if d.Blocks[0].Raw == nil || d.Blocks[0].Raw[0] != 255 {
		t.Errorf("expected raw 255, got %v", d.Blocks[0].Raw)
	}
}

func TestSynthesizeClampsFullResolution(t *testing.T) {
	c, _ := newController(t, monoPolicy(), MonoFunc(func() float32 { return 3 }))

	d := c.Synthesize(1)
	if d.Blocks[0].Samples[0] != 1 {
		t.Errorf("expected clamped 1, got %f", d.Blocks[0].Samples[0])
	}
}

func TestGeneratorPanicYieldsSilence(t *testing.T) {
	calls := 0
	gen := MonoFunc(func() float32 {
		calls++
		if calls == audio.Quantum+1 {
			panic("boom")
		}
		return 0.5
	})
	c, _ := newController(t, monoPolicy(), gen)

	d := c.Synthesize(3)
	if len(d.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(d.Blocks))
	}

	if d.Blocks[0].Samples[0] != 0.5 || d.Blocks[2].Samples[0] != 0.5 {
		t.Error("expected healthy quanta to carry audio")
	}
	for _, s := range d.Blocks[1].Samples {
		if s != 0 {
			t.Fatal("expected faulted quantum to be silent")
		}
	}
	if c.Stats().Faults != 1 {
		t.Errorf("expected 1 fault, got %d", c.Stats().Faults)
	}
}

type failingGenerator struct{}

func (failingGenerator) Channels() int                 { return 1 }
func (failingGenerator) Fill(blocks [][]float32) error { return errors.New("device gone") }

func TestGeneratorErrorYieldsSilence(t *testing.T) {
	c, _ := newController(t, monoPolicy(), failingGenerator{})

	d := c.Synthesize(2)
	for _, b := range d.Blocks {
		for _, s := range b.Samples {
			if s != 0 {
				t.Fatal("expected silence")
			}
		}
	}
	if c.Stats().Faults != 2 {
		t.Errorf("expected 2 faults, got %d", c.Stats().Faults)
	}
}

func TestServeAnswersRequests(t *testing.T) {
	c, deliveries := newController(t, monoPolicy(), counter())
	requests := make(chan protocol.Request, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, requests) }()

	prime := <-deliveries
	if !prime.Prime {
		t.Fatal("expected priming delivery first")
	}

	requests <- protocol.Request{BlocksNeeded: 10}
	requests <- protocol.Request{BlocksNeeded: 0}
	requests <- protocol.Request{BlocksNeeded: 7}

	for _, want := range []int{10, 7} {
		select {
		case d := <-deliveries:
			if d.Prime {
				t.Error("unexpected prime flag on reply")
			}
			if len(d.Blocks) != want {
				t.Errorf("expected %d blocks, got %d", want, len(d.Blocks))
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for delivery")
		}
	}

	close(requests)
	if err := <-done; err != nil {
		t.Errorf("expected clean exit on close, got %v", err)
	}

	stats := c.Stats()
	if stats.Requests != 2 {
		t.Errorf("expected 2 requests served, got %d", stats.Requests)
	}
	if stats.Blocks != int64(monoPolicy().PrimeBlocks()+17) {
		t.Errorf("unexpected block count %d", stats.Blocks)
	}
}

func TestServeClampsOversizedRequest(t *testing.T) {
	policy := monoPolicy()
	c, deliveries := newController(t, policy, counter())
	requests := make(chan protocol.Request, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, requests) }()
	<-deliveries

	requests <- protocol.Request{BlocksNeeded: 1 << 30}

	select {
	case d := <-deliveries:
		if len(d.Blocks) != policy.HighTide {
			t.Errorf("expected reply clamped to %d blocks, got %d", policy.HighTide, len(d.Blocks))
		}
		if _, err := protocol.EncodeDelivery(d); err != nil {
			t.Errorf("clamped reply must fit a frame: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}

	close(requests)
	if err := <-done; err != nil {
		t.Errorf("expected clean exit on close, got %v", err)
	}

	if stats := c.Stats(); stats.Clamped != 1 || stats.Requests != 1 {
		t.Errorf("expected 1 clamped of 1 request, got %+v", stats)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	// Unbuffered and never read, so the prime blocks until cancel
	deliveries := make(chan protocol.Delivery)
	c, err := New(Config{Policy: monoPolicy(), Generator: counter(), Deliveries: deliveries})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, make(chan protocol.Request)) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestSourceGenerator(t *testing.T) {
	gen, err := NewSourceGenerator(source.NewTone(440, 48000, 2))
	if err != nil {
		t.Fatal(err)
	}
	c, _ := newController(t, flow.DefaultPolicy(), gen)

	d := c.Synthesize(4)
	if len(d.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(d.Blocks))
	}
	// Tone writes the same value to both channels
	for i := 0; i < audio.Quantum; i++ {
		if d.Blocks[0].Samples[i] != d.Blocks[1].Samples[i] {
			t.Fatalf("sample %d: left and right differ", i)
		}
	}
	if gen.Ended() {
		t.Error("tone should never end")
	}
}

type shortSource struct {
	remaining int
}

func (s *shortSource) ReadSamples(dst []float32) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	n := min(len(dst), s.remaining)
	for i := 0; i < n; i++ {
		dst[i] = 0.5
	}
	s.remaining -= n
	return n, nil
}

func (s *shortSource) SampleRate() int { return 48000 }
func (s *shortSource) Channels() int   { return 1 }
func (s *shortSource) Close() error    { return nil }

func TestSourceGeneratorPadsAfterEnd(t *testing.T) {
	gen, err := NewSourceGenerator(&shortSource{remaining: 10})
	if err != nil {
		t.Fatal(err)
	}

	blocks := [][]float32{make([]float32, audio.Quantum)}
	if err := gen.Fill(blocks); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if blocks[0][9] != 0.5 || blocks[0][10] != 0 {
		t.Errorf("expected audio then silence, got %f, %f", blocks[0][9], blocks[0][10])
	}
	if !gen.Ended() {
		t.Error("expected generator to report end")
	}

	blocks[0][0] = 1
	if err := gen.Fill(blocks); err != nil {
		t.Fatalf("Fill after end: %v", err)
	}
	if blocks[0][0] != 0 {
		t.Error("expected silence after end")
	}
}
