// ABOUTME: Integration tests for local and remote streams
// ABOUTME: Drives ticks by hand through a manual output
package tidepool

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/producer"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/Resonate-Protocol/tidepool/pkg/stream"
	"github.com/Resonate-Protocol/tidepool/pkg/transport"
)

// manualOutput lets the test call Process
type manualOutput struct {
	mu       sync.Mutex
	r        stream.Renderer
	channels int
	closed   bool
}

func (o *manualOutput) Open(sampleRate, channels int) error {
	o.channels = channels
	return nil
}

func (o *manualOutput) Start(r stream.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.r = r
	return nil
}

func (o *manualOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *manualOutput) tick(t *testing.T) [][]float32 {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]float32, o.channels)
	for i := range out {
		out[i] = make([]float32, audio.Quantum)
	}
	if o.r == nil || o.closed {
		t.Fatal("output not running")
	}
	o.r.Process(out)
	return out
}

func constant(v float32) producer.MonoFunc {
	return func() float32 { return v }
}

func monoPolicy() flow.Policy {
	p := flow.DefaultPolicy()
	p.Channels = 1
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLocalStreamColdStart(t *testing.T) {
	out := &manualOutput{}
	s, err := NewLocalStream(LocalConfig{
		Policy:    monoPolicy(),
		Generator: constant(0.25),
		Output:    out,
	})
	if err != nil {
		t.Fatalf("NewLocalStream: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	stats := s.Consumer().Stats()
	if stats.Depth != monoPolicy().PrimeBlocks() {
		t.Fatalf("expected primed depth %d, got %d", monoPolicy().PrimeBlocks(), stats.Depth)
	}
	if stats.DataRequested != 0 {
		t.Errorf("priming batch must not count as requested, got %d", stats.DataRequested)
	}

	// The priming batch alone covers the ticks until the first refill
	ticks := monoPolicy().PrimeBlocks() - monoPolicy().LowTide + 1
	for i := 0; i < ticks; i++ {
		buf := out.tick(t)
		if buf[0][0] != 0.25 {
			t.Fatalf("tick %d: expected audio, got %f", i, buf[0][0])
		}
	}

	if u := s.Consumer().Stats().Underruns; u != 0 {
		t.Errorf("expected no underruns on cold start, got %d", u)
	}
	if s.Producer().Stats().Blocks < int64(monoPolicy().PrimeBlocks()) {
		t.Errorf("producer did not send the priming batch")
	}
}

func TestLocalStreamRefills(t *testing.T) {
	out := &manualOutput{}
	s, err := NewLocalStream(LocalConfig{
		Policy:    monoPolicy(),
		Generator: constant(0.5),
		Output:    out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for i := 0; i < 200; i++ {
		out.tick(t)
		// Let the pump land any reply before the queue runs dry
		waitFor(t, "refill", func() bool {
			st := s.Consumer().Stats()
			return st.Depth >= 1 || st.DataRequested == 0
		})
	}

	stats := s.Consumer().Stats()
	if stats.Requests == 0 {
		t.Error("expected refill requests")
	}
	if stats.Underruns != 0 {
		t.Errorf("expected no underruns, got %d", stats.Underruns)
	}

	waitFor(t, "outstanding to settle", func() bool {
		return s.Consumer().Stats().DataRequested == 0
	})
	final := s.Consumer().Stats()
	if final.Depth > monoPolicy().HighTide+monoPolicy().PrimeBlocks() {
		t.Errorf("depth %d exceeds bound", final.Depth)
	}
}

func TestLocalStreamStopIsIdempotent(t *testing.T) {
	out := &manualOutput{}
	s, err := NewLocalStream(LocalConfig{Policy: monoPolicy(), Generator: constant(0), Output: out})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if !out.closed {
		t.Error("expected output closed")
	}
	if s.Consumer().State() != stream.StateStopped {
		t.Errorf("expected stopped state, got %s", s.Consumer().State())
	}
}

func TestNewLocalStreamRejectsMismatchedGenerator(t *testing.T) {
	_, err := NewLocalStream(LocalConfig{Policy: flow.DefaultPolicy(), Generator: constant(0)})
	if err == nil {
		t.Error("expected mono generator on stereo policy to fail")
	}
}

func testGenerators(sampleRate, channels int) (producer.Generator, error) {
	if channels == 2 {
		return producer.StereoFunc(func() (float32, float32) { return 0.5, -0.5 }), nil
	}
	return constant(0.5), nil
}

func TestPlayerAgainstServer(t *testing.T) {
	srv, err := NewServer(ServerConfig{Name: "Test Server", Generators: testGenerators})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		srv.Stop()
		ts.Close()
	}()

	out := &manualOutput{}
	player, err := NewPlayer(PlayerConfig{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		PlayerName: "Test Player",
		Output:     out,
	})
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := player.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer player.Close()

	policy := flow.DefaultPolicy()
	stats := player.Stats()
	if !stats.Connected {
		t.Error("expected connected")
	}
	if stats.Depth != policy.PrimeBlocks() {
		t.Errorf("expected primed depth %d, got %d", policy.PrimeBlocks(), stats.Depth)
	}

	buf := out.tick(t)
	if buf[0][0] != 0.5 || buf[1][0] != -0.5 {
		t.Errorf("expected L/R 0.5/-0.5, got %f/%f", buf[0][0], buf[1][0])
	}

	// Drain below the low tide so a request goes out over the wire
	for player.Stats().Depth >= policy.LowTide {
		out.tick(t)
	}
	out.tick(t)

	waitFor(t, "remote refill", func() bool {
		st := player.Stats()
		return st.Requests > 0 && st.DataRequested == 0
	})

	if sessions := srv.Sessions(); len(sessions) != 1 || sessions[0].Name != "Test Player" {
		t.Errorf("unexpected sessions %+v", sessions)
	}
}

func TestServerRejectsBadSampleRate(t *testing.T) {
	srv, err := NewServer(ServerConfig{Generators: testGenerators, MaxSampleRate: 48000})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		srv.Stop()
		ts.Close()
	}()

	player, err := NewPlayer(PlayerConfig{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		SampleRate: 96000,
		Output:     &manualOutput{},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := player.Connect(ctx); err == nil {
		player.Close()
		t.Fatal("expected connect to fail")
	}
}

func TestServerRejectsUnframeablePolicy(t *testing.T) {
	srv, err := NewServer(ServerConfig{Generators: testGenerators})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		srv.Stop()
		ts.Close()
	}()

	state := protocol.NewPolicyState(flow.DefaultPolicy())
	state.HighTide = 70000

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := transport.Dial(ctx, transport.ClientConfig{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Hello: protocol.ClientHello{
			ClientID:   "oversized",
			Name:       "Oversized Player",
			SampleRate: 48000,
			Policy:     state,
		},
	})
	if err == nil {
		client.Close()
		t.Fatal("expected handshake to be rejected")
	}
	if !errors.Is(err, transport.ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
	if n := len(srv.Sessions()); n != 0 {
		t.Errorf("expected no sessions, got %d", n)
	}
}
