// ABOUTME: Tests for the in-process pipe and the WebSocket transport
// ABOUTME: Uses httptest to run a real server against Dial
package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
)

func testDelivery(n int, value float32) protocol.Delivery {
	blocks := make([]audio.Block, n)
	for i := range blocks {
		b := audio.NewBlock(audio.ResolutionFull)
		for j := range b.Samples {
			b.Samples[j] = value
		}
		blocks[i] = b
	}
	return protocol.Delivery{Resolution: audio.ResolutionFull, Blocks: blocks}
}

func TestPipeDelaysDeliveriesInOrder(t *testing.T) {
	const latency = 30 * time.Millisecond
	p := NewPipe(latency, 4)
	defer p.Close()

	start := time.Now()
	p.ProducerDeliveries() <- testDelivery(1, 0.1)
	p.ProducerDeliveries() <- testDelivery(1, 0.2)

	for _, want := range []float32{0.1, 0.2} {
		select {
		case d := <-p.Deliveries():
			if d.Blocks[0].Samples[0] != want {
				t.Errorf("expected %f, got %f", want, d.Blocks[0].Samples[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	if elapsed := time.Since(start); elapsed < latency {
		t.Errorf("delivery arrived after %v, expected at least %v", elapsed, latency)
	}
}

func TestPipeCarriesRequests(t *testing.T) {
	p := NewPipe(0, 2)
	defer p.Close()

	p.Requests() <- protocol.Request{BlocksNeeded: 10}

	select {
	case req := <-p.ProducerRequests():
		if req.BlocksNeeded != 10 {
			t.Errorf("expected 10, got %d", req.BlocksNeeded)
		}
	default:
		t.Fatal("expected buffered request")
	}
}

func TestPipeRequestBufferFills(t *testing.T) {
	p := NewPipe(0, 1)
	defer p.Close()

	p.Requests() <- protocol.Request{BlocksNeeded: 1}
	select {
	case p.Requests() <- protocol.Request{BlocksNeeded: 1}:
		t.Error("expected full request buffer")
	default:
	}
}

func newTestServer(t *testing.T, accept AcceptFunc) (*Server, string, chan *Session) {
	t.Helper()

	sessions := make(chan *Session, 1)
	s, err := NewServer(ServerConfig{
		Accept: accept,
		Handler: func(ctx context.Context, sess *Session) error {
			sessions <- sess
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case req, ok := <-sess.Requests():
					if !ok {
						return nil
					}
					select {
					case sess.Deliveries() <- testDelivery(req.BlocksNeeded, 0.5):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})

	return s, strings.TrimPrefix(ts.URL, "http://"), sessions
}

func testHello() protocol.ClientHello {
	return protocol.ClientHello{
		ClientID:   "client-1",
		Name:       "Test Player",
		Version:    1,
		SampleRate: 48000,
		Policy:     protocol.NewPolicyState(flow.DefaultPolicy()),
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	accept := func(hello protocol.ClientHello) (protocol.ServerHello, error) {
		return protocol.ServerHello{Name: "Test Server", Version: 1, SampleRate: hello.SampleRate}, nil
	}
	s, addr, sessions := newTestServer(t, accept)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, ClientConfig{ServerAddr: addr, Hello: testHello()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	hello := c.ServerHello()
	if hello.Name != "Test Server" || hello.ServerID != s.ID() || hello.SampleRate != 48000 {
		t.Errorf("unexpected server hello: %+v", hello)
	}

	var sess *Session
	select {
	case sess = <-sessions:
	case <-ctx.Done():
		t.Fatal("handler never started")
	}
	if sess.Hello().Name != "Test Player" {
		t.Errorf("unexpected client name %q", sess.Hello().Name)
	}

	c.Requests() <- protocol.Request{BlocksNeeded: 6}

	select {
	case d := <-c.Deliveries():
		if len(d.Blocks) != 6 {
			t.Errorf("expected 6 blocks, got %d", len(d.Blocks))
		}
		if d.Blocks[5].Samples[audio.Quantum-1] != 0.5 {
			t.Errorf("unexpected sample %f", d.Blocks[5].Samples[audio.Quantum-1])
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}

	if info := sess.Info(); info.Requests != 1 {
		t.Errorf("expected 1 request recorded, got %d", info.Requests)
	}
}

func TestDialRejected(t *testing.T) {
	accept := func(hello protocol.ClientHello) (protocol.ServerHello, error) {
		return protocol.ServerHello{}, errors.New("policy not supported")
	}
	_, addr, _ := newTestServer(t, accept)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, ClientConfig{ServerAddr: addr, Hello: testHello()})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestClientCloseEndsSession(t *testing.T) {
	_, addr, sessions := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, ClientConfig{ServerAddr: addr, Hello: testHello()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	sess := <-sessions
	c.Close()

	select {
	case <-sess.ctx.Done():
	case <-ctx.Done():
		t.Fatal("session did not end after client close")
	}
}

func TestServerStopEndsClient(t *testing.T) {
	s, addr, sessions := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, ClientConfig{ServerAddr: addr, Hello: testHello()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	<-sessions

	s.Stop()

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("client did not notice server stop")
	}
}
