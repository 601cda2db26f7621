// ABOUTME: Consumer-side link abstraction and the in-process pipe
// ABOUTME: The pipe can delay deliveries to model channel latency
package transport

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
)

// Link is the consumer's end of a stream channel. Sends on Requests must
// never block the caller for long; the consumer drops a request when the
// channel is full.
type Link interface {
	Requests() chan<- protocol.Request
	Deliveries() <-chan protocol.Delivery
	Close() error
}

// DefaultRequestBuffer is the request queue depth used when none is given
const DefaultRequestBuffer = 8

// Pipe is an in-process link. The consumer uses it as a Link and the
// producer reads ProducerRequests and writes ProducerDeliveries.
type Pipe struct {
	latency time.Duration

	requests chan protocol.Request
	inbound  chan protocol.Delivery
	outbound chan protocol.Delivery

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type delayed struct {
	due time.Time
	d   protocol.Delivery
}

// NewPipe creates a pipe. Each delivery reaches the consumer latency after
// the producer sent it, in order.
func NewPipe(latency time.Duration, requestBuffer int) *Pipe {
	if requestBuffer <= 0 {
		requestBuffer = DefaultRequestBuffer
	}

	p := &Pipe{
		latency:  latency,
		requests: make(chan protocol.Request, requestBuffer),
		inbound:  make(chan protocol.Delivery, requestBuffer+1),
		outbound: make(chan protocol.Delivery, requestBuffer+1),
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.forward()

	return p
}

// forward moves deliveries from producer to consumer after the latency
func (p *Pipe) forward() {
	defer p.wg.Done()

	var queue []delayed
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var out chan protocol.Delivery
		var head protocol.Delivery
		if len(queue) > 0 && !time.Now().Before(queue[0].due) {
			out = p.outbound
			head = queue[0].d
		}

		select {
		case <-p.done:
			return
		case d := <-p.inbound:
			queue = append(queue, delayed{due: time.Now().Add(p.latency), d: d})
			if len(queue) == 1 && p.latency > 0 {
				timer.Reset(p.latency)
			}
		case out <- head:
			queue = queue[1:]
			if len(queue) > 0 {
				if wait := time.Until(queue[0].due); wait > 0 {
					timer.Reset(wait)
				}
			}
		case <-timer.C:
		}
	}
}

func (p *Pipe) Requests() chan<- protocol.Request {
	return p.requests
}

func (p *Pipe) Deliveries() <-chan protocol.Delivery {
	return p.outbound
}

// ProducerRequests is the producer's view of the request channel
func (p *Pipe) ProducerRequests() <-chan protocol.Request {
	return p.requests
}

// ProducerDeliveries is the producer's view of the delivery channel
func (p *Pipe) ProducerDeliveries() chan<- protocol.Delivery {
	return p.inbound
}

// Close stops forwarding. Deliveries still in flight are dropped.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}
