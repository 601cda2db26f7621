// ABOUTME: Out-of-band reporting for the real-time consumer
// ABOUTME: Polls consumer stats and logs underruns and faults off the render thread
package stream

import (
	"context"
	"log"
	"time"
)

// Monitor logs consumer health on a ticker. The render tick never logs;
// this loop turns its counters into log lines from an ordinary goroutine.
func Monitor(ctx context.Context, c *Consumer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			stats := c.Stats()
			report(last, stats, c.LastFault())
			last = stats
		}
	}
}

func report(prev, cur Stats, fault string) {
	if n := cur.Underruns - prev.Underruns; n > 0 {
		log.Printf("Underrun: %d silent ticks (depth=%d, outstanding=%d)",
			n, cur.Depth, cur.DataRequested)
	}
	if n := cur.Faults - prev.Faults; n > 0 {
		log.Printf("Recovered %d render faults, last: %s", n, fault)
	}
	if n := cur.Overflowed - prev.Overflowed; n > 0 {
		log.Printf("Dropped %d blocks on full ring", n)
	}
	if n := cur.Malformed - prev.Malformed; n > 0 {
		log.Printf("Dropped %d malformed deliveries", n)
	}
}
