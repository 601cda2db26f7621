// ABOUTME: Renders a local stream to a WAV file through a simulated channel
// ABOUTME: Reports underruns for a given policy and channel latency
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/audio/output"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/producer"
	"github.com/Resonate-Protocol/tidepool/pkg/source"
	"github.com/Resonate-Protocol/tidepool/pkg/tidepool"
)

var (
	input       = flag.String("input", "", "Audio file to render (default: 440Hz tone)")
	outPath     = flag.String("out", "tidepool.wav", "Output WAV path")
	duration    = flag.Duration("duration", 5*time.Second, "Length of audio to render")
	latency     = flag.Duration("latency", 0, "Simulated one-way delivery latency")
	realtime    = flag.Bool("realtime", true, "Pace ticks at the quantum rate")
	lowTide     = flag.Int("low-tide", 10, "Request more blocks below this queue depth")
	highTide    = flag.Int("high-tide", 50, "Cap on outstanding requested blocks")
	requestSize = flag.Int("request-size", 10, "Blocks asked for per refill")
	resolution  = flag.String("resolution", "full", "Sample resolution (full, quantized)")
	channels    = flag.Int("channels", 2, "Stream channels (1 or 2)")
	sampleRate  = flag.Int("sample-rate", audio.DefaultSampleRate, "Sample rate")
)

func main() {
	flag.Parse()
	log.SetOutput(os.Stdout)

	res, err := audio.ParseResolution(*resolution)
	if err != nil {
		log.Fatalf("Invalid resolution: %v", err)
	}
	policy := flow.Policy{
		LowTide:           *lowTide,
		HighTide:          *highTide,
		BufferRequestSize: *requestSize,
		Resolution:        res,
		Channels:          *channels,
	}
	if err := policy.Validate(); err != nil {
		log.Fatalf("Invalid stream policy: %v", err)
	}

	safe := flow.MaxUnderrunFreeLatency(policy, *sampleRate)
	log.Printf("Policy tolerates %v of latency; simulating %v", safe, *latency)
	if *latency > safe {
		log.Printf("Latency exceeds the policy margin, expect underruns")
	}

	src, err := source.Open(*input, false)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	gen, err := producer.NewSourceGenerator(source.Conform(src, *sampleRate, *channels))
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}
	defer gen.Close()

	ticks := int64(*duration / audio.QuantumDuration(*sampleRate))
	wavOut, err := output.NewWAVFile(*outPath, output.WAVOptions{Realtime: *realtime, Ticks: ticks})
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}

	stream, err := tidepool.NewLocalStream(tidepool.LocalConfig{
		Policy:     policy,
		Generator:  gen,
		SampleRate: *sampleRate,
		Latency:    *latency,
		Output:     wavOut,
	})
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	if err := stream.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start stream: %v", err)
	}

	<-wavOut.Done()
	stats := stream.Consumer().Stats()
	if err := stream.Stop(); err != nil {
		log.Printf("Error stopping stream: %v", err)
	}

	log.Printf("Rendered %d ticks to %s: %d underruns, %d requests (%d coalesced), %d blocks received",
		stats.Ticks, *outPath, stats.Underruns, stats.Requests, stats.Coalesced, stats.Delivered)
	if gen.Ended() {
		log.Printf("Input ended before the requested duration")
	}
}
