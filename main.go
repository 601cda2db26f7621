// ABOUTME: Entry point for the Tidepool player
// ABOUTME: Parses CLI flags, finds a server and plays its stream
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/tidepool/internal/discovery"
	"github.com/Resonate-Protocol/tidepool/internal/ui"
	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/audio/output"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
	"github.com/Resonate-Protocol/tidepool/pkg/tidepool"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	serverAddr  = flag.String("server", "", "Manual server address (skip mDNS)")
	port        = flag.Int("port", 8938, "Port for mDNS advertisement")
	name        = flag.String("name", "", "Player friendly name (default: hostname-tidepool-player)")
	lowTide     = flag.Int("low-tide", 10, "Request more blocks below this queue depth")
	highTide    = flag.Int("high-tide", 50, "Cap on outstanding requested blocks")
	requestSize = flag.Int("request-size", 10, "Blocks asked for per refill")
	resolution  = flag.String("resolution", "full", "Sample resolution (full, quantized)")
	channels    = flag.Int("channels", 2, "Stream channels (1 or 2)")
	sampleRate  = flag.Int("sample-rate", audio.DefaultSampleRate, "Output sample rate")
	backend     = flag.String("backend", "malgo", "Audio backend (malgo, oto, portaudio)")
	volume      = flag.Int("volume", 100, "Initial volume (0-100)")
	logFile     = flag.String("log-file", "tidepool-player.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	monitor     = flag.Duration("monitor", 0, "Log stream health at this interval (0 = off)")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	playerName := *name
	if playerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		playerName = fmt.Sprintf("%s-tidepool-player", hostname)
	}

	policy, err := policyFromFlags()
	if err != nil {
		log.Fatalf("Invalid stream policy: %v", err)
	}
	for _, w := range policy.Warnings() {
		log.Printf("Policy warning: %s", w)
	}
	log.Printf("Starting Tidepool Player: %s (underrun-free up to %v of latency)",
		playerName, flow.MaxUnderrunFreeLatency(policy, *sampleRate))

	var tuiProg *tea.Program
	var volumeCtrl *ui.VolumeControl

	if useTUI {
		volumeCtrl = ui.NewVolumeControl()
		tuiProg, err = ui.Run(volumeCtrl)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	serverAddress := *serverAddr
	if serverAddress == "" {
		serverAddress = discover(playerName)
	}

	out, err := output.New(*backend)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}

	player, err := tidepool.NewPlayer(tidepool.PlayerConfig{
		ServerAddr:      serverAddress,
		PlayerName:      playerName,
		Policy:          policy,
		SampleRate:      *sampleRate,
		Volume:          *volume,
		Output:          out,
		MonitorInterval: *monitor,
	})
	if err != nil {
		log.Fatalf("Failed to create player: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = player.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}

	connected := true
	updateTUI(ui.StatusMsg{
		Connected:   &connected,
		ServerName:  serverAddress,
		SampleRate:  *sampleRate,
		Channels:    policy.Channels,
		Resolution:  policy.Resolution.String(),
		LowTide:     policy.LowTide,
		HighTide:    policy.HighTide,
		RequestSize: policy.BufferRequestSize,
		Capacity:    policy.Capacity(),
		Latency:     flow.MaxUnderrunFreeLatency(policy, *sampleRate).String(),
		Volume:      *volume,
	})

	if volumeCtrl != nil {
		go handleVolumeControl(player, volumeCtrl)
	}
	if tuiProg != nil {
		go statsUpdateLoop(player, updateTUI)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var quit chan ui.QuitMsg
	if volumeCtrl != nil {
		quit = volumeCtrl.Quit
	}

	select {
	case <-quit:
		log.Printf("Received quit signal from TUI")
	case <-sigChan:
		log.Printf("Shutdown signal received")
	case <-player.Done():
		log.Printf("Stream ended")
	}

	stats := player.Stats()
	if err := player.Close(); err != nil {
		log.Printf("Error closing player: %v", err)
	}
	if tuiProg != nil {
		tuiProg.Quit()
	}

	log.Printf("Player stopped: %d ticks, %d underruns, %d requests, %d blocks received",
		stats.Ticks, stats.Underruns, stats.Requests, stats.Delivered)
}

func policyFromFlags() (flow.Policy, error) {
	res, err := audio.ParseResolution(*resolution)
	if err != nil {
		return flow.Policy{}, err
	}

	p := flow.Policy{
		LowTide:           *lowTide,
		HighTide:          *highTide,
		BufferRequestSize: *requestSize,
		Resolution:        res,
		Channels:          *channels,
	}
	return p, p.Validate()
}

// discover advertises this player and waits for a server
func discover(playerName string) string {
	log.Printf("Starting server discovery...")
	disc := discovery.NewManager(discovery.Config{
		ServiceName: playerName,
		Port:        *port,
	})
	if err := disc.Advertise(); err != nil {
		log.Printf("Failed to advertise player: %v", err)
	}
	if err := disc.Browse(); err != nil {
		log.Fatalf("Failed to browse: %v", err)
	}
	defer disc.Stop()

	select {
	case server := <-disc.Servers():
		log.Printf("Discovered server %s at %s", server.Name, server.Addr())
		return server.Addr()
	case <-time.After(10 * time.Second):
		log.Fatalf("No server found after 10 seconds")
	}
	return ""
}

// handleVolumeControl processes volume changes from TUI
func handleVolumeControl(player *tidepool.Player, volumeCtrl *ui.VolumeControl) {
	for {
		select {
		case vol := <-volumeCtrl.Changes:
			log.Printf("Volume change: %d%%, muted=%v", vol.Volume, vol.Muted)
			player.SetVolume(vol.Volume)
			player.SetMuted(vol.Muted)
		case <-player.Done():
			return
		}
	}
}

// statsUpdateLoop periodically updates TUI with stream statistics
func statsUpdateLoop(player *tidepool.Player, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	// Runtime stats stop the world, so sample them less often
	runtimeStatsTicker := time.NewTicker(2 * time.Second)
	defer runtimeStatsTicker.Stop()

	var goroutines int
	var memAlloc uint64

	for {
		select {
		case <-player.Done():
			disconnected := false
			updateTUI(ui.StatusMsg{Connected: &disconnected, State: "stopped"})
			return

		case <-runtimeStatsTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			goroutines = runtime.NumGoroutine()
			memAlloc = m.Alloc

		case <-ticker.C:
			stats := player.Stats()
			updateTUI(ui.StatusMsg{
				State:         stats.State.String(),
				Depth:         stats.Depth,
				DataRequested: stats.DataRequested,
				Ticks:         stats.Ticks,
				Underruns:     stats.Underruns,
				Requests:      stats.Requests,
				Coalesced:     stats.Coalesced,
				Delivered:     stats.Delivered,
				Faults:        stats.Faults,
				Goroutines:    goroutines,
				MemAlloc:      memAlloc,
			})
		}
	}
}
