// ABOUTME: Entry point for the Tidepool server
// ABOUTME: Serves a file, stream URL or test tone to pull-based players
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/tidepool/internal/ui"
	"github.com/Resonate-Protocol/tidepool/pkg/tidepool"
)

var (
	port      = flag.Int("port", 8937, "WebSocket server port")
	name      = flag.String("name", "", "Server friendly name (default: hostname-tidepool-server)")
	logFile   = flag.String("log-file", "tidepool-server.log", "Log file path")
	noMDNS    = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI     = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	audioFile = flag.String("audio", "", "Audio file or http(s) MP3 stream (MP3, FLAC, OGG, WAV, AIFF). Plays a test tone if not specified")
	loop      = flag.Bool("loop", true, "Restart the audio file when it ends")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if *noTUI {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-tidepool-server", hostname)
	}

	sourceName := "Test tone (440Hz)"
	if *audioFile != "" {
		sourceName = filepath.Base(*audioFile)
	}

	log.Printf("Starting Tidepool Server: %s on port %d", serverName, *port)
	log.Printf("Logging to: %s", *logFile)

	srv, err := tidepool.NewServer(tidepool.ServerConfig{
		Port:       *port,
		Name:       serverName,
		Generators: tidepool.SourceGenerators(*audioFile, *loop),
		SourceName: sourceName,
		EnableMDNS: !*noMDNS,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var tui *ui.ServerTUI
	if !*noTUI {
		tui = ui.NewServerTUI()
		status := ui.ServerStatus{Name: serverName, Port: *port, Source: sourceName}
		go func() {
			if err := tui.Start(status); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
		go reportSessions(srv, tui, status)
	}

	go func() {
		var quit <-chan struct{}
		if tui != nil {
			quit = tui.QuitChan()
		}
		select {
		case sig := <-sigChan:
			log.Printf("Received %v signal, shutting down gracefully...", sig)
		case <-quit:
			log.Printf("Received quit from TUI, shutting down...")
		}
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	if tui != nil {
		tui.Stop()
	}
	log.Printf("Server stopped")
}

// reportSessions pushes connected players to the TUI once a second
func reportSessions(srv *tidepool.Server, tui *ui.ServerTUI, status ui.ServerStatus) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		sessions := srv.Sessions()
		status.Players = make([]ui.PlayerInfo, 0, len(sessions))
		for _, s := range sessions {
			status.Players = append(status.Players, ui.PlayerInfo{
				Name:      s.Name,
				ID:        s.ClientID,
				Requests:  s.Requests,
				Delivered: s.Delivered,
			})
		}
		tui.Update(status)
	}
}
