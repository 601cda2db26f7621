// ABOUTME: Bubbletea model for player TUI
// ABOUTME: Shows the tides, queue depth and refill counters of a live stream
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string

	// Stream
	sampleRate int
	channels   int
	resolution string
	lowTide    int
	highTide   int
	reqSize    int
	capacity   int
	latency    string

	// Playback
	state  string
	volume int
	muted  bool

	// Stats
	depth         int
	dataRequested int64
	ticks         int64
	underruns     int64
	requests      int64
	coalesced     int64
	delivered     int64
	faults        int64

	// Debug
	showDebug  bool
	goroutines int
	memAlloc   uint64

	volumeCtrl *VolumeControl

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Tidepool Player"))
	b.WriteString("\n\n")
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStreamInfo())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())

	if m.showDebug {
		b.WriteString(m.renderDebug())
	}

	b.WriteString(m.renderHelp())
	return b.String()
}

func field(name, value string) string {
	return headerStyle.Render(fmt.Sprintf("%-10s", name)) + valueStyle.Render(value) + "\n"
}

// renderHeader renders connection status
func (m Model) renderHeader() string {
	status := "Disconnected"
	if m.connected {
		status = fmt.Sprintf("Connected to %s", m.serverName)
	}
	return field("Status:", status)
}

// renderStreamInfo renders the negotiated format and tides
func (m Model) renderStreamInfo() string {
	if !m.connected || m.sampleRate == 0 {
		return field("Stream:", "none") + "\n"
	}

	s := field("Format:", fmt.Sprintf("%dHz %s %s", m.sampleRate, channelName(m.channels), m.resolution))
	s += field("Tides:", fmt.Sprintf("low %d  high %d  request %d", m.lowTide, m.highTide, m.reqSize))
	if m.latency != "" {
		s += field("Latency:", fmt.Sprintf("%s underrun-free", m.latency))
	}
	return s + "\n"
}

// renderControls renders volume and queue depth
func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	s := field("Volume:", fmt.Sprintf("[%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, muteIcon))

	depth := fmt.Sprintf("[%s] %d blocks", renderBar(m.depth, m.capacity, 20), m.depth)
	if m.connected && m.depth < m.lowTide {
		depth = warnStyle.Render(depth)
	}
	s += headerStyle.Render(fmt.Sprintf("%-10s", "Queue:")) + depth + "\n"
	s += field("State:", m.state)
	return s + "\n"
}

// renderStats renders stream counters
func (m Model) renderStats() string {
	s := field("Refills:", fmt.Sprintf("%d sent  %d coalesced  %d blocks outstanding", m.requests, m.coalesced, m.dataRequested))
	s += field("Received:", fmt.Sprintf("%d blocks", m.delivered))

	underruns := fmt.Sprintf("%d underruns  %d faults", m.underruns, m.faults)
	if m.underruns > 0 || m.faults > 0 {
		underruns = warnStyle.Render(underruns)
	}
	s += headerStyle.Render(fmt.Sprintf("%-10s", "Health:")) + underruns + "\n"
	return s + "\n"
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	s := headerStyle.Render("DEBUG") + "\n"
	s += field("Ticks:", fmt.Sprintf("%d", m.ticks))
	s += field("Routines:", fmt.Sprintf("%d", m.goroutines))
	s += field("Heap:", fmt.Sprintf("%.1f MB", float64(m.memAlloc)/(1<<20)))
	return s + "\n"
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return helpStyle.Render("↑/↓:Volume  m:Mute  d:Debug  q:Quit") + "\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+5, 100)
		m.sendVolume()
	case "down":
		m.volume = max(m.volume-5, 0)
		m.sendVolume()
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.SampleRate != 0 {
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.resolution = msg.Resolution
	}
	if msg.HighTide != 0 {
		m.lowTide = msg.LowTide
		m.highTide = msg.HighTide
		m.reqSize = msg.RequestSize
		m.capacity = msg.Capacity
		m.latency = msg.Latency
	}
	if msg.Volume != 0 {
		m.volume = msg.Volume
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.Ticks != 0 {
		m.depth = msg.Depth
		m.dataRequested = msg.DataRequested
		m.ticks = msg.Ticks
		m.underruns = msg.Underruns
		m.requests = msg.Requests
		m.coalesced = msg.Coalesced
		m.delivered = msg.Delivered
		m.faults = msg.Faults
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Connected  *bool
	ServerName string

	SampleRate int
	Channels   int
	Resolution string

	LowTide     int
	HighTide    int
	RequestSize int
	Capacity    int
	Latency     string

	Volume int
	State  string

	Depth         int
	DataRequested int64
	Ticks         int64
	Underruns     int64
	Requests      int64
	Coalesced     int64
	Delivered     int64
	Faults        int64

	Goroutines int
	MemAlloc   uint64
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = min((value*width)/max, width)
	}
	return strings.Repeat("█", max0(filled)) + strings.Repeat("░", width-max0(filled))
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
