// ABOUTME: Server TUI for displaying connected players and stats
// ABOUTME: Real-time server status display using bubbletea
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	done     chan struct{}
	quitChan chan struct{} // Signal to stop the server
	stopOnce sync.Once
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name    string
	Port    int
	Source  string
	Players []PlayerInfo
}

// PlayerInfo holds per-session counters for display
type PlayerInfo struct {
	Name      string
	ID        string
	Requests  int64
	Delivered int64
}

// serverModel is the bubbletea model for server TUI
type serverModel struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type serverStatusMsg ServerStatus

func (m serverModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m serverModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case serverStatusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m serverModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	playerHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Tidepool Server"))
	b.WriteString("\n\n")

	b.WriteString(field("Server:", m.status.Name))
	b.WriteString(field("Port:", fmt.Sprintf("%d", m.status.Port)))
	b.WriteString(field("Uptime:", time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString(field("Source:", m.status.Source))
	b.WriteString("\n")

	b.WriteString(playerHeaderStyle.Render(fmt.Sprintf("Connected Players (%d)", len(m.status.Players))))
	b.WriteString("\n\n")

	if len(m.status.Players) == 0 {
		b.WriteString(valueStyle.Render("  No players connected"))
		b.WriteString("\n")
	} else {
		for _, p := range m.status.Players {
			b.WriteString(fmt.Sprintf("  • %s", p.Name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%d requests, %d blocks)", p.Requests, p.Delivered)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		done:     make(chan struct{}),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until it quits
func (t *ServerTUI) Start(status ServerStatus) error {
	m := serverModel{
		status:    status,
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for {
			select {
			case status := <-t.updates:
				t.program.Send(serverStatusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.program != nil {
			t.program.Quit()
		}
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
