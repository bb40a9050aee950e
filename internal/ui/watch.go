package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/tasks"
)

const pollInterval = 2 * time.Second

type tickMsg time.Time

type statusMsg struct {
	status    *tasks.Status
	playlists []*models.MonitoredPlaylist
	err       error
}

// Model represents the watch dashboard state.
type Model struct {
	monitor   *tasks.Monitor
	scheduler *tasks.Scheduler
	width     int
	height    int
	status    *tasks.Status
	playlists []*models.MonitoredPlaylist
	err       error
	spinner   spinner.Model
	help      help.Model
	keys      keyMap
}

// NewModel creates a watch dashboard backed by a running monitor and scheduler.
func NewModel(monitor *tasks.Monitor, scheduler *tasks.Scheduler) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.warn

	return &Model{
		monitor:   monitor,
		scheduler: scheduler,
		spinner:   sp,
		help:      help.New(),
		keys:      newKeyMap(),
	}
}

// Init starts the poll loop and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.tick(), m.spinner.Tick)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.scheduler.TriggerNow()
			return m, m.fetchStatus()
		case "r":
			return m, m.fetchStatus()
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), m.tick())

	case statusMsg:
		m.status = msg.status
		m.playlists = msg.playlists
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("tidewatch"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderScheduler())
	b.WriteString("\n")
	b.WriteString(m.renderPlaylists())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	b.WriteString("\n")

	return b.String()
}

func (m *Model) renderScheduler() string {
	state := m.scheduler.State()
	switch state {
	case tasks.SchedulerRunning:
		return fmt.Sprintf("%s checking playlists...", m.spinner.View())
	case tasks.SchedulerStopped:
		return styles.warn.Render("scheduler stopped")
	}

	line := fmt.Sprintf("idle, next check %s", m.scheduler.NextRun().Local().Format("15:04:05"))
	if err := m.scheduler.LastError(); err != nil {
		line += " " + styles.err.Render(fmt.Sprintf("(last cycle: %v)", err))
	}
	return line
}

func (m *Model) renderPlaylists() string {
	if len(m.playlists) == 0 {
		return styles.help.Render("no playlists monitored")
	}

	var b strings.Builder
	for _, p := range m.playlists {
		marker := styles.ok.Render("●")
		if !p.Enabled() {
			marker = styles.help.Render("○")
		}

		checked := "never"
		if t := p.LastChecked(); t != nil {
			checked = t.Local().Format("15:04:05")
		}

		fmt.Fprintf(&b, "%s %s  %s  last %s\n", marker, p.Name(), styles.help.Render(p.PlaylistID()), checked)
	}
	return b.String()
}

func (m *Model) renderStatus() string {
	if m.status == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "queue: %d pending", m.status.PendingWorkItems)

	if count := m.status.DownloadCounts[models.StatusFailedRetryable]; count > 0 {
		fmt.Fprintf(&b, ", %s", styles.warn.Render(fmt.Sprintf("%d awaiting retry", count)))
	}
	if count := m.status.DownloadCounts[models.StatusFailedTerminal]; count > 0 {
		fmt.Fprintf(&b, ", %s", styles.err.Render(fmt.Sprintf("%d failed", count)))
	}
	if count := m.status.DownloadCounts[models.StatusSucceeded]; count > 0 {
		fmt.Fprintf(&b, ", %s", styles.ok.Render(fmt.Sprintf("%d downloaded", count)))
	}
	b.WriteString("\n")

	if r := m.status.LastReport; r != nil {
		fmt.Fprintf(&b, "last cycle: %d playlists, %d new tracks", r.PlaylistsChecked, r.TracksAdded)
		if errs := len(r.PlaylistErrors) + r.DownloadErrors; errs > 0 {
			fmt.Fprintf(&b, ", %s", styles.err.Render(fmt.Sprintf("%d errors", errs)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		status, err := m.monitor.Status()
		if err != nil {
			return statusMsg{err: err}
		}

		playlists, err := m.monitor.Playlists(false)
		return statusMsg{status: status, playlists: playlists, err: err}
	}
}
