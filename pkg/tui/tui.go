// Package tui provides a terminal user interface for drumstem2midi
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

// Drum-machine color scheme
var (
	amber     = lipgloss.Color("#FFB000")
	red808    = lipgloss.Color("#FF4E2A")
	ivory     = lipgloss.Color("#EDE6D6")
	charcoal  = lipgloss.Color("#2B2B2B")
	dimGray   = lipgloss.Color("#666666")
	warnColor = lipgloss.Color("#FFD23F")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(amber).
			Background(charcoal).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(ivory).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(amber).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(warnColor).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(red808).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(amber).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimGray).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateMenu State = iota
	StateFilePicker
	StateAnalyzing
	StateResult
)

// Analyzer runs the pipeline for one stem
type Analyzer interface {
	Run(ctx context.Context, stemPath string, ro pipeline.RunOptions) (*pipeline.Manifest, error)
}

// MenuItem represents a menu option
type MenuItem struct {
	Title        string
	Description  string
	ForceOnsets  bool
	ForceWindows bool
	Exit         bool
}

var menuItems = []MenuItem{
	{Title: "Analyze stem", Description: "Transcribe a drum stem, reusing cached artifacts"},
	{Title: "Re-detect onsets", Description: "Recompute everything from onset detection", ForceOnsets: true},
	{Title: "Re-extract windows", Description: "Keep onsets, recompute spectrogram windows and hits", ForceWindows: true},
	{Title: "Exit", Description: "Exit the application", Exit: true},
}

// Model represents the TUI model
type Model struct {
	analyzer     Analyzer
	runOptions   pipeline.RunOptions
	state        State
	menuIndex    int
	filePicker   filepicker.Model
	spinner      spinner.Model
	selectedFile string
	action       MenuItem
	manifest     *pipeline.Manifest
	err          error
	width        int
	height       int
}

// analysisDoneMsg signals pipeline completion
type analysisDoneMsg struct {
	manifest *pipeline.Manifest
	err      error
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick)
}

// New creates a new TUI model. ro carries the MIDI settings applied to every
// analysis.
func New(a Analyzer, ro pipeline.RunOptions) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".wav", ".wave", ".flac"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(amber)

	return Model{
		analyzer:   a,
		runOptions: ro,
		state:      StateMenu,
		filePicker: fp,
		spinner:    s,
	}
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// the file picker needs to receive all messages while it is shown
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateMenu
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.selectedFile = path
			m.state = StateAnalyzing
			return m, tea.Batch(m.spinner.Tick, m.performAnalysis())
		}

		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StateMenu:
			return m.updateMenu(msg)
		case StateResult:
			return m.updateResult(msg)
		case StateAnalyzing:
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case analysisDoneMsg:
		m.state = StateResult
		m.manifest = msg.manifest
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuIndex > 0 {
			m.menuIndex--
		}
	case "down", "j":
		if m.menuIndex < len(menuItems)-1 {
			m.menuIndex++
		}
	case "enter":
		item := menuItems[m.menuIndex]
		if item.Exit {
			return m, tea.Quit
		}
		m.action = item
		m.state = StateFilePicker
		return m, m.filePicker.Init()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.state = StateMenu
		m.err = nil
		m.selectedFile = ""
		m.manifest = nil
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) options() pipeline.RunOptions {
	ro := m.runOptions
	ro.ForceOnsets = m.action.ForceOnsets
	ro.ForceWindows = m.action.ForceWindows
	return ro
}

func (m Model) performAnalysis() tea.Cmd {
	stem, ro, a := m.selectedFile, m.options(), m.analyzer
	return func() tea.Msg {
		manifest, err := a.Run(context.Background(), stem, ro)
		return analysisDoneMsg{manifest: manifest, err: err}
	}
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(logo())
	s.WriteString("\n")

	switch m.state {
	case StateMenu:
		s.WriteString(m.viewMenu())
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateAnalyzing:
		s.WriteString(m.viewAnalyzing())
	case StateResult:
		s.WriteString(m.viewResult())
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: navigate • enter: select • q: quit"))

	return s.String()
}

func (m Model) viewMenu() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT ACTION "))
	s.WriteString("\n\n")

	for i, item := range menuItems {
		if i == m.menuIndex {
			s.WriteString(selectedStyle.Render(fmt.Sprintf("▸ %s", item.Title)))
			s.WriteString("\n")
			s.WriteString(lipgloss.NewStyle().Foreground(warnColor).PaddingLeft(4).Render(item.Description))
		} else {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  %s", item.Title)))
		}
		s.WriteString("\n")
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT DRUM STEM "))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to menu"))

	return s.String()
}

func (m Model) viewAnalyzing() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" ANALYZING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Analyzing %s...\n", m.spinner.View(), filepath.Base(m.selectedFile)))
	s.WriteString(statusStyle.Render("  " + m.action.Title))

	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	if m.err != nil || m.manifest == nil {
		err := m.err
		if err == nil {
			err = errors.New("no result")
		}
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Analysis failed: %s", err.Error())))
	} else {
		man := m.manifest
		s.WriteString(titleStyle.Render(" DONE "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render(fmt.Sprintf("✓ %d hits from %d onsets", man.NumHits, man.NumOnsets)))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Stem:       %s\n", filepath.Base(man.Stem)))
		s.WriteString(fmt.Sprintf("Hits:       %s\n", filepath.Base(man.Hits)))
		if man.MIDI != "" {
			s.WriteString(fmt.Sprintf("MIDI:       %s (%.1f BPM)\n", filepath.Base(man.MIDI), man.BPM))
		}
		s.WriteString(fmt.Sprintf("Recomputed: %s\n", recomputed(man)))
		if counts := labelCounts(man.Hits); counts != "" {
			s.WriteString(fmt.Sprintf("Labels:     %s\n", counts))
		}
		if man.Degraded != nil {
			s.WriteString(statusStyle.Render("⚠ " + man.Degraded.Error()))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press enter to continue"))

	return boxStyle.Render(s.String())
}

func recomputed(man *pipeline.Manifest) string {
	if len(man.Recomputed) == 0 {
		return "none (cached)"
	}
	names := make([]string, len(man.Recomputed))
	for i, st := range man.Recomputed {
		names[i] = st.String()
	}
	return strings.Join(names, ", ")
}

func labelCounts(hitsPath string) string {
	counts := map[string]int{}
	for _, h := range pipeline.LoadHits(hitsPath) {
		counts[h.Label]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s×%d", l, counts[l])
	}
	return strings.Join(parts, " ")
}

func logo() string {
	logo := `
  ┌─┐┌─┐┌─┐┌─┐  drumstem2midi
  │●││●││○││●│  stem ▸ onsets ▸ windows ▸ hits ▸ midi
  └─┘└─┘└─┘└─┘
`
	return lipgloss.NewStyle().Foreground(amber).Render(logo)
}

// Run starts the TUI application
func Run(a Analyzer, ro pipeline.RunOptions) error {
	p := tea.NewProgram(New(a, ro), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
