// Package tui provides the live diagnostics viewer for csvls.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/csvls/internal/controlplane"
	"github.com/fentz26/csvls/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	docItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// PollInterval is how often the viewer refreshes when it has no change feed.
const PollInterval = 2 * time.Second

// runsShown is how many recent runs the detail panel lists.
const runsShown = 5

// App is the main TUI application model.
type App struct {
	source      Source
	updates     <-chan struct{}
	docs        []DocumentItem
	selectedIdx int
	runs        []models.Run
	stats       map[string]interface{}
	viewport    viewport.Model
	width       int
	height      int
	message     string
	online      bool
	loading     bool
}

// Option configures an App.
type Option func(*App)

// WithUpdates feeds the viewer from a change channel instead of polling.
// See Subscribe.
func WithUpdates(ch <-chan struct{}) Option {
	return func(a *App) { a.updates = ch }
}

// New creates a new TUI application.
func New(source Source, opts ...Option) *App {
	a := &App{
		source:   source,
		viewport: viewport.New(80, 10),
		width:    80,
		height:   24,
		loading:  true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	if a.updates != nil {
		return tea.Batch(a.fetchDocuments(), a.waitForChange())
	}
	return tea.Batch(a.fetchDocuments(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "up", "k":
			if a.selectedIdx > 0 {
				a.selectedIdx--
				return a, a.selectionChanged()
			}

		case "down", "j":
			if a.selectedIdx < len(a.docs)-1 {
				a.selectedIdx++
				return a, a.selectionChanged()
			}

		case "r":
			return a, a.fetchDocuments()

		case "R":
			a.message = "Reinstalling validator..."
			return a, a.reinstall()

		case "pgup", "pgdown":
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(msg)
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width - 4
		a.viewport.Height = max(3, msg.Height/2-4)

	case documentsLoadedMsg:
		a.loading = false
		a.online = true
		prev := a.selectedURI()
		a.docs = msg.docs
		a.stats = msg.stats
		a.reselect(prev)
		a.viewport.SetContent(a.renderDiagnostics())
		return a, a.fetchRuns()

	case runsLoadedMsg:
		if msg.uri == a.selectedURI() {
			a.runs = msg.runs
		}

	case changedMsg:
		return a, tea.Batch(a.fetchDocuments(), a.waitForChange())

	case tickMsg:
		return a, tea.Batch(a.fetchDocuments(), a.tickCmd())

	case reinstallDoneMsg:
		if msg.err != nil {
			a.message = "Error: " + msg.err.Error()
		} else {
			a.message = "✓ Validator reinstalled"
		}
		return a, a.fetchDocuments()

	case errMsg:
		a.loading = false
		a.online = false
		a.message = "Error: " + msg.err.Error()
	}

	return a, nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	status := onlineStyle.Render("● LIVE")
	if !a.online {
		status = offlineStyle.Render("○ OFFLINE")
	}
	problems := 0
	for _, d := range a.docs {
		problems += d.Count()
	}

	header := titleStyle.Render("csvls diagnostics")
	header += "  " + status
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d documents, %d problems]", len(a.docs), problems))
	if avail, ok := a.stats["validator_available"].(bool); ok && !avail {
		header += "  " + lipgloss.NewStyle().Foreground(warningColor).Render("validator unavailable")
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	listHeight := max(3, a.height-a.viewport.Height-10)
	b.WriteString(a.renderDocumentList(listHeight))
	b.WriteString("\n")

	if doc := a.selected(); doc != nil {
		title := lipgloss.NewStyle().Bold(true).Render(doc.DisplayPath())
		b.WriteString(panelStyle.Render(title+"\n"+a.viewport.View()) + "\n")
		b.WriteString(a.renderRuns())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	bar := fmt.Sprintf(" Documents: %d | ↑↓:nav | PgUp/PgDn:scroll | r:refresh | R:reinstall | q:quit", len(a.docs))
	b.WriteString(statusBarStyle.Width(a.width).Render(bar))

	return b.String()
}

func (a *App) renderDocumentList(height int) string {
	if a.loading {
		return "\n  Loading documents...\n"
	}
	if len(a.docs) == 0 {
		return "\n  " + helpStyle.Render("No CSV documents tracked yet.") + "\n"
	}

	var lines []string
	for i, doc := range a.docs {
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %-4d %s", doc.Count(), doc.DisplayPath())))
			continue
		}
		lines = append(lines, docItemStyle.Render(fmt.Sprintf("  %s %s", formatCount(doc.Count()), doc.DisplayPath())))
	}

	// Keep the selection on screen.
	start := 0
	if len(lines) > height {
		start = a.selectedIdx - height + 1
		if start < 0 {
			start = 0
		}
		lines = lines[start : start+height]
	}
	return strings.Join(lines, "\n") + "\n"
}

func (a *App) renderDiagnostics() string {
	doc := a.selected()
	if doc == nil {
		return ""
	}
	if doc.Count() == 0 {
		return lipgloss.NewStyle().Foreground(successColor).Render("✓ No problems")
	}

	var b strings.Builder
	for _, d := range doc.Diagnostics {
		sev := lipgloss.NewStyle().Foreground(errorColor).Render(d.Severity.String())
		if d.Severity == models.SeverityWarning {
			sev = lipgloss.NewStyle().Foreground(warningColor).Render(d.Severity.String())
		}
		// Lines are stored 0-based.
		fmt.Fprintf(&b, "%6d  %s  %s\n", d.Line+1, sev, d.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderRuns() string {
	if len(a.runs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(helpStyle.Render("  Recent runs") + "\n")
	for _, r := range a.runs {
		fmt.Fprintf(&b, "  %s  %-11s %-5s exit=%d  %s\n",
			r.StartedAt.Local().Format("15:04:05"),
			formatOutcome(r.Outcome),
			r.Transport,
			r.ExitCode,
			r.Duration().Round(time.Millisecond))
	}
	return b.String()
}

func formatCount(n int) string {
	s := fmt.Sprintf("%-4d", n)
	if n == 0 {
		return lipgloss.NewStyle().Foreground(successColor).Render(s)
	}
	return lipgloss.NewStyle().Foreground(errorColor).Render(s)
}

func formatOutcome(o models.RunOutcome) string {
	s := fmt.Sprintf("%-11s", o)
	switch o {
	case models.RunOutcomeValid:
		return lipgloss.NewStyle().Foreground(successColor).Render(s)
	case models.RunOutcomeInvalid:
		return lipgloss.NewStyle().Foreground(warningColor).Render(s)
	case models.RunOutcomeStale:
		return lipgloss.NewStyle().Foreground(mutedColor).Render(s)
	default:
		return lipgloss.NewStyle().Foreground(errorColor).Render(s)
	}
}

func (a *App) selected() *DocumentItem {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.docs) {
		return nil
	}
	return &a.docs[a.selectedIdx]
}

func (a *App) selectedURI() string {
	if doc := a.selected(); doc != nil {
		return doc.URI
	}
	return ""
}

// reselect keeps the cursor on the same document across refreshes.
func (a *App) reselect(uri string) {
	for i, d := range a.docs {
		if d.URI == uri {
			a.selectedIdx = i
			return
		}
	}
	if a.selectedIdx >= len(a.docs) {
		a.selectedIdx = max(0, len(a.docs)-1)
	}
}

func (a *App) selectionChanged() tea.Cmd {
	a.runs = nil
	a.viewport.SetContent(a.renderDiagnostics())
	a.viewport.GotoTop()
	return a.fetchRuns()
}

func (a *App) fetchDocuments() tea.Cmd {
	return func() tea.Msg {
		docs, err := a.source.Diagnostics()
		if err != nil {
			return errMsg{err}
		}
		stats, _ := a.source.Stats()
		return documentsLoadedMsg{docs: documentsFrom(docs), stats: stats}
	}
}

func (a *App) fetchRuns() tea.Cmd {
	uri := a.selectedURI()
	if uri == "" {
		return nil
	}
	return func() tea.Msg {
		runs, err := a.source.Runs(uri, runsShown)
		if err != nil {
			return errMsg{err}
		}
		return runsLoadedMsg{uri: uri, runs: runs}
	}
}

func (a *App) reinstall() tea.Cmd {
	return func() tea.Msg {
		return reinstallDoneMsg{err: a.source.Reinstall()}
	}
}

func (a *App) waitForChange() tea.Cmd {
	ch := a.updates
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// documentsFrom converts API documents into list items.
func documentsFrom(docs []controlplane.DocumentDiagnostics) []DocumentItem {
	items := make([]DocumentItem, len(docs))
	for i, d := range docs {
		items[i] = DocumentItem{URI: d.URI, Diagnostics: d.Diagnostics}
	}
	return items
}
