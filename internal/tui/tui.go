// Package tui provides a Bubble Tea viewer for the live session snapshot.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/snek/internal/render"
	"github.com/fakeyudi/snek/internal/snapshot"
	"github.com/fakeyudi/snek/internal/watch"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("28")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("28")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	langStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	codeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabChat
	tabContexts
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Chat", "Contexts"}

// DefaultRefresh is how often the viewer polls for a new snapshot.
const DefaultRefresh = 250 * time.Millisecond

type tickMsg time.Time

// ── Model ────────────────────

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	state   *snapshot.Published
	stats   func() watch.Stats
	title   string
	refresh time.Duration

	snap      *snapshot.Snapshot
	updatedAt time.Time

	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	markdown  *glamour.TermRenderer

	// Contexts tab: cursor position and expanded set
	cursor   int
	expanded map[int]bool
}

// Option configures a Model.
type Option func(*Model)

// WithStats shows engine counters on the Summary tab.
func WithStats(f func() watch.Stats) Option {
	return func(m *Model) { m.stats = f }
}

// WithRefresh sets the polling interval.
func WithRefresh(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// New creates a viewer for the snapshots published to state. title is shown
// in the title bar, usually the session name.
func New(state *snapshot.Published, title string, opts ...Option) Model {
	m := Model{
		state:    state,
		title:    title,
		refresh:  DefaultRefresh,
		expanded: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.snap = state.Current()
	m.updatedAt = time.Now()
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return m.tick() }

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if cur := m.state.Current(); cur != m.snap {
			m.snap = cur
			m.updatedAt = time.Time(msg)
			if n := m.contextCount(); m.cursor >= n {
				m.cursor = max(n-1, 0)
			}
			m.expanded = make(map[int]bool)
			m.refreshViewports()
		} else if m.stats != nil && m.ready {
			m.viewports[tabSummary].SetContent(m.renderTab(tabSummary))
		}
		return m, m.tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			return m, nil
		case "1", "2", "3":
			m.activeTab = tabID(msg.String()[0] - '1')
			return m, nil
		case "up", "k":
			if m.activeTab == tabContexts && m.cursor > 0 {
				m.cursor--
				m.rebuild(tabContexts)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabContexts && m.cursor < m.contextCount()-1 {
				m.cursor++
				m.rebuild(tabContexts)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabContexts && m.contextCount() > 0 {
				if m.expanded[m.cursor] {
					delete(m.expanded, m.cursor)
				} else {
					m.expanded[m.cursor] = true
				}
				m.rebuild(tabContexts)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.markdown, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(max(msg.Width-4, 20)),
		)
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  snek  " + m.title)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-3 jump  q quit"
	if m.activeTab == tabContexts {
		hint += "  enter show/hide code"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := max(m.width-lipgloss.Width(hint)-len(pct)-2, 1)
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title, tab row and status bar take one row each
	vpHeight := max(m.height-3, 1)
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) refreshViewports() {
	if !m.ready {
		return
	}
	for i := tabID(0); i < tabCount; i++ {
		m.rebuild(i)
	}
}

func (m *Model) rebuild(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

func (m *Model) contextCount() int {
	if m.snap == nil {
		return 0
	}
	return len(m.snap.CodeContexts)
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	if m.snap == nil {
		return heading(tabNames[t]) + dimStyle.Render("  waiting for the first snapshot…") + "\n"
	}
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabChat:
		return m.renderChat()
	case tabContexts:
		return m.renderContexts()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) renderSummary() string {
	s := m.snap
	var sb strings.Builder
	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-16s", label)) + "  " + value + "\n")
	}

	sb.WriteString(heading("Session"))
	row("ID:", s.SessionID)
	row("Version:", fmt.Sprintf("%d", s.Version))
	row("Max tokens:", fmt.Sprintf("%d", s.Limits.MaxTokens))
	row("Messages:", fmt.Sprintf("%d", len(s.ChatMessages)))
	row("Code contexts:", fmt.Sprintf("%d", len(s.CodeContexts)))
	row("Notes:", fmt.Sprintf("%d", len(s.Markdown)))
	row("Seen at:", timeStyle.Render(m.updatedAt.Format("15:04:05")))

	if m.stats != nil {
		st := m.stats()
		sb.WriteString("\n")
		sb.WriteString(heading("Engine"))
		row("Status:", st.Status.String())
		row("Events:", fmt.Sprintf("%d (%d ignored)", st.Events, st.Ignored))
		row("Reloads:", fmt.Sprintf("%d (%d failed)", st.Reloads, st.FailedReloads))
		row("Incremental:", fmt.Sprintf("%d", st.IncrementalBatches))
		row("Publishes:", fmt.Sprintf("%d", st.Publishes))
		if st.SubscriptionFailures > 0 {
			row("Watch failures:", fmt.Sprintf("%d", st.SubscriptionFailures))
		}
	}
	return sb.String()
}

func (m *Model) renderChat() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Chat (%d)", len(m.snap.ChatMessages))))
	if len(m.snap.ChatMessages) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	md := render.Chat(m.snap.ChatMessages)
	if m.markdown != nil {
		if out, err := m.markdown.Render(md); err == nil {
			sb.WriteString(out)
			return sb.String()
		}
	}
	sb.WriteString(indent(md, "  "))
	return sb.String()
}

func (m *Model) renderContexts() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Code Contexts (%d)", len(m.snap.CodeContexts))))
	if len(m.snap.CodeContexts) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, c := range m.snap.CodeContexts {
		toggle := "  ▶ "
		if m.expanded[i] {
			toggle = "  ▼ "
		}
		line := fmt.Sprintf("%s%s  lines %d-%d", toggle, c.URI, c.StartLine, c.EndLine)
		if i == m.cursor {
			line = selectedRowStyle.Render(line)
		}
		sb.WriteString(line + "  " + langStyle.Render(c.LanguageID) + "\n")
		if c.Description != "" {
			sb.WriteString(dimStyle.Render("      "+c.Description) + "\n")
		}
		if m.expanded[i] {
			sb.WriteString(dimStyle.Render("      modified "+c.LastModified) + "\n")
			sb.WriteString(codeStyle.Render(indent(strings.TrimRight(c.Code, "\n"), "      ")) + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Run starts the viewer and blocks until the user quits.
func Run(state *snapshot.Published, title string, opts ...Option) error {
	p := tea.NewProgram(New(state, title, opts...), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
