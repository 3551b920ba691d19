package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jobsift/jobsift/internal/extract"
)

// Lines per record in the list view (summary + subtitle + blank separator).
const recordItemHeight = 3

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39")) // bright blue

	inactiveBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")) // dim gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	activeHeaderStyle = headerStyle.
				Foreground(lipgloss.Color("39"))

	inactiveHeaderStyle = headerStyle.
				Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	recordTitleStyle = lipgloss.NewStyle().
				Bold(true)

	recordSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")). // bright white
				Background(lipgloss.Color("24"))  // dark blue bg

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	okStatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("35")) // green

	errStatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(14)

	sectionDividerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

type auditModel struct {
	records  []extract.InvocationRecord
	cursor   int
	active   int // 0=list, 1=detail
	viewport viewport.Model
	width    int
	height   int
	ready    bool
}

// Run opens the invocation browser over the given records (newest first).
func Run(records []extract.InvocationRecord) error {
	if len(records) == 0 {
		fmt.Println("no invocations logged yet")
		return nil
	}
	m := auditModel{records: records}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m auditModel) Init() tea.Cmd {
	return nil
}

func (m auditModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(m.detailWidth(), m.paneHeight())
		m.viewport.SetContent(m.detailContent())
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.active = 1 - m.active
			return m, nil
		case "up", "k":
			if m.active == 0 {
				if m.cursor > 0 {
					m.cursor--
					m.viewport.SetContent(m.detailContent())
					m.viewport.GotoTop()
				}
				return m, nil
			}
		case "down", "j":
			if m.active == 0 {
				if m.cursor < len(m.records)-1 {
					m.cursor++
					m.viewport.SetContent(m.detailContent())
					m.viewport.GotoTop()
				}
				return m, nil
			}
		}
	}

	if m.active == 1 && m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m auditModel) listWidth() int   { return m.width / 3 }
func (m auditModel) detailWidth() int { return m.width - m.listWidth() - 6 }
func (m auditModel) paneHeight() int  { return m.height - 5 }

func (m auditModel) View() string {
	if !m.ready {
		return "loading..."
	}

	list := m.renderList()
	detail := m.viewport.View()

	listBorder, detailBorder := inactiveBorderStyle, activeBorderStyle
	listHeader, detailHeader := inactiveHeaderStyle, activeHeaderStyle
	if m.active == 0 {
		listBorder, detailBorder = activeBorderStyle, inactiveBorderStyle
		listHeader, detailHeader = activeHeaderStyle, inactiveHeaderStyle
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		listHeader.Render(fmt.Sprintf("Invocations (%d)", len(m.records))),
		listBorder.Width(m.listWidth()).Height(m.paneHeight()).Render(list),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		detailHeader.Render("Detail"),
		detailBorder.Width(m.detailWidth()).Height(m.paneHeight()).Render(detail),
	)

	statusBar := statusBarStyle.Width(m.width).Render(
		"j/k: navigate • tab: switch pane • q: quit",
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		statusBar,
	)
}

func (m auditModel) renderList() string {
	visible := m.paneHeight() / recordItemHeight
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}

	var b strings.Builder
	for i := start; i < len(m.records) && i < start+visible; i++ {
		rec := m.records[i]

		status := okStatusStyle.Render("ok ")
		if rec.Status == extract.StatusError {
			status = errStatusStyle.Render("err")
		}
		title := fmt.Sprintf("%s %s %dms", status, rec.Model, rec.LatencyMS)
		subtitle := fmt.Sprintf("%s  %s", rec.CreatedAt.Local().Format("Jan 02 15:04:05"), shortID(rec.ID))

		if i == m.cursor {
			b.WriteString(selectedTitleStyle.Render(title) + "\n")
			b.WriteString(selectedSubtitleStyle.Render(subtitle) + "\n\n")
		} else {
			b.WriteString(recordTitleStyle.Render(title) + "\n")
			b.WriteString(recordSubtitleStyle.Render(subtitle) + "\n\n")
		}
	}
	return b.String()
}

func (m auditModel) detailContent() string {
	rec := m.records[m.cursor]
	divider := sectionDividerStyle.Render(strings.Repeat("─", max(10, m.detailWidth()-2)))

	var b strings.Builder
	writeField := func(label, value string) {
		b.WriteString(detailLabelStyle.Render(label) + value + "\n")
	}
	writeField("ID", rec.ID)
	writeField("Fingerprint", shortID(rec.Fingerprint))
	writeField("Model", rec.Model)
	writeField("Status", rec.Status)
	if rec.Error != "" {
		writeField("Error", rec.Error)
	}
	writeField("Latency", fmt.Sprintf("%dms", rec.LatencyMS))
	writeField("Tokens", fmt.Sprintf("%d prompt / %d completion", rec.PromptTokens, rec.CompletionTokens))
	writeField("Created", rec.CreatedAt.Local().Format(time.RFC1123))

	b.WriteString("\n" + divider + "\nPROMPT\n" + divider + "\n")
	b.WriteString(rec.Prompt)
	b.WriteString("\n\n" + divider + "\nRESPONSE\n" + divider + "\n")
	b.WriteString(rec.Response)
	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "…"
	}
	return id
}
