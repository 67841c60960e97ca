package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5B21B6")).Padding(0, 1)
)

// TerminalGate shows the candidate in an editable terminal text area.
// ctrl+s accepts, esc or ctrl+c cancels.
type TerminalGate struct {
	In    io.Reader
	Out   io.Writer
	Title string
	Width int
}

// Confirm runs the editor until the user decides or ctx ends.
func (g TerminalGate) Confirm(ctx context.Context, candidate string) (string, bool, error) {
	m := newEditor(g.Title, candidate, g.Width)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if g.In != nil {
		opts = append(opts, tea.WithInput(g.In))
	}
	if g.Out != nil {
		opts = append(opts, tea.WithOutput(g.Out))
	}
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("confirm: terminal: %w", err)
	}
	em, ok := final.(editor)
	if !ok || !em.accepted {
		return "", false, nil
	}
	return em.area.Value(), true, nil
}

// editor is the bubbletea model behind TerminalGate.
type editor struct {
	title    string
	area     textarea.Model
	accepted bool
	done     bool
}

func newEditor(title, text string, width int) editor {
	if title == "" {
		title = "Refined prompt"
	}
	if width <= 0 {
		width = 80
	}
	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(width)
	ta.SetHeight(min(max(strings.Count(text, "\n")+2, 5), 20))
	ta.SetValue(text)
	ta.Focus()
	return editor{title: title, area: ta}
}

func (m editor) Init() tea.Cmd { return textarea.Blink }

func (m editor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.Type {
		case tea.KeyCtrlS:
			m.accepted, m.done = true, true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.accepted, m.done = false, true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.area, cmd = m.area.Update(msg)
	return m, cmd
}

func (m editor) View() string {
	if m.done {
		return ""
	}
	return titleStyle.Render(m.title) + "\n" +
		boxStyle.Render(m.area.View()) + "\n" +
		helpStyle.Render("ctrl+s update input • esc cancel")
}
