// Package ui provides reusable UI components for the orderstream CLI:
// a spinner for long-running store operations, tables and status badges.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AshkanYarmoradi/orderstream/cli/styles"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// SpinnerModel is a spinner component with a message
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return SpinnerModel{
		spinner: s,
		message: message,
	}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case SpinnerDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m SpinnerModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(m.result) + "\n"
		}
		return styles.FormatSuccess(m.result) + "\n"
	}

	if m.quitting {
		return styles.FormatWarning("Cancelled") + "\n"
	}

	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// SpinnerDoneMsg signals that the spinner operation is complete
type SpinnerDoneMsg struct {
	Result string
	Err    error
}

// RunWithSpinner runs fn while a spinner shows message. On a non-terminal
// writer the spinner is skipped and only the outcome is printed.
func RunWithSpinner(out io.Writer, message string, fn func() (string, error)) error {
	if !IsTerminal(out) {
		result, err := fn()
		if err != nil {
			fmt.Fprintln(out, styles.FormatError(result))
			return err
		}
		fmt.Fprintln(out, styles.FormatSuccess(result))
		return nil
	}

	p := tea.NewProgram(NewSpinner(message), tea.WithOutput(out))

	errCh := make(chan error, 1)
	go func() {
		result, err := fn()
		errCh <- err
		p.Send(SpinnerDoneMsg{Result: result, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	return <-errCh
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Table renders a bordered table
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow adds a row to the table. Missing values render empty; extra values
// are dropped.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := 0; i < len(t.headers); i++ {
		if i < len(values) {
			row[i] = values[i]
			if w := lipgloss.Width(values[i]); w > t.widths[i] {
				t.widths[i] = w
			}
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().
		Foreground(styles.Text).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().
		Foreground(styles.Border)

	line := func(left, mid, right string) {
		sb.WriteString(borderStyle.Render(left))
		for i, w := range t.widths {
			sb.WriteString(borderStyle.Render(strings.Repeat("─", w+2)))
			if i < len(t.widths)-1 {
				sb.WriteString(borderStyle.Render(mid))
			}
		}
		sb.WriteString(borderStyle.Render(right))
	}

	line("┌", "┬", "┐")
	sb.WriteString("\n")

	sb.WriteString(borderStyle.Render("│"))
	for i, h := range t.headers {
		sb.WriteString(headerStyle.Width(t.widths[i] + 2).Render(h))
		sb.WriteString(borderStyle.Render("│"))
	}
	sb.WriteString("\n")

	line("├", "┼", "┤")
	sb.WriteString("\n")

	for _, row := range t.rows {
		sb.WriteString(borderStyle.Render("│"))
		for i, cell := range row {
			sb.WriteString(cellStyle.Width(t.widths[i] + 2).Render(cell))
			sb.WriteString(borderStyle.Render("│"))
		}
		sb.WriteString("\n")
	}

	line("└", "┴", "┘")

	return sb.String()
}

// StatusBadge returns a styled order status badge
func StatusBadge(status order.Status) string {
	fg := lipgloss.Color("#000000")
	if status == order.StatusCancelled || status == order.StatusRefunded {
		fg = lipgloss.Color("#FFFFFF")
	}
	return lipgloss.NewStyle().
		Background(styles.StatusColor(status)).
		Foreground(fg).
		Padding(0, 1).
		Render(status.String())
}

// Banner renders the orderstream banner
func Banner() string {
	banner := `
  ┌─────────────────────────────────────────┐
  │                                         │
  │          o r d e r s t r e a m          │
  │                                         │
  │     Event-sourced order management      │
  │                                         │
  └─────────────────────────────────────────┘
`
	return lipgloss.NewStyle().
		Foreground(styles.Primary).
		Bold(true).
		Render(banner)
}

// SimpleBanner returns a smaller, simpler banner
func SimpleBanner() string {
	return styles.IconPackage + " " + lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("orderstream") +
		" " +
		styles.Muted.Render("- event-sourced order management")
}

// ListItems formats a list of items with bullets
func ListItems(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(styles.ListBullet.Render(styles.IconDot))
		sb.WriteString(styles.ListItem.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}
