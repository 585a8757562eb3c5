package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/mailmind/mailmind-go/internal/queue"
)

const pollInterval = 250 * time.Millisecond

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the queue length
type tickMsg time.Time

// queueLenMsg carries the remaining entry count
type queueLenMsg struct {
	remaining int
	err       error
}

// replayDoneMsg marks the end of the replay pass
type replayDoneMsg struct {
	err error
}

// replayModel is the bubbletea model for queue replay progress.
type replayModel struct {
	q         *queue.Queue
	cancel    context.CancelFunc
	total     int
	remaining int
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

// newReplayModel creates a new replay progress model.
func newReplayModel(ctx context.Context, q *queue.Queue, total int) (replayModel, context.Context) {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	rctx, cancel := context.WithCancel(ctx)
	return replayModel{
		q:         q,
		cancel:    cancel,
		total:     total,
		remaining: total,
		progress:  prog,
		theme:     defaultTheme,
	}, rctx
}

// Init starts the replay pass and the polling loop.
func (m replayModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m replayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchLen()

	case queueLenMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to read queue: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.remaining = msg.remaining
		return m, tickCmd()

	case replayDoneMsg:
		m.done = true
		m.err = msg.err
		if n, err := m.q.Len(); err == nil {
			m.remaining = n
		}
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m replayModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m replayModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.total-m.remaining) / float64(m.total)
	}

	status := m.theme.statusStyle().Render("[replaying]")
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d messages", m.total-m.remaining, m.total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop; remaining messages stay queued")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m replayModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render(
			fmt.Sprintf("\nReplay stopped; %d message(s) remain queued.\n", m.remaining))
	}

	if m.err != nil {
		out := m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Replay stopped: %s\n", m.err))
		out += m.theme.hintStyle().Render(
			fmt.Sprintf("%d message(s) remain queued and will be retried.\n", m.remaining))
		return out
	}

	return m.theme.completedStyle().Render(
		fmt.Sprintf("✓ Replayed %d message(s)\n", m.total))
}

// fetchLen reads the remaining queue length off the Update loop.
func (m replayModel) fetchLen() tea.Cmd {
	return func() tea.Msg {
		n, err := m.q.Len()
		return queueLenMsg{remaining: n, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runReplayProgress drains the queue with an interactive progress view.
// Returns nil when the queue drained or the user stopped the pass; the
// replay error otherwise.
func runReplayProgress(ctx context.Context, q *queue.Queue, total int) error {
	model, rctx := newReplayModel(ctx, q, total)
	p := tea.NewProgram(model)

	go func() {
		err := q.Replay(rctx)
		p.Send(replayDoneMsg{err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(replayModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
