// Package tui renders one desk in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"librarydesk/internal/desk"
	"librarydesk/internal/models"
	"librarydesk/internal/view"
)

type focus int

const (
	focusCatalog focus = iota
	focusRecords
	focusChat
	focusCount
)

// eventMsg carries one desk change into the bubbletea loop.
type eventMsg struct{ event desk.Event }

// closedMsg is sent once the desk stops publishing.
type closedMsg struct{}

type noticeMsg struct{ notice models.Notice }

// Model is the bubbletea model of a terminal desk.
type Model struct {
	ctx    context.Context
	desk   *desk.Desk
	events <-chan desk.Event
	styles Styles
	labels view.Labels

	snap         desk.Snapshot
	focus        focus
	bookCursor   int
	recordCursor int
	status       *models.Notice

	input    textinput.Model
	chat     viewport.Model
	width    int
	quitting bool
}

// New subscribes to d and builds the initial model.
func New(ctx context.Context, d *desk.Desk) Model {
	labels := d.Labels()
	input := textinput.New()
	input.Placeholder = labels.AskPrompt
	input.CharLimit = 500
	events, _ := d.Subscribe(64)

	m := Model{
		ctx:    ctx,
		desk:   d,
		events: events,
		styles: DefaultStyles(),
		labels: labels,
		input:  input,
		chat:   viewport.New(80, 8),
		width:  80,
	}
	m.sync()
	return m
}

// Run drives the model until the user quits or ctx is done.
func Run(ctx context.Context, d *desk.Desk, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(New(ctx, d), opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.chat.Width = msg.Width - 4
		m.chat.Height = max(msg.Height/3, 4)
		m.input.Width = msg.Width - 6
		m.sync()
		return m, nil

	case eventMsg:
		if msg.event.Kind == desk.EventNotice && msg.event.Notice != nil {
			n := *msg.event.Notice
			m.status = &n
		}
		m.sync()
		return m, m.waitForEvent()

	case noticeMsg:
		m.status = &msg.notice
		return m, nil

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	if m.focus == focusChat {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		m.focus = (m.focus + 1) % focusCount
		return m, m.updateInputFocus()
	case "shift+tab":
		m.focus = (m.focus + focusCount - 1) % focusCount
		return m, m.updateInputFocus()
	case "ctrl+r":
		return m, m.refresh()
	}

	if m.focus == focusChat {
		switch msg.Type {
		case tea.KeyEnter:
			question := m.input.Value()
			m.input.Reset()
			return m, m.ask(question)
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.chat, cmd = m.chat.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "b":
		if m.focus == focusCatalog {
			return m, m.borrowSelected()
		}
	case "r":
		if m.focus == focusRecords {
			return m, m.returnSelected()
		}
	}
	return m, nil
}

func (m *Model) updateInputFocus() tea.Cmd {
	if m.focus == focusChat {
		return m.input.Focus()
	}
	m.input.Blur()
	return nil
}

func (m *Model) moveCursor(delta int) {
	switch m.focus {
	case focusCatalog:
		m.bookCursor = clamp(m.bookCursor+delta, len(m.snap.Catalog.State.Entries))
	case focusRecords:
		m.recordCursor = clamp(m.recordCursor+delta, len(m.snap.Records.State.Entries))
	}
}

func (m Model) borrowSelected() tea.Cmd {
	entries := m.snap.Catalog.State.Entries
	if m.snap.Catalog.Loading || m.bookCursor >= len(entries) || !entries[m.bookCursor].CanBorrow {
		return nil
	}
	d, ctx, id := m.desk, m.ctx, entries[m.bookCursor].BookID
	return func() tea.Msg {
		notice, _ := d.Borrow(ctx, id)
		return noticeMsg{notice: notice}
	}
}

func (m Model) returnSelected() tea.Cmd {
	entries := m.snap.Records.State.Entries
	if m.snap.Records.Loading || m.recordCursor >= len(entries) || !entries[m.recordCursor].CanReturn {
		return nil
	}
	d, ctx, id := m.desk, m.ctx, entries[m.recordCursor].RecordID
	return func() tea.Msg {
		notice, _ := d.Return(ctx, id)
		return noticeMsg{notice: notice}
	}
}

func (m Model) refresh() tea.Cmd {
	d, ctx := m.desk, m.ctx
	return func() tea.Msg {
		if err := d.ScheduleRefresh(); err != nil {
			d.Refresh(ctx)
		}
		return nil
	}
}

// ask starts a chat turn. The answer arrives later as a transcript event.
func (m Model) ask(question string) tea.Cmd {
	d := m.desk
	return func() tea.Msg {
		if _, err := d.SubmitQuestion(question); err != nil && !errors.Is(err, desk.ErrEmptyQuestion) {
			return noticeMsg{notice: models.Notice{Level: models.NoticeError, Message: err.Error()}}
		}
		return nil
	}
}

// sync pulls a fresh snapshot and keeps cursors and the chat viewport in range.
func (m *Model) sync() {
	m.snap = m.desk.Snapshot()
	m.bookCursor = clamp(m.bookCursor, len(m.snap.Catalog.State.Entries))
	m.recordCursor = clamp(m.recordCursor, len(m.snap.Records.State.Entries))
	m.chat.SetContent(m.renderTranscript())
	m.chat.GotoBottom()
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Header.Render(m.labels.Title))
	b.WriteString("\n")
	b.WriteString(m.panel(-1, m.labels.UserHeading, m.renderUserInfo()))
	b.WriteString("\n")
	b.WriteString(m.panel(focusCatalog, m.labels.CatalogHeading, m.renderCatalog()))
	b.WriteString("\n")
	b.WriteString(m.panel(focusRecords, m.labels.RecordsHeading, m.renderRecords()))
	b.WriteString("\n")
	b.WriteString(m.panel(focusChat, m.labels.ChatHeading, m.chat.View()+"\n"+m.input.View()))
	b.WriteString("\n")
	if m.status != nil {
		style := m.styles.Success
		if !m.status.OK() {
			style = m.styles.Error
		}
		b.WriteString(style.Render(m.status.Message))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.Help.Render("tab focus • ↑/↓ select • b borrow • r return • enter send • ctrl+r refresh • q quit"))
	return b.String()
}

func (m Model) panel(f focus, heading, body string) string {
	style := m.styles.Panel
	if f == m.focus {
		style = m.styles.Focused
	}
	if m.width > 4 {
		style = style.Width(m.width - 2)
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, m.styles.Heading.Render(heading), body))
}

func (m Model) renderUserInfo() string {
	st := m.snap.UserInfo
	if st.Loading {
		return m.styles.Muted.Render(m.labels.Loading)
	}
	overdue := st.State.Overdue
	if st.State.OverdueMarked {
		overdue = m.styles.Overdue.Render(overdue)
	}
	return fmt.Sprintf("%s: %s\n%s: %s", m.labels.NameField, st.State.Name, m.labels.OverdueField, overdue)
}

func (m Model) renderCatalog() string {
	st := m.snap.Catalog
	switch {
	case st.Loading:
		return m.styles.Muted.Render(m.labels.Loading)
	case st.State.Error != "":
		return m.styles.Error.Render(st.State.Error)
	}
	lines := make([]string, 0, len(st.State.Entries))
	for i, e := range st.State.Entries {
		line := fmt.Sprintf("%s - %s (%s)", e.Title, e.Author, e.Availability)
		lines = append(lines, m.cursorLine(m.focus == focusCatalog && i == m.bookCursor, line, e.CanBorrow))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRecords() string {
	st := m.snap.Records
	switch {
	case st.Loading:
		return m.styles.Muted.Render(m.labels.Loading)
	case st.State.Error != "":
		return m.styles.Error.Render(st.State.Error)
	case st.State.Empty != "":
		return m.styles.Muted.Render(st.State.Empty)
	}
	lines := make([]string, 0, len(st.State.Entries))
	for i, e := range st.State.Entries {
		due := e.DueDate
		if e.DueOverdue {
			due = m.styles.Overdue.Render(due)
		}
		line := fmt.Sprintf("%s | %s: %s | %s: %s | %s: %s",
			e.BookTitle, m.labels.BorrowDate, e.BorrowDate, m.labels.DueDate, due, m.labels.ReturnDate, e.ReturnDate)
		lines = append(lines, m.cursorLine(m.focus == focusRecords && i == m.recordCursor, line, e.CanReturn))
	}
	return strings.Join(lines, "\n")
}

func (m Model) cursorLine(selected bool, line string, actionable bool) string {
	if !actionable {
		line = m.styles.Muted.Render(line)
	}
	if selected {
		return m.styles.Selected.Render("> ") + line
	}
	return "  " + line
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for i, msg := range m.snap.Transcript.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		style := m.styles.Bot
		prefix := "bot> "
		switch {
		case msg.Pending:
			style = m.styles.Pending
		case msg.Role == models.RoleUser:
			style = m.styles.User
			prefix = "you> "
		}
		b.WriteString(style.Render(prefix + strings.Join(view.Lines(msg.Content), "\n     ")))
	}
	return b.String()
}
