// Package tui is the interactive room screen: a live, ranked list of questions with an input to
// ask new ones.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/live"
	"github.com/astromechza/ama-live/pkg/render"
	"github.com/astromechza/ama-live/pkg/roomview"
	"github.com/astromechza/ama-live/pkg/share"
	"github.com/astromechza/ama-live/pkg/submit"
)

const (
	defaultToastTTL = 4 * time.Second
	chromeHeight    = 4
)

type Submitter interface {
	Submit(ctx context.Context, roomID, text string) (string, error)
}

type Sharer interface {
	Share(ctx context.Context, title, link string) (share.Result, error)
}

// Options configure the model. View must already have the room open.
type Options struct {
	View      *roomview.View
	Submitter Submitter
	// Sharer and ShareURL are optional; without them ctrl+s reports that sharing is unavailable.
	Sharer   Sharer
	ShareURL string
	Logger   *slog.Logger
	ToastTTL time.Duration
}

type changedMsg struct{}

type submittedMsg struct {
	id  string
	err error
}

type sharedMsg struct {
	result share.Result
	err    error
}

type toastExpiredMsg struct {
	seq int
}

type Model struct {
	ctx    context.Context
	opts   Options
	logger *slog.Logger

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	state    roomview.State
	sending  bool
	toast    string
	toastErr bool
	toastSeq int
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	hintStyle   = lipgloss.NewStyle().Faint(true)
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	toastStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	placeholder = "Ask a question"
)

// New builds the model. ctx bounds submissions and shares started from it.
func New(ctx context.Context, opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = defaultToastTTL
	}
	input := textinput.New()
	input.Placeholder = placeholder
	input.Prompt = "> "
	input.CharLimit = 1000
	input.Focus()

	m := &Model{
		ctx:      ctx,
		opts:     opts,
		logger:   logger,
		input:    input,
		viewport: viewport.New(80, 20),
		width:    80,
	}
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

// waitForChange blocks until the room view reports a change.
func (m *Model) waitForChange() tea.Cmd {
	changes := m.opts.View.Changes()
	done := m.ctx.Done()
	return func() tea.Msg {
		select {
		case <-changes:
			return changedMsg{}
		case <-done:
			return nil
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case changedMsg:
		m.refresh()
		return m, m.waitForChange()
	case submittedMsg:
		return m.handleSubmitted(msg)
	case sharedMsg:
		return m.handleShared(msg)
	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		return m, m.submit()
	case tea.KeyCtrlS:
		return m, m.share()
	case tea.KeyCtrlR:
		m.opts.View.Reload()
		m.refresh()
		return m, nil
	case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input text. Blank input is ignored without a round trip; the new question
// appears once the live channel delivers it.
func (m *Model) submit() tea.Cmd {
	if m.sending {
		return nil
	}
	text := m.input.Value()
	if _, err := submit.Validate(text); err != nil {
		return nil
	}
	m.sending = true
	ctx := m.ctx
	sub := m.opts.Submitter
	roomID := m.state.RoomID
	return func() tea.Msg {
		id, err := sub.Submit(ctx, roomID, text)
		return submittedMsg{id: id, err: err}
	}
}

func (m *Model) handleSubmitted(msg submittedMsg) (tea.Model, tea.Cmd) {
	m.sending = false
	if msg.err != nil {
		if errors.Is(msg.err, ama.ErrValidation) || errors.Is(msg.err, context.Canceled) {
			return m, nil
		}
		return m, m.showToast(submit.FailureText, true)
	}
	m.input.Reset()
	return m, nil
}

func (m *Model) share() tea.Cmd {
	if m.opts.Sharer == nil {
		return m.showToast("Sharing is not configured.", true)
	}
	link, err := share.RoomURL(m.opts.ShareURL, m.state.RoomID)
	if err != nil {
		m.logger.Warn("failed to build room link", "err", err)
		return m.showToast("Sharing is not configured.", true)
	}
	ctx := m.ctx
	sharer := m.opts.Sharer
	title := "Ask me anything: " + m.state.RoomID
	return func() tea.Msg {
		res, err := sharer.Share(ctx, title, link)
		return sharedMsg{result: res, err: err}
	}
}

func (m *Model) handleShared(msg sharedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if errors.Is(msg.err, context.Canceled) {
			return m, nil
		}
		m.logger.Warn("failed to share room", "err", msg.err)
		return m, m.showToast("Could not share the room link.", true)
	}
	return m, m.showToast(msg.result.Confirmation, false)
}

func (m *Model) showToast(text string, isErr bool) tea.Cmd {
	m.toastSeq++
	m.toast = text
	m.toastErr = isErr
	seq := m.toastSeq
	return tea.Tick(m.opts.ToastTTL, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}

func (m *Model) resize() {
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chromeHeight, 1)
	m.input.Width = max(m.width-len(m.input.Prompt)-1, 10)
	m.setContent()
}

func (m *Model) refresh() {
	m.state = m.opts.View.State()
	m.setContent()
}

func (m *Model) setContent() {
	m.viewport.SetContent(m.body())
}

func (m *Model) body() string {
	switch m.state.Phase {
	case roomview.PhaseReady:
		width := 0
		if m.width > 40 {
			width = m.width - 30
		}
		return render.String(m.state.Messages, render.Options{Width: width, Empty: "No questions yet. Be the first to ask!"})
	case roomview.PhaseFailed:
		return errStyle.Render(fmt.Sprintf("Could not load questions: %v", m.state.Err)) + "\n" + hintStyle.Render("Press ctrl+r to retry.")
	default:
		return "Loading..."
	}
}

func (m *Model) liveIndicator() string {
	switch m.state.Live {
	case live.StateOpen:
		return liveStyle.Render("live")
	case live.StateConnecting, live.StateReconnecting:
		return warnStyle.Render("connecting...")
	case live.StateUnavailable:
		return errStyle.Render("live updates unavailable")
	}
	return ""
}

func (m *Model) View() string {
	header := titleStyle.Render("Room "+m.state.RoomID) + "  " + m.liveIndicator()
	hint := hintStyle.Render("enter: ask  ctrl+s: share  ctrl+r: reload  esc: quit")

	toast := ""
	if m.toast != "" {
		if m.toastErr {
			toast = errStyle.Render(m.toast)
		} else {
			toast = toastStyle.Render(m.toast)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		toast,
		m.input.View(),
		hint,
	)
}
