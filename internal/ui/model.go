// Package ui is the full-screen terminal front-end: a message viewport, a
// file picker until a document is ready, then a question input.
package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"papernav/internal/document"
	"papernav/internal/domain"
	"papernav/internal/session"
)

const (
	headerHeight = 2
	pickerRows   = 8
	// filepicker subtracts this from the window height when sizing itself.
	pickerMargin = 5
	chatAreaRows = 3
	footerRows   = 2
)

// Config configures the TUI model.
type Config struct {
	// NewSession starts a session; called at start and on reset.
	NewSession func() *session.Session
	// StartDir is where the file picker opens. Defaults to the working dir.
	StartDir string
	// MaxBytes caps the size of a selected PDF. 0 = no cap.
	MaxBytes int64
	// Markdown renders bot answers with glamour.
	Markdown     bool
	GlamourStyle string
	Logger       *zap.Logger
}

// requestDoneMsg carries a request whose Do has returned.
type requestDoneMsg struct {
	req *session.Request
}

// viewState is shared with the session observer, which runs inside Update.
type viewState struct {
	dirty bool
}

// Model is the bubbletea model. All session mutations happen in Update;
// backend calls run in commands and come back as requestDoneMsg.
type Model struct {
	cfg    Config
	ctx    context.Context
	logger *zap.Logger

	sess    *session.Session
	view    *viewState
	pending *session.Request

	viewport viewport.Model
	input    textinput.Model
	picker   filepicker.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool
	alert  string
}

func New(ctx context.Context, cfg Config) Model {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StartDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.StartDir = wd
		}
	}

	in := textinput.New()
	in.Placeholder = "Ask a question about the PDF..."
	in.Prompt = "> "
	in.CharLimit = 0

	fp := filepicker.New()
	fp.AllowedTypes = []string{".pdf", ".PDF"}
	fp.CurrentDirectory = cfg.StartDir

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		cfg:      cfg,
		ctx:      ctx,
		logger:   cfg.Logger.Named("ui"),
		view:     &viewState{dirty: true},
		viewport: viewport.New(80, 10),
		input:    in,
		picker:   fp,
		spinner:  sp,
	}
	m.startSession()
	return m
}

// Session returns the current session.
func (m Model) Session() *session.Session { return m.sess }

func (m *Model) startSession() {
	s := m.cfg.NewSession()
	view := m.view
	s.Observe(session.ObserverFunc(func(_ *session.Session, c session.Change) {
		switch c.Kind {
		case session.Appended, session.Replaced, session.StateChanged:
			view.dirty = true
		}
	}))
	m.sess = s
	m.pending = nil
	m.view.dirty = true
	m.input.Reset()
	m.input.Blur()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.picker.Init(), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(tea.WindowSizeMsg{Width: msg.Width, Height: pickerRows + pickerMargin})
		cmds = append(cmds, cmd)
		if m.cfg.Markdown {
			m.renderer = newRenderer(m.cfg.GlamourStyle, msg.Width-4)
		}
		m.view.dirty = true

	case requestDoneMsg:
		m.sess.Resolve(msg.req)
		if m.pending == msg.req {
			m.pending = nil
		}
		if m.sess.State() == session.Ready {
			cmds = append(cmds, m.input.Focus())
		}
		m.layout()

	case spinner.TickMsg:
		if m.sess.State().Busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
			m.view.dirty = true
		}

	case tea.KeyMsg:
		cmd, quit := m.handleKey(msg)
		if quit {
			return m, tea.Quit
		}
		cmds = append(cmds, cmd)

	default:
		if !m.sess.State().Ready() {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	m.refresh()
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.Type == tea.KeyCtrlC {
		return nil, true
	}
	if m.alert != "" {
		// The alert blocks until acknowledged.
		m.alert = ""
		return nil, false
	}

	state := m.sess.State()
	if state.Busy() {
		return nil, false
	}

	switch msg.String() {
	case "esc":
		return nil, true
	case "ctrl+r":
		m.startSession()
		m.layout()
		return m.picker.Init(), false
	}

	if !state.Ready() {
		if msg.String() == "ctrl+u" {
			return m.beginUpload(), false
		}
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		if ok, path := m.picker.DidSelectFile(msg); ok {
			m.selectFile(path)
		}
		return cmd, false
	}

	if msg.Type == tea.KeyEnter {
		return m.beginQuestion(), false
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.sess.SetInput(m.input.Value())
	return cmd, false
}

func (m *Model) selectFile(path string) {
	doc, err := document.Open(path, m.cfg.MaxBytes)
	if err != nil {
		m.showAlert(err)
		return
	}
	if err := m.sess.SelectDocument(doc); err != nil {
		m.showAlert(err)
	}
}

func (m *Model) beginUpload() tea.Cmd {
	req, err := m.sess.BeginUpload()
	if err != nil {
		m.showAlert(err)
		return nil
	}
	return m.send(req)
}

func (m *Model) beginQuestion() tea.Cmd {
	m.sess.SetInput(m.input.Value())
	req, err := m.sess.BeginQuestion()
	if err != nil {
		if !errors.Is(err, domain.ErrEmptyInput) {
			m.showAlert(err)
		}
		return nil
	}
	m.input.Reset()
	m.input.Blur()
	return m.send(req)
}

// send runs req off the Update loop and reports back with requestDoneMsg.
func (m *Model) send(req *session.Request) tea.Cmd {
	m.pending = req
	ctx, logger := m.ctx, m.logger
	do := func() tea.Msg {
		if err := req.Do(ctx); err != nil {
			logger.Debug("request failed", zap.Stringer("kind", req.Kind), zap.Error(err))
		}
		return requestDoneMsg{req: req}
	}
	return tea.Batch(do, m.spinner.Tick)
}

func (m *Model) showAlert(err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		m.alert = verr.Reason
	case errors.Is(err, domain.ErrBusy):
		m.alert = "Still working on the previous request."
	case errors.Is(err, domain.ErrNotReady):
		m.alert = "Upload a PDF first."
	case errors.Is(err, domain.ErrDocumentLoaded):
		m.alert = "A document is already loaded. Press ctrl+r to start over."
	default:
		m.alert = err.Error()
	}
}

// layout sizes the viewport to what the bottom area leaves free.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	bottom := chatAreaRows + 2
	if !m.sess.State().Ready() {
		bottom = pickerRows + 4
	}
	h := m.height - headerHeight - bottom - footerRows
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.view.dirty = true
}

// refresh re-renders the transcript after session mutations and keeps the
// newest message in view.
func (m *Model) refresh() {
	if !m.view.dirty {
		return
	}
	m.view.dirty = false
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	snap := m.sess.Snapshot()
	var sb strings.Builder
	for i, msg := range snap.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg))
		sb.WriteString("\n")
	}
	if snap.IsBusy {
		sb.WriteString("\n" + m.spinner.View() + " " + session.ThinkingText + "\n")
	}
	return sb.String()
}

func (m Model) renderMessage(msg domain.Message) string {
	switch msg.Sender {
	case domain.SenderSystem:
		return systemStyle.Render(msg.Text)
	case domain.SenderUser:
		return userStyle.Render("You: ") + msg.Text
	}
	if m.renderer != nil {
		if out, err := m.renderer.Render(msg.Text); err == nil {
			return botLabel.Render("Bot:") + "\n" + strings.TrimRight(out, "\n")
		}
	}
	return botLabel.Render("Bot: ") + botStyle.Render(msg.Text)
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	snap := m.sess.Snapshot()

	status := snap.State.String()
	if snap.Document != "" {
		status = snap.Document + " · " + status
	}
	header := titleStyle.Render("papernav") + "  " + statusStyle.Render(status)

	var bottom string
	if !snap.IsReady {
		selected := "No file selected"
		if snap.Document != "" {
			selected = "Selected: " + snap.Document
		}
		bottom = areaStyle.Render("Choose a PDF\n" + m.picker.View() + "\n" + selected)
	} else {
		bottom = areaStyle.Render(m.input.View())
	}

	footer := helpStyle.Render(m.help(snap))
	if m.alert != "" {
		footer = alertStyle.Render(m.alert) + helpStyle.Render("  (press any key)")
	}

	return strings.Join([]string{header, "", m.viewport.View(), bottom, footer}, "\n")
}

func (m Model) help(snap session.Snapshot) string {
	switch {
	case snap.IsBusy:
		return "ctrl+c: quit"
	case !snap.IsReady:
		return "↑/↓: browse · enter: choose file · ctrl+u: upload · esc: quit"
	}
	return "enter: ask · ctrl+r: new session · esc: quit"
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	opt := glamour.WithStandardStyle(style)
	if style == "" || style == "auto" {
		opt = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return r
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(New(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
