package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"papernav/internal/document"
	"papernav/internal/domain"
	"papernav/internal/session"
)

const cliHelp = `Commands:
  /open <path>   select a PDF
  /upload        upload the selected PDF
  /status        show the session state
  /reset         start a new session
  /help          show this help
  /quit          exit
Anything else is a question about the uploaded PDF.`

// CLI implements domain.Channel as a line-oriented terminal chat. All
// output is driven by the session observer.
type CLI struct {
	logger     *zap.Logger
	in         io.Reader
	out        io.Writer
	newSession func() *session.Session
	maxBytes   int64
	spinner    bool

	outMu     sync.Mutex
	sess      *session.Session
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Logger *zap.Logger
	In     io.Reader
	Out    io.Writer
	// NewSession starts a session; called at start and on /reset.
	NewSession func() *session.Session
	// MaxBytes caps the size of a selected PDF. 0 = no cap.
	MaxBytes int64
	// Spinner animates "Thinking..." while a request is in flight.
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CLI{
		logger:     cfg.Logger.Named("cli"),
		in:         cfg.In,
		out:        cfg.Out,
		newSession: cfg.NewSession,
		maxBytes:   cfg.MaxBytes,
		spinner:    cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Session returns the current session.
func (c *CLI) Session() *session.Session { return c.sess }

// Start runs the REPL and blocks until EOF, /quit or context cancellation.
func (c *CLI) Start(ctx context.Context) error {
	c.reset()
	c.println("papernav: chat with a PDF. Type /help for commands.")
	c.println("Select a PDF with /open <path>, then /upload.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit := c.command(ctx, line)
			if quit {
				c.logger.Info("user requested quit")
				return nil
			}
			c.prompt()
			continue
		}

		c.ask(ctx, scanner.Text())
		c.prompt()
	}
}

func (c *CLI) command(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		c.println(cliHelp)
	case "/open":
		c.open(arg)
	case "/upload":
		c.upload(ctx)
	case "/status":
		snap := c.sess.Snapshot()
		doc := snap.Document
		if doc == "" {
			doc = "(none)"
		}
		c.printf("session %s: %s, document %s, %d messages\n", snap.ID, snap.State, doc, len(snap.Messages))
	case "/reset":
		c.reset()
		c.println("Started a new session.")
	default:
		c.printf("Unknown command %s. Type /help for commands.\n", cmd)
	}
	return false
}

func (c *CLI) open(path string) {
	doc, err := document.Open(path, c.maxBytes)
	if err != nil {
		c.alert(err)
		return
	}
	if err := c.sess.SelectDocument(doc); err != nil {
		c.alert(err)
		return
	}
	c.printf("Selected %s (%d bytes). Type /upload to process it.\n", doc.Name(), doc.Size())
}

func (c *CLI) upload(ctx context.Context) {
	err := c.sess.SubmitUpload(ctx)
	var rerr *domain.RequestError
	switch {
	case err == nil, errors.As(err, &rerr):
		// The outcome is already in the transcript.
	default:
		c.alert(err)
	}
}

func (c *CLI) ask(ctx context.Context, question string) {
	_, err := c.sess.Ask(ctx, question)
	var rerr *domain.RequestError
	switch {
	case err == nil, errors.As(err, &rerr), errors.Is(err, domain.ErrEmptyInput):
	default:
		c.alert(err)
	}
}

// alert prints a user-facing problem that did not change the transcript.
func (c *CLI) alert(err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.printf("! %s\n", verr.Reason)
	case errors.Is(err, domain.ErrNotReady):
		c.println("! Upload a PDF first: /open <path>, then /upload.")
	case errors.Is(err, domain.ErrDocumentLoaded):
		c.println("! A document is already loaded. Use /reset to start over.")
	case errors.Is(err, domain.ErrBusy):
		c.println("! Still working on the previous request.")
	default:
		c.printf("! %v\n", err)
	}
}

func (c *CLI) reset() {
	c.stopThinking()
	s := c.newSession()
	s.Observe(session.ObserverFunc(c.onChange))
	c.sess = s
}

func (c *CLI) onChange(_ *session.Session, ch session.Change) {
	switch ch.Kind {
	case session.Appended, session.Replaced:
		c.stopThinking()
		if ch.Message.Sender == domain.SenderUser {
			return // already on screen as typed
		}
		c.println(formatMessage(ch.Message))
	case session.StateChanged:
		if ch.State.Busy() {
			c.startThinking()
		} else {
			c.stopThinking()
		}
	}
}

func formatMessage(m domain.Message) string {
	switch m.Sender {
	case domain.SenderSystem:
		return "* " + m.Text
	case domain.SenderBot:
		return "bot> " + m.Text
	}
	return "you> " + m.Text
}

func (c *CLI) prompt() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, "you> ")
}

func (c *CLI) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	stop, done := c.thinkStop, c.thinkDone
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.outMu.Lock()
				_, _ = fmt.Fprint(c.out, "\r\033[K")
				c.outMu.Unlock()
				return
			case <-ticker.C:
				c.outMu.Lock()
				_, _ = fmt.Fprintf(c.out, "\r%s %s", frames[i%len(frames)], session.ThinkingText)
				c.outMu.Unlock()
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error {
	c.stopThinking()
	return nil
}
