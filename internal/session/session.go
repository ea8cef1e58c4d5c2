package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"papernav/internal/domain"
)

// Config configures a Session.
type Config struct {
	ID        string // generated when empty
	Service   domain.DocumentService
	Logger    *zap.Logger
	Observers []Observer
	Clock     func() time.Time
}

// Session is one user's chat about one document. All mutations go through
// its methods; at most one request is in flight at a time and new
// submissions while busy are rejected, not queued.
type Session struct {
	id        string
	svc       domain.DocumentService
	logger    *zap.Logger
	clock     func() time.Time
	startedAt time.Time

	mu          sync.Mutex
	observers   []Observer
	state       State
	messages    []domain.Message
	input       string
	doc         domain.Document
	provisional int // index of the processing notice, -1 if none
	inflight    *Request
}

func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Session{
		id:          cfg.ID,
		svc:         cfg.Service,
		logger:      cfg.Logger.With(zap.String("session", cfg.ID)),
		clock:       cfg.Clock,
		observers:   append([]Observer(nil), cfg.Observers...),
		state:       AwaitingDocument,
		provisional: -1,
	}
	s.startedAt = s.clock()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Observe registers an observer for all later mutations.
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.id,
		State:        s.state,
		Messages:     append([]domain.Message(nil), s.messages...),
		PendingInput: s.input,
		IsBusy:       s.state.Busy(),
		IsReady:      s.state.Ready(),
		StartedAt:    s.startedAt,
	}
	if s.doc != nil {
		snap.Document = s.doc.Name()
	}
	return snap
}

// State returns the current readiness state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectDocument records doc for the next upload. No request is sent.
func (s *Session) SelectDocument(doc domain.Document) error {
	s.mu.Lock()
	switch {
	case s.state.Busy():
		s.mu.Unlock()
		return domain.ErrBusy
	case s.state.Ready():
		s.mu.Unlock()
		return domain.ErrDocumentLoaded
	}
	s.doc = doc
	name := ""
	if doc != nil {
		name = doc.Name()
	}
	changes := []Change{{Kind: DocumentSelected, State: s.state, Document: name}}
	s.mu.Unlock()

	s.logger.Debug("document selected", zap.String("document", name))
	s.notify(changes)
	return nil
}

// SetInput records the pending question text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	if s.input == text {
		s.mu.Unlock()
		return
	}
	s.input = text
	changes := []Change{{Kind: InputChanged, State: s.state, Input: text}}
	s.mu.Unlock()

	s.notify(changes)
}

// BeginUpload enters Processing, appends the provisional processing notice
// and returns the upload request. Without a selected document it returns a
// *domain.ValidationError and changes nothing.
func (s *Session) BeginUpload() (*Request, error) {
	s.mu.Lock()
	switch {
	case s.state.Busy():
		s.mu.Unlock()
		return nil, domain.ErrBusy
	case s.state.Ready():
		s.mu.Unlock()
		return nil, domain.ErrDocumentLoaded
	case s.doc == nil:
		s.mu.Unlock()
		return nil, &domain.ValidationError{Field: "file", Reason: SelectFileAlert}
	}

	req := newRequest(UploadRequest, s.svc)
	req.Document = s.doc
	s.inflight = req

	var changes []Change
	changes = s.setState(Processing, changes)
	changes = s.append(domain.SenderSystem, fmt.Sprintf(processingFormat, s.doc.Name()), true, changes)
	s.mu.Unlock()

	s.logger.Info("upload started", zap.String("document", req.Document.Name()), zap.Int64("size", req.Document.Size()))
	s.notify(changes)
	return req, nil
}

// BeginQuestion appends the pending input as a user message, clears the
// input, enters Answering and returns the question request. Questions
// before readiness, while busy, or with blank input are rejected and
// change nothing.
func (s *Session) BeginQuestion() (*Request, error) {
	s.mu.Lock()
	req, changes, err := s.beginQuestion(s.input, true)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("question sent", zap.Int("question_len", len(req.Question)))
	s.notify(changes)
	return req, nil
}

// BeginQuestionText is BeginQuestion for text supplied directly. The
// pending input is left untouched, so concurrent SetInput calls cannot
// change which question is sent.
func (s *Session) BeginQuestionText(text string) (*Request, error) {
	s.mu.Lock()
	req, changes, err := s.beginQuestion(text, false)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("question sent", zap.Int("question_len", len(req.Question)))
	s.notify(changes)
	return req, nil
}

// beginQuestion checks and applies the question transition. Callers hold s.mu.
func (s *Session) beginQuestion(text string, fromInput bool) (*Request, []Change, error) {
	switch {
	case !s.state.Ready():
		return nil, nil, domain.ErrNotReady
	case s.state.Busy():
		return nil, nil, domain.ErrBusy
	case strings.TrimSpace(text) == "":
		return nil, nil, domain.ErrEmptyInput
	}

	req := newRequest(QuestionRequest, s.svc)
	req.Question = text
	s.inflight = req

	var changes []Change
	changes = s.append(domain.SenderUser, text, false, changes)
	if fromInput {
		s.input = ""
		changes = append(changes, Change{Kind: InputChanged, State: s.state})
	}
	changes = s.setState(Answering, changes)
	return req, changes, nil
}

// Resolve applies the outcome of req. It waits for an in-progress Do; a
// request that was never sent resolves as a failure. Resolving a request
// that is not the session's in-flight request is a no-op and returns false.
func (s *Session) Resolve(req *Request) bool {
	if req == nil {
		return false
	}
	answer, err := req.outcome()

	s.mu.Lock()
	if s.inflight != req {
		s.mu.Unlock()
		return false
	}
	s.inflight = nil

	var changes []Change
	switch req.Kind {
	case UploadRequest:
		name := req.Document.Name()
		if err != nil {
			changes = s.settle(domain.SenderSystem, UploadErrorText, changes)
			changes = s.setState(AwaitingDocument, changes)
		} else {
			changes = s.settle(domain.SenderSystem, fmt.Sprintf(readyFormat, name), changes)
			changes = s.setState(Ready, changes)
		}
	case QuestionRequest:
		if err != nil {
			changes = s.append(domain.SenderBot, AnswerErrorText, false, changes)
		} else {
			changes = s.append(domain.SenderBot, answer, false, changes)
		}
		changes = s.setState(Ready, changes)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("request failed", zap.Stringer("kind", req.Kind), zap.Error(err))
	} else {
		s.logger.Info("request completed", zap.Stringer("kind", req.Kind))
	}
	s.notify(changes)
	return true
}

// SubmitUpload runs Begin, Do and Resolve for an upload. The returned error
// is the rejection or the *domain.RequestError; the session has already
// recovered either way.
func (s *Session) SubmitUpload(ctx context.Context) error {
	req, err := s.BeginUpload()
	if err != nil {
		return err
	}
	err = req.Do(ctx)
	s.Resolve(req)
	return err
}

// SubmitQuestion runs Begin, Do and Resolve for the pending input.
func (s *Session) SubmitQuestion(ctx context.Context) (string, error) {
	req, err := s.BeginQuestion()
	if err != nil {
		return "", err
	}
	return s.complete(ctx, req)
}

// Ask submits question without going through the pending input.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	req, err := s.BeginQuestionText(question)
	if err != nil {
		return "", err
	}
	return s.complete(ctx, req)
}

func (s *Session) complete(ctx context.Context, req *Request) (string, error) {
	err := req.Do(ctx)
	s.Resolve(req)
	if err != nil {
		return "", err
	}
	return req.Answer(), nil
}

// settle replaces the provisional notice with text, or appends text when
// there is none. Callers hold s.mu.
func (s *Session) settle(sender domain.Sender, text string, changes []Change) []Change {
	if s.provisional < 0 || s.provisional >= len(s.messages) {
		return s.append(sender, text, false, changes)
	}
	idx := s.provisional
	s.provisional = -1
	msg := domain.Message{Sender: sender, Text: text, CreatedAt: s.clock()}
	s.messages[idx] = msg
	return append(changes, Change{Kind: Replaced, Index: idx, Message: msg, State: s.state})
}

// append adds a message. Callers hold s.mu.
func (s *Session) append(sender domain.Sender, text string, provisional bool, changes []Change) []Change {
	msg := domain.Message{Sender: sender, Text: text, CreatedAt: s.clock()}
	s.messages = append(s.messages, msg)
	idx := len(s.messages) - 1
	if provisional {
		s.provisional = idx
	}
	return append(changes, Change{Kind: Appended, Index: idx, Message: msg, State: s.state, Provisional: provisional})
}

// setState moves to next. Callers hold s.mu.
func (s *Session) setState(next State, changes []Change) []Change {
	if s.state == next {
		return changes
	}
	s.logger.Debug("state transition", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
	return append(changes, Change{Kind: StateChanged, State: next})
}

func (s *Session) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, c := range changes {
		for _, o := range observers {
			o.OnChange(s, c)
		}
	}
}

// IsValidation reports whether err is a user-facing validation failure.
func IsValidation(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr)
}
