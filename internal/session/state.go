// Package session implements the chat session readiness state machine:
// a document must be uploaded and accepted by the backend before questions
// about it are sent.
package session

import (
	"time"

	"papernav/internal/domain"
)

// State is the readiness state of a session.
type State int

const (
	AwaitingDocument State = iota
	Processing
	Ready
	Answering
)

func (s State) String() string {
	switch s {
	case AwaitingDocument:
		return "awaiting_document"
	case Processing:
		return "processing"
	case Ready:
		return "ready"
	case Answering:
		return "answering"
	}
	return "unknown"
}

// Busy reports whether a request is in flight in this state.
func (s State) Busy() bool { return s == Processing || s == Answering }

// Ready reports whether a document has been accepted by the backend.
func (s State) Ready() bool { return s == Ready || s == Answering }

// User-visible texts.
const (
	processingFormat = "Processing %s..."
	readyFormat      = "Ready! Ask me anything about %s."

	UploadErrorText = "Error processing PDF. Please try again."
	AnswerErrorText = "Sorry, I encountered an error."
	SelectFileAlert = "Please select a PDF file first."
	ThinkingText    = "Thinking..."
)

// Snapshot is a copy of a session's state at one point in time.
type Snapshot struct {
	ID           string
	State        State
	Messages     []domain.Message
	PendingInput string
	Document     string // name of the selected document, "" if none
	IsBusy       bool
	IsReady      bool
	StartedAt    time.Time
}

// ChangeKind classifies a session mutation.
type ChangeKind int

const (
	// Appended: a message was added at Index.
	Appended ChangeKind = iota
	// Replaced: the provisional message at Index was replaced.
	Replaced
	// StateChanged: the readiness state moved to State.
	StateChanged
	// InputChanged: the pending input was edited or cleared.
	InputChanged
	// DocumentSelected: a document was recorded for upload.
	DocumentSelected
)

func (k ChangeKind) String() string {
	switch k {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case StateChanged:
		return "state"
	case InputChanged:
		return "input"
	case DocumentSelected:
		return "document"
	}
	return "unknown"
}

// Change describes one mutation, delivered to observers after the session
// lock is released.
type Change struct {
	Kind        ChangeKind
	Index       int            // message index for Appended/Replaced
	Message     domain.Message // the message for Appended/Replaced
	State       State          // state after the mutation
	Provisional bool           // the message will be replaced when the upload resolves
	Input       string         // pending input for InputChanged
	Document    string         // document name for DocumentSelected
}

// Observer is notified after every session mutation.
type Observer interface {
	OnChange(s *Session, c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s *Session, c Change)

func (f ObserverFunc) OnChange(s *Session, c Change) { f(s, c) }
