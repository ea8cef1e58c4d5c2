package session

import (
	"context"
	"errors"
	"sync"

	"papernav/internal/domain"
)

// RequestKind is the kind of outbound call a request performs.
type RequestKind int

const (
	UploadRequest RequestKind = iota
	QuestionRequest
)

func (k RequestKind) String() string {
	if k == UploadRequest {
		return "upload"
	}
	return "question"
}

var errNotSent = errors.New("request was resolved before it was sent")

// Request is one outbound call issued by a session transition. Do performs
// the call and touches no session state, so it may run on any goroutine;
// the outcome is applied by Session.Resolve.
type Request struct {
	Kind     RequestKind
	Document domain.Document // UploadRequest
	Question string          // QuestionRequest

	svc  domain.DocumentService
	once sync.Once
	done chan struct{}

	answer string
	err    error
}

func newRequest(kind RequestKind, svc domain.DocumentService) *Request {
	return &Request{Kind: kind, svc: svc, done: make(chan struct{})}
}

// Do sends the request. Only the first call reaches the backend; later
// calls return the first outcome.
func (r *Request) Do(ctx context.Context) error {
	r.once.Do(func() {
		defer close(r.done)
		switch r.Kind {
		case UploadRequest:
			r.err = r.svc.Upload(ctx, r.Document)
		case QuestionRequest:
			r.answer, r.err = r.svc.Ask(ctx, r.Question)
		}
	})
	return r.err
}

// Sent reports whether Do has completed.
func (r *Request) Sent() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Answer returns the answer of a completed question request.
func (r *Request) Answer() string { return r.answer }

// Err returns the outcome of a completed request.
func (r *Request) Err() error { return r.err }

// outcome waits for an in-progress Do. A request that was never sent is
// marked failed so a later Do cannot reach the backend.
func (r *Request) outcome() (string, error) {
	r.once.Do(func() {
		r.err = errNotSent
		close(r.done)
	})
	return r.answer, r.err
}
