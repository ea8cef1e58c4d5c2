package domain

import (
	"context"
	"io"
)

// Document is a file the user selected for upload.
type Document interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// DocumentService is the remote backend that ingests a document and answers
// questions about it.
type DocumentService interface {
	Upload(ctx context.Context, doc Document) error
	Ask(ctx context.Context, question string) (string, error)
}
