// Package document loads local PDF files for upload.
package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"papernav/internal/domain"
)

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// File is a PDF on the local filesystem. The content is read lazily on Open
// so large files are streamed into the upload body.
type File struct {
	path string
	name string
	size int64
}

// Open validates path and returns it as a Document. A maxBytes of zero
// disables the size check.
func Open(path string, maxBytes int64) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &domain.ValidationError{Reason: "Please select a PDF file first."}
	}
	path = expandHome(path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("%s does not exist", path)}
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("%s is not a regular file", path)}
	}
	if info.Size() == 0 {
		return nil, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("%s is empty", path)}
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, &domain.ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("%s is too large: %d bytes (max: %d)", path, info.Size(), maxBytes),
		}
	}

	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		ok, err := hasPDFMagic(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("%s is not a PDF", path)}
		}
	}

	return &File{path: path, name: filepath.Base(path), size: info.Size()}, nil
}

func (f *File) Name() string { return f.name }
func (f *File) Size() int64  { return f.size }
func (f *File) Path() string { return f.path }

func (f *File) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func hasPDFMagic(path string) (bool, error) {
	fh, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(fh, head); err != nil {
		return false, nil
	}
	return bytes.Equal(head, pdfMagic), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Memory is an in-memory document, used for attachments received over chat
// channels.
type Memory struct {
	name string
	data []byte
}

// Bytes wraps data as a Document named name.
func Bytes(name string, data []byte) *Memory {
	return &Memory{name: name, data: data}
}

func (m *Memory) Name() string { return m.name }
func (m *Memory) Size() int64  { return int64(len(m.data)) }

func (m *Memory) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}
