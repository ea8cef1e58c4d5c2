package document

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papernav/internal/domain"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpen_ValidPDF(t *testing.T) {
	path := writeFile(t, "paper.pdf", []byte("%PDF-1.7 body"))

	f, err := Open(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", f.Name())
	assert.Equal(t, int64(13), f.Size())

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(data))
}

func TestOpen_MagicWithoutExtension(t *testing.T) {
	path := writeFile(t, "paper", []byte("%PDF-1.4"))
	f, err := Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "paper", f.Name())
}

func TestOpen_Rejections(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		max  int64
	}{
		{"empty path", "", 0},
		{"missing", filepath.Join(dir, "nope.pdf"), 0},
		{"directory", dir, 0},
		{"empty file", writeFile(t, "empty.pdf", nil), 0},
		{"too large", writeFile(t, "big.pdf", []byte("%PDF-0123456789")), 4},
		{"not a pdf", writeFile(t, "notes.txt", []byte("hello")), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.path, tt.max)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestBytes(t *testing.T) {
	m := Bytes("a.pdf", []byte("%PDF-x"))
	assert.Equal(t, "a.pdf", m.Name())
	assert.Equal(t, int64(6), m.Size())
	assert.True(t, IsPDF([]byte("%PDF-x")))
	assert.False(t, IsPDF([]byte("PK")))

	rc, err := m.Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF-x", string(data))
}
