package transcript

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"papernav/internal/document"
	"papernav/internal/domain"
	"papernav/internal/session"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "transcript.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunMigrations_FreshAndIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Zero(t, version)

	logger := zaptest.NewLogger(t)
	require.NoError(t, RunMigrations(db, logger))
	require.NoError(t, RunMigrations(db, logger))

	version, err = GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestRunMigrations_ColumnAlreadyPresent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE sessions (id TEXT PRIMARY KEY, document TEXT DEFAULT '', started_at DATETIME, channel TEXT DEFAULT '')`)
	require.NoError(t, err)

	require.NoError(t, RunMigrations(db, zaptest.NewLogger(t)))
	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestStore_SessionsAndMessages(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartSession(ctx, domain.SessionRecord{ID: "a", Channel: "cli", StartedAt: t0}))
	require.NoError(t, store.StartSession(ctx, domain.SessionRecord{ID: "b", Channel: "telegram", StartedAt: t0.Add(time.Hour)}))
	require.NoError(t, store.StartSession(ctx, domain.SessionRecord{ID: "a", Channel: "dup"}))
	require.NoError(t, store.SetDocument(ctx, "a", "paper.pdf"))

	for i, text := range []string{"Ready! Ask me anything about paper.pdf.", "q1", "a1"} {
		sender := domain.SenderBot
		if i == 0 {
			sender = domain.SenderSystem
		}
		require.NoError(t, store.AddMessage(ctx, "a", domain.Message{Sender: sender, Text: text, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}))
	}

	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Equal(t, "a", sessions[1].ID)
	assert.Equal(t, "cli", sessions[1].Channel)
	assert.Equal(t, "paper.pdf", sessions[1].Document)
	assert.Equal(t, 3, sessions[1].Messages)

	msgs, err := store.GetMessages(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q1", msgs[0].Text)
	assert.Equal(t, "a1", msgs[1].Text)

	require.NoError(t, store.Ping(ctx))
}

type okService struct{ fail bool }

func (s okService) Upload(ctx context.Context, doc domain.Document) error {
	if s.fail {
		return errors.New("down")
	}
	return nil
}

func (s okService) Ask(ctx context.Context, q string) (string, error) { return "answer to " + q, nil }

func TestRecorder_WritesCommittedMessages(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	s := session.New(session.Config{ID: "s1", Service: okService{}, Logger: zaptest.NewLogger(t)})
	NewRecorder(store, "cli", zaptest.NewLogger(t)).Attach(s)

	require.NoError(t, s.SelectDocument(document.Bytes("paper.pdf", []byte("%PDF-"))))
	require.NoError(t, s.SubmitUpload(ctx))
	_, err := s.Ask(ctx, "what?")
	require.NoError(t, err)

	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Ready! Ask me anything about paper.pdf.", msgs[0].Text)
	assert.Equal(t, domain.SenderUser, msgs[1].Sender)
	assert.Equal(t, "answer to what?", msgs[2].Text)

	sessions, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "paper.pdf", sessions[0].Document)
	assert.Equal(t, "cli", sessions[0].Channel)
}

func TestRecorder_FailedUpload(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	s := session.New(session.Config{ID: "s2", Service: okService{fail: true}})
	NewRecorder(store, "cli", nil).Attach(s)

	require.NoError(t, s.SelectDocument(document.Bytes("paper.pdf", []byte("%PDF-"))))
	require.Error(t, s.SubmitUpload(ctx))

	msgs, err := store.GetMessages(ctx, "s2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, session.UploadErrorText, msgs[0].Text)

	sessions, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions[0].Document)
}
