package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"papernav/internal/session"
)

// fakeBot implements botAPI, recording what the channel sends.
type fakeBot struct {
	mu      sync.Mutex
	nextID  int
	sent    []string
	edits   map[int]string
	fileURL string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		b.nextID++
		b.sent = append(b.sent, m.Text)
		return tgbotapi.Message{MessageID: b.nextID}, nil
	case tgbotapi.EditMessageTextConfig:
		if b.edits == nil {
			b.edits = make(map[int]string)
		}
		b.edits[m.MessageID] = m.Text
		return tgbotapi.Message{MessageID: m.MessageID}, nil
	}
	return tgbotapi.Message{}, errors.New("unexpected chattable")
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return b.fileURL + "/" + fileID, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

func newTestTelegram(t *testing.T, svc *stubService, fileBody string, allow ...string) (*Telegram, *fakeBot) {
	t.Helper()
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fileBody))
	}))
	t.Cleanup(files.Close)

	bot := &fakeBot{fileURL: files.URL}
	tg := NewTelegram(TelegramConfig{
		AllowFrom:  allow,
		Service:    svc,
		HTTPClient: files.Client(),
		Logger:     zaptest.NewLogger(t),
	})
	tg.bot = bot
	return tg, bot
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
	if len(text) > 0 && text[0] == '/' {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return tgbotapi.Update{Message: msg}
}

func pdfUpdate(chatID int64, name string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: chatID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Document: &tgbotapi.Document{FileID: "f1", FileName: name, MimeType: "application/pdf", FileSize: 8},
	}}
}

func TestTelegram_UploadEditsNoticeThenAnswers(t *testing.T) {
	svc := &stubService{}
	tg, bot := newTestTelegram(t, svc, "%PDF-1.7")
	ctx := context.Background()

	tg.handleUpdate(ctx, pdfUpdate(7, "paper.pdf"))

	require.Equal(t, []string{"Processing paper.pdf..."}, bot.texts())
	assert.Equal(t, "Ready! Ask me anything about paper.pdf.", bot.edits[1])

	tg.handleUpdate(ctx, textUpdate(7, "What is it?"))
	assert.Equal(t, []string{"Processing paper.pdf...", "answer: What is it?"}, bot.texts())

	s, ok := tg.Sessions().Get("7")
	require.True(t, ok)
	assert.Equal(t, session.Ready, s.State())
	assert.Len(t, s.Snapshot().Messages, 3)
}

func TestTelegram_QuestionBeforeUpload(t *testing.T) {
	svc := &stubService{}
	tg, bot := newTestTelegram(t, svc, "%PDF-1.7")

	tg.handleUpdate(context.Background(), textUpdate(1, "hello"))

	assert.Equal(t, []string{"Send me a PDF first, then ask your question."}, bot.texts())
	assert.Empty(t, svc.questions)
}

func TestTelegram_RejectsNonPDFDownload(t *testing.T) {
	tg, bot := newTestTelegram(t, &stubService{}, "PK zip bytes")

	tg.handleUpdate(context.Background(), pdfUpdate(1, "paper.pdf"))

	assert.Equal(t, []string{"Could not download the file. Please try again."}, bot.texts())
	s, _ := tg.Sessions().Get("1")
	assert.Equal(t, session.AwaitingDocument, s.State())
}

func TestTelegram_ChatsAreIndependent(t *testing.T) {
	tg, _ := newTestTelegram(t, &stubService{}, "%PDF-1.7")
	ctx := context.Background()

	tg.handleUpdate(ctx, pdfUpdate(1, "a.pdf"))
	tg.handleUpdate(ctx, textUpdate(2, "/status"))

	a, _ := tg.Sessions().Get("1")
	b, _ := tg.Sessions().Get("2")
	assert.Equal(t, session.Ready, a.State())
	assert.Equal(t, session.AwaitingDocument, b.State())
}

func TestTelegram_ResetAndSecondDocument(t *testing.T) {
	tg, bot := newTestTelegram(t, &stubService{}, "%PDF-1.7")
	ctx := context.Background()

	tg.handleUpdate(ctx, pdfUpdate(3, "a.pdf"))
	tg.handleUpdate(ctx, pdfUpdate(3, "b.pdf"))
	assert.Contains(t, bot.texts(), "A document is already loaded. Send /reset to start over.")

	tg.handleUpdate(ctx, textUpdate(3, "/reset"))
	s, _ := tg.Sessions().Get("3")
	assert.Nil(t, s)

	tg.handleUpdate(ctx, pdfUpdate(3, "b.pdf"))
	s, _ = tg.Sessions().Get("3")
	require.NotNil(t, s)
	assert.Equal(t, "b.pdf", s.Snapshot().Document)
}

func TestTelegram_AllowList(t *testing.T) {
	svc := &stubService{}
	tg, bot := newTestTelegram(t, svc, "%PDF-1.7", "42")

	tg.handleUpdate(context.Background(), textUpdate(9, "hi"))

	assert.Equal(t, []string{"Unauthorized. Your user ID is not in the allow list."}, bot.texts())
	assert.Zero(t, tg.Sessions().Len())
}

func TestTelegram_FailedUploadEditsNotice(t *testing.T) {
	svc := &stubService{uploadErr: errors.New("down")}
	tg, bot := newTestTelegram(t, svc, "%PDF-1.7")

	tg.handleUpdate(context.Background(), pdfUpdate(5, "paper.pdf"))

	assert.Equal(t, session.UploadErrorText, bot.edits[1])
	s, _ := tg.Sessions().Get("5")
	assert.Equal(t, session.AwaitingDocument, s.State())
}

func TestTelegram_LongMessageSplitsOnRuneBoundaries(t *testing.T) {
	tg, bot := newTestTelegram(t, &stubService{}, "")

	text := strings.Repeat("€", 2000) + strings.Repeat("∑x²", 700)
	require.NotZero(t, tg.sendMessage(1, text))

	chunks := bot.texts()
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d is not valid UTF-8", i)
		assert.LessOrEqual(t, len(c), telegramMaxMsgLen)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}
