package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"papernav/internal/document"
	"papernav/internal/domain"
	"papernav/internal/session"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramDefaultMaxFile = 20 << 20 // Bot API download limit

	telegramHelp = "Send me a PDF and I'll process it. Once it's ready, ask me anything about it.\n\n" +
		"Commands:\n/status - Show the session state\n/reset - Start over with a new PDF\n/help - Show this message"
	telegramBusy = "Still working on your previous request."
)

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram implements domain.Channel for a Telegram bot. Each chat gets its
// own session; a PDF document selects and uploads it, text is a question.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string
	maxFile   int64

	bot      botAPI
	client   *http.Client
	sessions *session.Manager
	logger   *zap.Logger
	wg       sync.WaitGroup
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	// MaxFileBytes caps downloaded PDFs. 0 = the Bot API limit.
	MaxFileBytes int64
	Service      domain.DocumentService
	// OnSession runs for every session the channel starts.
	OnSession  func(s *session.Session)
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = telegramDefaultMaxFile
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	t := &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		maxFile:   cfg.MaxFileBytes,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger.Named("telegram"),
	}
	t.sessions = session.NewManager(func(key string) session.Config {
		chatID, _ := strconv.ParseInt(key, 10, 64)
		return session.Config{
			Service:   cfg.Service,
			Logger:    cfg.Logger,
			Observers: []session.Observer{t.observer(chatID)},
		}
	}, func(_ string, s *session.Session) {
		if cfg.OnSession != nil {
			cfg.OnSession(s)
		}
	}, t.logger)
	return t
}

func (t *Telegram) Name() string { return "telegram" }

// Sessions returns the per-chat session manager.
func (t *Telegram) Sessions() *session.Manager { return t.sessions }

// Start connects to Telegram and polls for updates until ctx is cancelled.
// Updates are handled concurrently; each chat's session rejects new
// submissions while it is busy.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		zap.String("username", bot.Self.UserName),
		zap.Int64("id", bot.Self.ID),
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")
	defer t.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.handleUpdate(ctx, update)
			}()
		}
	}
}

// Stop shuts down the Telegram bot.
// Note: StopReceivingUpdates is already called when ctx is cancelled in Start().
// Calling it twice panics, so Stop() is a no-op.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			zap.Int64("user_id", userID),
			zap.String("username", msg.From.UserName),
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	switch {
	case msg.IsCommand():
		t.handleCommand(chatID, msg)
	case msg.Document != nil:
		t.handleDocument(ctx, chatID, msg.Document)
	case strings.TrimSpace(msg.Text) != "":
		t.handleQuestion(ctx, chatID, msg.Text)
	}
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	key := chatKey(chatID)
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, telegramHelp)
	case "status":
		snap := t.sessions.GetOrCreate(key).Snapshot()
		doc := snap.Document
		if doc == "" {
			doc = "none"
		}
		t.sendMessage(chatID, fmt.Sprintf("State: %s\nDocument: %s\nMessages: %d", snap.State, doc, len(snap.Messages)))
	case "reset":
		if s, ok := t.sessions.Get(key); ok && s.State().Busy() {
			t.sendMessage(chatID, telegramBusy)
			return
		}
		t.sessions.Reset(key)
		t.sendMessage(chatID, "Session reset. Send a PDF to begin.")
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) handleDocument(ctx context.Context, chatID int64, file *tgbotapi.Document) {
	s := t.sessions.GetOrCreate(chatKey(chatID))
	switch st := s.State(); {
	case st.Busy():
		t.sendMessage(chatID, telegramBusy)
		return
	case st.Ready():
		t.sendMessage(chatID, "A document is already loaded. Send /reset to start over.")
		return
	}

	if !isPDFAttachment(file) {
		t.sendMessage(chatID, "Please send a PDF file.")
		return
	}
	if int64(file.FileSize) > t.maxFile {
		t.sendMessage(chatID, fmt.Sprintf("%s is too large (max %d MB).", file.FileName, t.maxFile>>20))
		return
	}

	doc, err := t.download(ctx, file)
	if err != nil {
		t.logger.Warn("telegram file download failed", zap.String("file", file.FileName), zap.Error(err))
		t.sendMessage(chatID, "Could not download the file. Please try again.")
		return
	}

	if err := s.SelectDocument(doc); err != nil {
		t.reject(chatID, err)
		return
	}
	if err := s.SubmitUpload(ctx); err != nil {
		var rerr *domain.RequestError
		if !errors.As(err, &rerr) {
			t.reject(chatID, err)
		}
	}
}

func (t *Telegram) handleQuestion(ctx context.Context, chatID int64, text string) {
	s := t.sessions.GetOrCreate(chatKey(chatID))
	if s.State().Busy() {
		t.sendMessage(chatID, telegramBusy)
		return
	}

	if s.State().Ready() {
		_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	}
	_, err := s.Ask(ctx, text)
	var rerr *domain.RequestError
	if err != nil && !errors.As(err, &rerr) {
		t.reject(chatID, err)
	}
}

// reject tells the user why nothing happened.
func (t *Telegram) reject(chatID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrBusy):
		t.sendMessage(chatID, telegramBusy)
	case errors.Is(err, domain.ErrNotReady):
		t.sendMessage(chatID, "Send me a PDF first, then ask your question.")
	case errors.Is(err, domain.ErrDocumentLoaded):
		t.sendMessage(chatID, "A document is already loaded. Send /reset to start over.")
	case errors.Is(err, domain.ErrEmptyInput):
	default:
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			t.sendMessage(chatID, verr.Reason)
			return
		}
		t.logger.Error("telegram request failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// observer mirrors a chat session into the Telegram chat. The provisional
// processing notice is edited in place when the upload resolves.
func (t *Telegram) observer(chatID int64) session.Observer {
	var (
		mu       sync.Mutex
		noticeID int
	)
	return session.ObserverFunc(func(_ *session.Session, c session.Change) {
		switch c.Kind {
		case session.Appended:
			if c.Message.Sender == domain.SenderUser {
				return
			}
			id := t.sendMessage(chatID, c.Message.Text)
			if c.Provisional {
				mu.Lock()
				noticeID = id
				mu.Unlock()
			}
		case session.Replaced:
			mu.Lock()
			id := noticeID
			noticeID = 0
			mu.Unlock()
			if id == 0 || !t.editMessage(chatID, id, c.Message.Text) {
				t.sendMessage(chatID, c.Message.Text)
			}
		}
	})
}

func (t *Telegram) download(ctx context.Context, file *tgbotapi.Document) (domain.Document, error) {
	url, err := t.bot.GetFileDirectURL(file.FileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxFile+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > t.maxFile {
		return nil, fmt.Errorf("file too large: more than %d bytes", t.maxFile)
	}
	if !document.IsPDF(data) {
		return nil, fmt.Errorf("%s is not a PDF", file.FileName)
	}

	name := file.FileName
	if name == "" {
		name = "document.pdf"
	}
	return document.Bytes(name, data), nil
}

func isPDFAttachment(file *tgbotapi.Document) bool {
	return file.MimeType == "application/pdf" || strings.EqualFold(filepath.Ext(file.FileName), ".pdf")
}

func chatKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage sends text, split to fit Telegram's limit, and returns the
// ID of the last message sent (0 on failure).
func (t *Telegram) sendMessage(chatID int64, text string) int {
	const maxLen = telegramMaxMsgLen
	lastID := 0
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
				for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
					cutAt--
				}
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if id := t.sendChunk(chatID, chunk); id != 0 {
			lastID = id
		}
	}
	return lastID
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the parse mode first, fall back to plain text on a parse
// error, retry with backoff otherwise.
func (t *Telegram) sendChunk(chatID int64, text string) int {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		sent, err := t.bot.Send(msg)
		if err == nil {
			return sent.MessageID
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				zap.Duration("retry_after", retryAfter), zap.Int("attempt", attempt+1))
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", zap.Error(err))
			if sent, err2 := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err2 == nil {
				return sent.MessageID
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", zap.Error(err), zap.Int("attempts", maxRetries+1))
	}
	return 0
}

func (t *Telegram) editMessage(chatID int64, messageID int, text string) bool {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := t.bot.Send(edit); err != nil {
		t.logger.Warn("telegram edit failed", zap.Int("message_id", messageID), zap.Error(err))
		return false
	}
	return true
}
