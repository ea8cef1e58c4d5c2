// Package provider talks to the document Q&A backend over HTTP.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"papernav/internal/domain"
	"papernav/internal/metrics"
)

const (
	defaultBaseURL    = "http://127.0.0.1:8000"
	defaultUploadPath = "/upload_pdf/"
	defaultAskPath    = "/ask/"

	// maxErrorBody caps how much of a failed response is read for the detail.
	maxErrorBody = 64 << 10
)

// BackendConfig configures the HTTP document service.
type BackendConfig struct {
	BaseURL    string
	UploadPath string
	AskPath    string
	Timeout    time.Duration // 0 = no client-side timeout
	Logger     *zap.Logger
}

// Backend implements domain.DocumentService against the PDF Q&A HTTP API:
// POST {uploadPath} with a multipart "file" part, and POST {askPath} with
// {"question": ...} returning {"answer": ...}.
type Backend struct {
	baseURL    string
	uploadPath string
	askPath    string
	client     *http.Client
	logger     *zap.Logger
}

var _ domain.DocumentService = (*Backend)(nil)

func NewBackend(cfg BackendConfig) *Backend {
	return NewBackendWithClient(cfg, SharedHTTPClient(cfg.Timeout))
}

func NewBackendWithClient(cfg BackendConfig, client *http.Client) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UploadPath == "" {
		cfg.UploadPath = defaultUploadPath
	}
	if cfg.AskPath == "" {
		cfg.AskPath = defaultAskPath
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		uploadPath: cfg.UploadPath,
		askPath:    cfg.AskPath,
		client:     client,
		logger:     cfg.Logger.Named("backend"),
	}
}

func (b *Backend) BaseURL() string { return b.baseURL }

// Upload streams doc to the upload endpoint as multipart/form-data. Any 2xx
// response counts as success; the body is ignored.
func (b *Backend) Upload(ctx context.Context, doc domain.Document) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRequest(metrics.EndpointUpload, time.Since(start), err) }()

	src, err := doc.Open()
	if err != nil {
		return &domain.RequestError{Op: "upload", Err: fmt.Errorf("open %s: %w", doc.Name(), err)}
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	writer := multipart.NewWriter(pw)
	go func() {
		defer src.Close()
		part, err := writer.CreateFormFile("file", doc.Name())
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+b.uploadPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		return &domain.RequestError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		b.logger.Warn("upload request failed", zap.String("document", doc.Name()), zap.Error(err))
		return &domain.RequestError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("upload", resp); err != nil {
		b.logger.Warn("upload rejected",
			zap.String("document", doc.Name()),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	b.logger.Info("document uploaded",
		zap.String("document", doc.Name()),
		zap.Int64("size", doc.Size()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer *string `json:"answer"`
}

// Ask posts question and returns the answer text. A 2xx response without an
// "answer" field is a failure.
func (b *Backend) Ask(ctx context.Context, question string) (answer string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveRequest(metrics.EndpointAsk, time.Since(start), err) }()

	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return "", &domain.RequestError{Op: "ask", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+b.askPath, bytes.NewReader(body))
	if err != nil {
		return "", &domain.RequestError{Op: "ask", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn("ask request failed", zap.Error(err))
		return "", &domain.RequestError{Op: "ask", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("ask", resp); err != nil {
		b.logger.Warn("ask rejected", zap.Int("status", resp.StatusCode), zap.Error(err))
		return "", err
	}

	var out askResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.RequestError{Op: "ask", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Answer == nil {
		return "", &domain.RequestError{Op: "ask", StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no answer")}
	}

	b.logger.Debug("answer received",
		zap.Int("question_len", len(question)),
		zap.Int("answer_len", len(*out.Answer)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return *out.Answer, nil
}

// Healthy checks that the backend answers HTTP at its base URL. Any response
// below 500 counts as reachable; the API has no dedicated health route.
func (b *Backend) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return &domain.RequestError{Op: "health", Err: fmt.Errorf("backend not reachable: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return &domain.RequestError{Op: "health", StatusCode: resp.StatusCode}
	}
	return nil
}

// checkStatus turns a non-2xx response into a RequestError carrying the
// backend's "detail" message when it sends one.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.RequestError{Op: op, StatusCode: resp.StatusCode, Detail: parseDetail(raw)}
}

func parseDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	return string(body.Detail)
}
