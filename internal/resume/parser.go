// Package resume は外部の履歴書パーサーサービスのクライアントを提供する。
package resume

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/jobsync/internal/model"
)

const maxResponseSize = 2 * 1024 * 1024

// HTTPParser はアップロードされた履歴書を外部パーサーに送信し、構造化された履歴書を受け取る。
// パーサーはLLMを利用するため応答が遅く、キャッシュミス時にのみ呼ばれる。
type HTTPParser struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
}

// NewHTTPParser はHTTPParserを生成する。
func NewHTTPParser(httpClient *http.Client, endpoint string, logger *slog.Logger) *HTTPParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPParser{httpClient: httpClient, endpoint: endpoint, logger: logger}
}

// ParserError はパーサーが2xx以外を返したことを表す。
type ParserError struct {
	StatusCode int
	Message    string
}

func (e *ParserError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("resume parser returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("resume parser returned status %d", e.StatusCode)
}

// Parse はdocument.ParseFuncとして使える。
func (p *HTTPParser) Parse(ctx context.Context, raw []byte) (model.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build parser request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(raw))
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("resume parser request failed",
			slog.Int("size", len(raw)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("resume parser request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read parser response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("resume parser returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &ParserError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var payload model.ResumePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode parser response: %w", err)
	}
	if payload.Title == "" && payload.FullName == "" && payload.Text == "" {
		return nil, fmt.Errorf("resume parser returned an empty document")
	}

	p.logger.Info("resume parsed",
		slog.Int("size", len(raw)),
		slog.Duration("duration", time.Since(start)),
	)
	return &payload, nil
}

// errorMessage はパーサーのエラーレスポンス {"error": "..."} からメッセージを取り出す。
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
