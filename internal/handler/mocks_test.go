package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobsync/internal/document"
	"github.com/hitoshi/jobsync/internal/middleware"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/vacancy"
)

// --- モック定義 ---

type mockHandshakeService struct {
	createFn  func(ctx context.Context, principalID, redirectTo string) (string, error)
	consumeFn func(ctx context.Context, stateID string) (*model.HandshakeResult, error)
}

func (m *mockHandshakeService) Create(ctx context.Context, principalID, redirectTo string) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, principalID, redirectTo)
	}
	return "state-123", nil
}

func (m *mockHandshakeService) Consume(ctx context.Context, stateID string) (*model.HandshakeResult, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, stateID)
	}
	return nil, model.ErrStateNotFound
}

type mockTokenService struct {
	exchangeCodeFn func(ctx context.Context, principalID, code string) (*model.TokenRecord, error)
	statusFn       func(ctx context.Context, principalID string) (*model.ConnectionStatus, error)
	disconnectFn   func(ctx context.Context, principalID string) error
}

func (m *mockTokenService) ExchangeCode(ctx context.Context, principalID, code string) (*model.TokenRecord, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, principalID, code)
	}
	return &model.TokenRecord{PrincipalID: principalID}, nil
}

func (m *mockTokenService) Status(ctx context.Context, principalID string) (*model.ConnectionStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, principalID)
	}
	return &model.ConnectionStatus{PrincipalID: principalID}, nil
}

func (m *mockTokenService) Disconnect(ctx context.Context, principalID string) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, principalID)
	}
	return nil
}

type mockAuthURLBuilder struct{}

func (mockAuthURLBuilder) AuthCodeURL(state string) string {
	return "https://jobboard.example/oauth/authorize?state=" + state
}

type mockDocumentService struct {
	getOrCreateFn func(ctx context.Context, ownerID string, kind model.DocumentKind, raw []byte, parse document.ParseFunc) (*document.Result, error)
	getFn         func(ctx context.Context, ownerID string, kind model.DocumentKind, id string) (*model.Document, error)
}

func (m *mockDocumentService) GetOrCreateResult(ctx context.Context, ownerID string, kind model.DocumentKind, raw []byte, parse document.ParseFunc) (*document.Result, error) {
	if m.getOrCreateFn != nil {
		return m.getOrCreateFn(ctx, ownerID, kind, raw, parse)
	}
	return nil, nil
}

func (m *mockDocumentService) Get(ctx context.Context, ownerID string, kind model.DocumentKind, id string) (*model.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID, kind, id)
	}
	return nil, model.ErrDocumentNotFound
}

type mockResumeParser struct {
	parseFn func(ctx context.Context, raw []byte) (model.Payload, error)
}

func (m *mockResumeParser) Parse(ctx context.Context, raw []byte) (model.Payload, error) {
	if m.parseFn != nil {
		return m.parseFn(ctx, raw)
	}
	return &model.ResumePayload{Title: "Backend Engineer"}, nil
}

type mockVacancyService struct {
	submitFn func(ctx context.Context, ownerID, source string) (*document.Result, error)
}

func (m *mockVacancyService) Submit(ctx context.Context, ownerID, source string) (*document.Result, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, ownerID, source)
	}
	return nil, nil
}

type mockVacancyImporter struct {
	importFn func(ctx context.Context, principalID, feedURL string) ([]vacancy.ImportResult, error)
}

func (m *mockVacancyImporter) Import(ctx context.Context, principalID, feedURL string) ([]vacancy.ImportResult, error) {
	if m.importFn != nil {
		return m.importFn(ctx, principalID, feedURL)
	}
	return nil, nil
}

type mockSessionService struct {
	createFn func(ctx context.Context, ownerID, resumeID, vacancyID string, ttl time.Duration) (*model.Session, error)
	getFn    func(ctx context.Context, sessionID, ownerID string) (*model.ResolvedSession, error)
}

func (m *mockSessionService) Create(ctx context.Context, ownerID, resumeID, vacancyID string, ttl time.Duration) (*model.Session, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, resumeID, vacancyID, ttl)
	}
	return nil, nil
}

func (m *mockSessionService) Get(ctx context.Context, sessionID, ownerID string) (*model.ResolvedSession, error) {
	if m.getFn != nil {
		return m.getFn(ctx, sessionID, ownerID)
	}
	return nil, model.ErrSessionNotFound
}

// --- テストヘルパー ---

const testPrincipal = "user-42"

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// withPrincipal はテスト用にリクエストコンテキストにプリンシパルIDを注入するヘルパー。
func withPrincipal(r *http.Request, principalID string) *http.Request {
	return r.WithContext(middleware.ContextWithPrincipalID(r.Context(), principalID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseErrorCode はレスポンスボディからエラーコードを取り出すヘルパー。
func parseErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body.Code
}

func resumeDoc(id string) *model.Document {
	return &model.Document{
		ID:         id,
		OwnerID:    testPrincipal,
		Kind:       model.DocumentKindResume,
		SourceHash: "hash-" + id,
		Title:      "Backend Engineer",
		Payload:    &model.ResumePayload{Title: "Backend Engineer", Skills: []string{"Go"}},
		CreatedAt:  testTime,
	}
}

func vacancyDoc(id string) *model.Document {
	return &model.Document{
		ID:         id,
		OwnerID:    testPrincipal,
		Kind:       model.DocumentKindVacancy,
		SourceHash: "hash-" + id,
		Title:      "Go developer",
		Payload:    &model.VacancyPayload{SourceID: "123", Name: "Go developer"},
		CreatedAt:  testTime,
	}
}
