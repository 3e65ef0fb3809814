package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobsync/internal/middleware"
	"github.com/hitoshi/jobsync/internal/model"
)

// SessionService はセッションの作成と解決を行う。session.Registryが実装する。
type SessionService interface {
	Create(ctx context.Context, ownerID, resumeID, vacancyID string, ttl time.Duration) (*model.Session, error)
	Get(ctx context.Context, sessionID, ownerID string) (*model.ResolvedSession, error)
}

// SessionHandlerConfig はセッションハンドラーの設定。
type SessionHandlerConfig struct {
	// DefaultTTL はttl_secondsが省略された場合のTTL。0の場合は期限なし。
	DefaultTTL time.Duration
}

// SessionHandler はセッションのHTTPハンドラー。
type SessionHandler struct {
	sessions SessionService
	config   SessionHandlerConfig
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionService, config SessionHandlerConfig) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		config:   config,
	}
}

// createSessionRequest はセッション作成リクエストのボディ。ttl_secondsの上限は30日。
type createSessionRequest struct {
	ResumeID   string `json:"resume_id" validate:"required,uuid"`
	VacancyID  string `json:"vacancy_id" validate:"required,uuid"`
	TTLSeconds *int   `json:"ttl_seconds" validate:"omitempty,min=0,max=2592000"`
}

// sessionResponse はセッションのAPIレスポンス。
type sessionResponse struct {
	ID        string            `json:"id"`
	ResumeID  string            `json:"resume_id"`
	VacancyID string            `json:"vacancy_id"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Resume    *documentResponse `json:"resume,omitempty"`
	Vacancy   *documentResponse `json:"vacancy,omitempty"`
}

// CreateSession は履歴書と求人のペアからセッションを作成する。
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createSessionRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ttl := h.config.DefaultTTL
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	sess, err := h.sessions.Create(r.Context(), principalID, req.ResumeID, req.VacancyID, ttl)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// GetSession はセッションと参照先のドキュメントを返す。期限切れの場合は410。
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	resolved, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"), principalID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toSessionResponse(resolved.Session)
	resume := toDocumentResponse(resolved.Resume)
	vacancy := toDocumentResponse(resolved.Vacancy)
	resp.Resume = &resume
	resp.Vacancy = &vacancy

	writeJSON(w, http.StatusOK, resp)
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		ResumeID:  s.ResumeID,
		VacancyID: s.VacancyID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
