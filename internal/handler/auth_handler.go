// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/jobsync/internal/middleware"
	"github.com/hitoshi/jobsync/internal/model"
)

// HandshakeService はOAuth stateの発行と消費を行う。handshake.Managerが実装する。
type HandshakeService interface {
	Create(ctx context.Context, principalID, redirectTo string) (string, error)
	Consume(ctx context.Context, stateID string) (*model.HandshakeResult, error)
}

// TokenService はプリンシパルのトークンを管理する。token.Managerが実装する。
type TokenService interface {
	ExchangeCode(ctx context.Context, principalID, code string) (*model.TokenRecord, error)
	Status(ctx context.Context, principalID string) (*model.ConnectionStatus, error)
	Disconnect(ctx context.Context, principalID string) error
}

// AuthURLBuilder は認可URLを組み立てる。auth.JobBoardProviderが実装する。
type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はコールバック後のリダイレクト先のオリジン。
	BaseURL string
}

// AuthHandler はジョブボードOAuthフローのHTTPハンドラー。
type AuthHandler struct {
	handshake HandshakeService
	tokens    TokenService
	provider  AuthURLBuilder
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(handshake HandshakeService, tokens TokenService, provider AuthURLBuilder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		handshake: handshake,
		tokens:    tokens,
		provider:  provider,
		config:    config,
	}
}

// Login はジョブボードのOAuthフローを開始する。
// GET /auth/jobboard/login?redirect_to=/path
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	stateID, err := h.handshake.Create(r.Context(), principalID, r.URL.Query().Get("redirect_to"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(stateID), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/jobboard/callback?code=xxx&state=yyy
//
// プリンシパルはstateから復元するため、このルートはプリンシパルミドルウェアを通さない。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// ユーザーが認可を拒否した場合など
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("job board authorization denied",
			slog.String("error", providerErr),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewSignInRestartError("認可が拒否されました"))
		return
	}

	result, err := h.handshake.Consume(r.Context(), q.Get("state"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewSignInRestartError("認可コードがありません"))
		return
	}

	if _, err := h.tokens.ExchangeCode(r.Context(), result.PrincipalID, code); err != nil {
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, strings.TrimRight(h.config.BaseURL, "/")+result.RedirectTo, http.StatusTemporaryRedirect)
}
