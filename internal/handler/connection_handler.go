package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/jobsync/internal/middleware"
)

// ConnectionHandler はジョブボード接続状態のHTTPハンドラー。
type ConnectionHandler struct {
	tokens TokenService
}

// NewConnectionHandler はConnectionHandlerを生成する。
func NewConnectionHandler(tokens TokenService) *ConnectionHandler {
	return &ConnectionHandler{tokens: tokens}
}

// connectionResponse は接続状態のAPIレスポンス。トークン値は含めない。
type connectionResponse struct {
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expiring  bool       `json:"expiring"`
}

// Status は接続状態を返す。トークンのリフレッシュは行わない。
// GET /api/connection
func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	status, err := h.tokens.Status(r.Context(), principalID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, connectionResponse{
		Connected: status.Connected,
		ExpiresAt: status.ExpiresAt,
		Expiring:  status.Expiring,
	})
}

// Disconnect はトークンを削除する。
// DELETE /api/connection
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.tokens.Disconnect(r.Context(), principalID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
