package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobsync/internal/middleware"
	"github.com/hitoshi/jobsync/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットに変換して書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	statusCode, apiErr := mapError(err)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// mapError はドメインエラーをHTTPステータスとAPIErrorに対応付ける。
// フェッチャー由来のトークンエラーはDocumentCreationErrorに包まれるため、先に判定する。
// リフレッシュの通信エラーは接続が残っているので再接続を求めず502にする。
func mapError(err error) (int, *model.APIError) {
	var (
		apiErr      *model.APIError
		exchangeErr *model.TokenExchangeError
		refreshErr  *model.TokenRefreshError
		creationErr *model.DocumentCreationError
	)

	switch {
	case errors.As(err, &apiErr):
		return statusForCode(apiErr.Code), apiErr
	case errors.Is(err, model.ErrStateNotFound):
		return http.StatusBadRequest, model.NewSignInRestartError("認可リクエストが見つかりません")
	case errors.Is(err, model.ErrStateExpired):
		return http.StatusBadRequest, model.NewSignInRestartError("認可リクエストの有効期限が切れています")
	case errors.Is(err, model.ErrStateAlreadyConsumed):
		return http.StatusBadRequest, model.NewSignInRestartError("認可リクエストは使用済みです")
	case errors.As(err, &exchangeErr):
		return http.StatusBadRequest, model.NewAuthorizationFailedError()
	case errors.As(err, &refreshErr) && !refreshErr.Rejected:
		return http.StatusBadGateway, model.NewUpstreamUnavailableError()
	case errors.Is(err, model.ErrTokenNotFound), refreshErr != nil:
		return http.StatusUnauthorized, model.NewReconnectRequiredError()
	case model.IsStorageUnavailable(err):
		return http.StatusServiceUnavailable, model.NewStorageUnavailableError()
	case errors.Is(err, model.ErrOperationTimeout):
		return http.StatusGatewayTimeout, model.NewTimeoutError()
	case errors.Is(err, model.ErrInvalidSource):
		return http.StatusBadRequest, model.NewInvalidSourceError("入力を解釈できません")
	case errors.Is(err, model.ErrOwnershipMismatch):
		return http.StatusForbidden, model.NewForbiddenError()
	case errors.Is(err, model.ErrSessionExpired):
		return http.StatusGone, model.NewSessionExpiredError()
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, model.NewSessionNotFoundError()
	case errors.Is(err, model.ErrDocumentNotFound):
		return http.StatusNotFound, model.NewDocumentNotFoundError()
	case errors.As(err, &creationErr):
		return http.StatusUnprocessableEntity, model.NewDocumentCreationFailedError(creationErr.Kind)
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// statusForCode はAPIErrorコードからHTTPステータスコードにマッピングする。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeSignInRestart, model.ErrCodeAuthorizationFailed,
		model.ErrCodeInvalidRequest, model.ErrCodeInvalidSource:
		return http.StatusBadRequest
	case model.ErrCodeReconnectRequired, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeDocumentNotFound, model.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case model.ErrCodeSessionExpired:
		return http.StatusGone
	case model.ErrCodeDocumentFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeUnauthorized はプリンシパルがコンテキストにない場合の401を書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// writeBadRequest は入力不正の400を書き込む。
func writeBadRequest(w http.ResponseWriter, reason string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
}
