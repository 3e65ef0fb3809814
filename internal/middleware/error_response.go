package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/jobsync/internal/model"
)

// ErrorResponseBody はAPIErrorのJSON表現。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// retryAfterSeconds はストアや求人サービスの一時障害で返す待ち時間の目安。
// サーバー側では自動リトライしないため、クライアントにだけ伝える。
var retryAfterSeconds = map[int]int{
	http.StatusBadGateway:         5,
	http.StatusServiceUnavailable: 5,
}

// WriteErrorResponse はAPIErrorをステータス付きで書き込む。
// 一時障害のステータスでは、呼び出し側が設定していなければRetry-Afterを付ける。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if sec, ok := retryAfterSeconds[statusCode]; ok && h.Get("Retry-After") == "" {
		h.Set("Retry-After", strconv.Itoa(sec))
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は500を書き込む。詳細はログにだけ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
