// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/hitoshi/jobsync/internal/model"
)

// PrincipalHeader は上流のゲートウェイが認証済みプリンシパルIDを渡すヘッダー。
const PrincipalHeader = "X-Principal-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var principalIDContextKey = contextKey("principal_id")

// validPrincipalID はゲートウェイが発行するIDの形式。
var validPrincipalID = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// NewPrincipalMiddleware はゲートウェイが付与したプリンシパルIDをリクエストコンテキストに注入する。
// ヘッダーがない、または形式が不正な場合は401を返す。
func NewPrincipalMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID := r.Header.Get(PrincipalHeader)
			if !validPrincipalID.MatchString(principalID) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipalID(r.Context(), principalID)))
		})
	}
}

// PrincipalIDFromContext はリクエストコンテキストからプリンシパルIDを取得する。
// プリンシパルミドルウェアを通過したリクエストでのみ有効。
func PrincipalIDFromContext(ctx context.Context) (string, error) {
	principalID, ok := ctx.Value(principalIDContextKey).(string)
	if !ok || principalID == "" {
		return "", fmt.Errorf("principal ID not found in context")
	}
	return principalID, nil
}

// ContextWithPrincipalID はコンテキストにプリンシパルIDを注入する。
func ContextWithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalIDContextKey, principalID)
}
