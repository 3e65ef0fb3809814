// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ハンドシェイク関連のエラー。いずれも終端エラーで、呼び出し元はOAuthフローを最初からやり直す必要がある。
var (
	ErrStateNotFound        = errors.New("handshake state not found")
	ErrStateExpired         = errors.New("handshake state expired")
	ErrStateAlreadyConsumed = errors.New("handshake state already consumed")
)

// トークン関連のエラー。
var (
	// ErrTokenNotFound はプリンシパルが一度も接続していない（または切断済み）ことを示す。
	ErrTokenNotFound = errors.New("token not found")
)

// ドキュメント・セッション関連のエラー。呼び出し元が不正または古い参照を渡したことを示す。
var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrOwnershipMismatch  = errors.New("ownership mismatch")
	ErrOperationTimeout   = errors.New("operation timed out")
	ErrInvalidSource      = errors.New("invalid document source")
	ErrUnsupportedPayload = errors.New("unsupported payload")
)

// TokenExchangeError は認可コードのトークン交換に失敗したことを表す。
// 不正なコードはリトライしても成功しないため、呼び出し元はフローを再開する。
type TokenExchangeError struct {
	StatusCode int // リソースサーバーのHTTPステータス。通信エラーの場合は0
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError はアクセストークンのリフレッシュに失敗したことを表す。
// 呼び出し元は「再接続が必要」として扱う。自動リトライは行わない。
type TokenRefreshError struct {
	PrincipalID string
	// Rejected はリソースサーバーがリフレッシュトークンを拒否した（非2xx）ことを示す。
	// falseの場合は通信エラー。
	Rejected   bool
	StatusCode int
	Err        error
}

func (e *TokenRefreshError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("token refresh rejected for principal %s (status %d): %v", e.PrincipalID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token refresh failed for principal %s: %v", e.PrincipalID, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// DocumentCreationError は外部パーサー/フェッチャーの失敗を表す。キャッシュには何も書き込まれない。
type DocumentCreationError struct {
	Kind DocumentKind
	Err  error
}

func (e *DocumentCreationError) Error() string {
	return fmt.Sprintf("failed to create %s document: %v", e.Kind, e.Err)
}

func (e *DocumentCreationError) Unwrap() error { return e.Err }

// StorageUnavailableError はストアへの接続障害などの一時的なエラーを表す。
// HTTP層では401/404ではなく503として扱う。
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// IsStorageUnavailable はerrのチェーンにStorageUnavailableErrorが含まれるかを返す。
func IsStorageUnavailable(err error) bool {
	var target *StorageUnavailableError
	return errors.As(err, &target)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, connection, document, session, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSignInRestart       = "SIGN_IN_RESTART"
	ErrCodeAuthorizationFailed = "AUTHORIZATION_FAILED"
	ErrCodeReconnectRequired   = "RECONNECT_REQUIRED"
	ErrCodeDocumentNotFound    = "DOCUMENT_NOT_FOUND"
	ErrCodeDocumentFailed      = "DOCUMENT_CREATION_FAILED"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidSource       = "INVALID_SOURCE"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewSignInRestartError はハンドシェイクstateが無効な場合のエラーを生成する。
func NewSignInRestartError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSignInRestart,
		Message:  fmt.Sprintf("サインインを完了できませんでした: %s", reason),
		Category: "auth",
		Action:   "もう一度サインインをやり直してください。",
	}
}

// NewAuthorizationFailedError は認可コードの交換に失敗した場合のエラーを生成する。
func NewAuthorizationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthorizationFailed,
		Message:  "ジョブボードでの認可を確認できませんでした。",
		Category: "auth",
		Action:   "もう一度サインインをやり直してください。",
	}
}

// NewReconnectRequiredError はトークンが存在しないかリフレッシュに失敗した場合のエラーを生成する。
func NewReconnectRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeReconnectRequired,
		Message:  "ジョブボードとの接続が切れています。",
		Category: "connection",
		Action:   "アカウントを再接続してください。",
	}
}

// NewDocumentNotFoundError はドキュメントが見つからない場合のエラーを生成する。
func NewDocumentNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeDocumentNotFound,
		Message:  "指定されたドキュメントが見つかりません。",
		Category: "document",
		Action:   "ドキュメントIDを確認してください。",
	}
}

// NewDocumentCreationFailedError は外部パーサー/フェッチャーの失敗時のエラーを生成する。
func NewDocumentCreationFailedError(kind DocumentKind) *APIError {
	return &APIError{
		Code:     ErrCodeDocumentFailed,
		Message:  fmt.Sprintf("%sの解析に失敗しました。", kind),
		Category: "document",
		Action:   "入力内容を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSessionNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "指定されたセッションが見つかりません。",
		Category: "session",
		Action:   "新しいセッションを作成してください。",
	}
}

// NewSessionExpiredError はセッションの有効期限切れのエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "session",
		Action:   "新しいセッションを作成してください。",
	}
}

// NewForbiddenError は所有者不一致のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このリソースにアクセスする権限がありません。",
		Category: "auth",
		Action:   "自分が作成したリソースのIDを指定してください。",
	}
}

// NewInvalidRequestError はリクエスト不正のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidSourceError は求人ソースが解釈できない場合のエラーを生成する。
func NewInvalidSourceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSource,
		Message:  fmt.Sprintf("無効なソースです: %s", reason),
		Category: "validation",
		Action:   "求人IDまたは求人ページのURLを指定してください。",
	}
}

// NewPayloadTooLargeError はアップロードサイズの上限超過エラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%d bytes）を超えています。", limit),
		Category: "validation",
		Action:   "ファイルサイズを小さくして再度お試しください。",
	}
}

// NewStorageUnavailableError はストア障害時のエラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "一時的にサービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTimeoutError はタイムアウト時のエラーを生成する。
func NewTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeTimeout,
		Message:  "処理がタイムアウトしました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamUnavailableError はリソースサーバーと通信できなかった場合のエラーを生成する。
// 接続情報は保持されているため再接続は不要。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "求人サービスと通信できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は分類できないエラーの500を生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
