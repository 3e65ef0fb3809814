package model

import "time"

// TokenRecord はプリンシパルごとのOAuthトークンを表す。
// principal_idごとに1レコードのみ保持し、履歴は持たない。
type TokenRecord struct {
	PrincipalID  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// IsValidAt は安全マージンを考慮して、指定時刻にアクセストークンが有効かを返す。
// now < expires_at - margin の場合のみtrue。
func (t *TokenRecord) IsValidAt(now time.Time, margin time.Duration) bool {
	return now.Before(t.ExpiresAt.Add(-margin))
}

// ConnectionStatus はプリンシパルとジョブボードの接続状態を表す。
type ConnectionStatus struct {
	PrincipalID string
	Connected   bool
	ExpiresAt   *time.Time
	// Expiring はアクセストークンが安全マージン内に入っており、次回利用時にリフレッシュされることを示す。
	Expiring bool
}
