package model

import "time"

// HandshakeState はOAuth認可コードフローの1回限りのstateを表す。
// コールバック時に1度だけ消費され、TTL経過後は消費の有無に関わらず無効になる。
type HandshakeState struct {
	StateID     string
	PrincipalID string
	RedirectTo  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Consumed    bool
	ConsumedAt  *time.Time
}

// IsExpired は指定時刻においてstateが期限切れかを返す。
func (s *HandshakeState) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// HandshakeResult はstate消費に成功した際に呼び出し元へ返す情報。
type HandshakeResult struct {
	PrincipalID string
	RedirectTo  string
}
