package model

import "time"

// Session は履歴書と求人のペアを束ねる短命なセッション。
// 下流の生成処理は生ドキュメントを再送信する代わりにセッションIDを参照する。
type Session struct {
	ID        string
	OwnerID   string
	ResumeID  string
	VacancyID string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// IsExpired は指定時刻においてセッションが期限切れかを返す。
// ExpiresAtが未設定の場合は期限切れにならない。
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// ResolvedSession はセッションと参照先ドキュメントを結合したもの。
type ResolvedSession struct {
	Session *Session
	Resume  *Document
	Vacancy *Document
}
