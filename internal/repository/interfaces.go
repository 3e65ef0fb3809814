// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/jobsync/internal/model"
)

// StateRepository はOAuthハンドシェイクstateの永続化インターフェース。
type StateRepository interface {
	// Create はstateを作成する。
	Create(ctx context.Context, state *model.HandshakeState) error

	// Claim はstate行をSELECT ... FOR UPDATEでロックし、期限内かつ未消費であれば
	// 同一トランザクション内でconsumed=trueに更新する。
	// 戻り値は更新前の行。見つからない場合はnilを返す。
	Claim(ctx context.Context, stateID string, now time.Time) (*model.HandshakeState, error)

	// DeleteExpiredBefore はexpires_atがbeforeより前のstateを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// TokenRepository はプリンシパルごとのトークンの永続化インターフェース。
type TokenRepository interface {
	// Find は指定プリンシパルのトークンを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, principalID string) (*model.TokenRecord, error)

	// Upsert はprincipal_idをキーにトークンを冪等に書き込む。
	Upsert(ctx context.Context, record *model.TokenRecord) error

	// Delete は指定プリンシパルのトークンを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, principalID string) error
}

// DocumentRepository は種別ごとのドキュメントテーブルの永続化インターフェース。
type DocumentRepository interface {
	// Insert はドキュメントを作成する。
	// (owner_id, source_hash)が既に存在する場合はErrDuplicateを返す。
	Insert(ctx context.Context, doc *model.Document) error

	// FindBySourceHash は所有者とハッシュでドキュメントを検索する。見つからない場合はnilを返す。
	FindBySourceHash(ctx context.Context, kind model.DocumentKind, ownerID, sourceHash string) (*model.Document, error)

	// FindByID は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error)
}

// SessionRepository はドキュメントペアのセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。期限切れでも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteExpiredBefore はexpires_atがbeforeより前のセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}
