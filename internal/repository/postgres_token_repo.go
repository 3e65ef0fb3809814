package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/jobsync/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Find は指定プリンシパルのトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) Find(ctx context.Context, principalID string) (*model.TokenRecord, error) {
	rec := &model.TokenRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT principal_id, access_token, refresh_token, expires_at, updated_at
		 FROM tokens
		 WHERE principal_id = $1`,
		principalID,
	).Scan(&rec.PrincipalID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find token", err)
	}

	return rec, nil
}

// Upsert はprincipal_idをキーにトークンを書き込む。既存レコードは上書きされる。
func (r *PostgresTokenRepo) Upsert(ctx context.Context, record *model.TokenRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (principal_id, access_token, refresh_token, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (principal_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		record.PrincipalID, record.AccessToken, record.RefreshToken, record.ExpiresAt, record.UpdatedAt,
	)
	return classify("upsert token", err)
}

// Delete は指定プリンシパルのトークンを削除する。
func (r *PostgresTokenRepo) Delete(ctx context.Context, principalID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE principal_id = $1`,
		principalID,
	)
	return classify("delete token", err)
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
