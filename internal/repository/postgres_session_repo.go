package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobsync/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, resume_id, vacancy_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.OwnerID, session.ResumeID, session.VacancyID, session.CreatedAt, session.ExpiresAt,
	)
	return classify("create session", err)
}

// FindByID は指定IDのセッションを取得する。
// 期限切れの判定は呼び出し元で行うため、期限切れのセッションも返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	// UUIDとして解釈できないIDは存在しないものとして扱う
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	session := &model.Session{}
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, resume_id, vacancy_id, created_at, expires_at
		 FROM sessions
		 WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.OwnerID, &session.ResumeID, &session.VacancyID, &session.CreatedAt, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find session", err)
	}
	if expiresAt.Valid {
		session.ExpiresAt = &expiresAt.Time
	}

	return session, nil
}

// DeleteExpiredBefore はexpires_atがbeforeより前のセッションを削除する。
// 参照先のドキュメントは削除しない。
func (r *PostgresSessionRepo) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, classify("delete expired sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("get rows affected", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
