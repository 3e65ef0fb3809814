package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/jobsync/internal/model"
)

// PostgresStateRepo はPostgreSQLを使用したハンドシェイクstateリポジトリ。
type PostgresStateRepo struct {
	db *sql.DB
}

// NewPostgresStateRepo はPostgresStateRepoを生成する。
func NewPostgresStateRepo(db *sql.DB) *PostgresStateRepo {
	return &PostgresStateRepo{db: db}
}

// Create はstateを作成する。
func (r *PostgresStateRepo) Create(ctx context.Context, state *model.HandshakeState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_state (state_id, principal_id, redirect_to, created_at, expires_at, consumed)
		 VALUES ($1, $2, $3, $4, $5, FALSE)`,
		state.StateID, state.PrincipalID, state.RedirectTo, state.CreatedAt, state.ExpiresAt,
	)
	return classify("create oauth state", err)
}

// Claim はstate行をロックして読み出し、期限内かつ未消費であれば消費済みにする。
// 戻り値は更新前の行で、呼び出し元はConsumed/ExpiresAtから失敗理由を判定する。
func (r *PostgresStateRepo) Claim(ctx context.Context, stateID string, now time.Time) (*model.HandshakeState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin transaction", err)
	}
	defer tx.Rollback()

	state := &model.HandshakeState{}
	var consumedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT state_id, principal_id, redirect_to, created_at, expires_at, consumed, consumed_at
		 FROM oauth_state
		 WHERE state_id = $1
		 FOR UPDATE`,
		stateID,
	).Scan(&state.StateID, &state.PrincipalID, &state.RedirectTo, &state.CreatedAt,
		&state.ExpiresAt, &state.Consumed, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find oauth state", err)
	}
	if consumedAt.Valid {
		state.ConsumedAt = &consumedAt.Time
	}

	// 期限切れ・消費済みの行は変更しない
	if state.Consumed || state.IsExpired(now) {
		return state, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE oauth_state SET consumed = TRUE, consumed_at = $2 WHERE state_id = $1`,
		stateID, now,
	); err != nil {
		return nil, classify("consume oauth state", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit transaction", err)
	}

	return state, nil
}

// DeleteExpiredBefore はexpires_atがbeforeより前のstateを削除する。
// 消費済みの行も監査用にこの時点まで保持される。
func (r *PostgresStateRepo) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_state WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, classify("delete expired oauth states", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("get rows affected", err)
	}
	return n, nil
}

// compile-time interface check
var _ StateRepository = (*PostgresStateRepo)(nil)
