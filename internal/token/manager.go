// Package token はプリンシパルごとのOAuthトークンの保存とリフレッシュを管理する。
// 同一プリンシパルに対するリフレッシュはプロセス内で直列化される。
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/jobsync/internal/auth"
	"github.com/hitoshi/jobsync/internal/metrics"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/repository"
)

const (
	// DefaultExpiryMargin はアクセストークンを期限切れ扱いにする安全マージンの既定値。
	DefaultExpiryMargin = 60 * time.Second
	// DefaultResourceTimeout はリソースサーバー呼び出し1回あたりのタイムアウトの既定値。
	DefaultResourceTimeout = 10 * time.Second
	// fallbackLifetime はexpires_inもExpiryも返されなかった場合の有効期間。
	fallbackLifetime = time.Hour
)

// Provider はリソースサーバーのトークンエンドポイント。
type Provider interface {
	Exchange(ctx context.Context, code string) (*auth.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
}

// Config はトークンマネージャの設定。
type Config struct {
	ExpiryMargin    time.Duration
	ResourceTimeout time.Duration
}

// Manager はトークンの交換・取得・リフレッシュ・切断を行う。
type Manager struct {
	repo     repository.TokenRepository
	provider Provider
	locks    *LockTable
	config   Config
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewManager はManagerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewManager(repo repository.TokenRepository, provider Provider, locks *LockTable, config Config, collector metrics.MetricsCollector) *Manager {
	if config.ExpiryMargin <= 0 {
		config.ExpiryMargin = DefaultExpiryMargin
	}
	if config.ResourceTimeout <= 0 {
		config.ResourceTimeout = DefaultResourceTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Manager{
		repo:     repo,
		provider: provider,
		locks:    locks,
		config:   config,
		metrics:  collector,
		now:      time.Now,
	}
}

// ExchangeCode は認可コードをトークンに交換して保存する。
// 失敗時は*model.TokenExchangeErrorを返す。リトライは行わない。
func (m *Manager) ExchangeCode(ctx context.Context, principalID, code string) (*model.TokenRecord, error) {
	exCtx, cancel := context.WithTimeout(ctx, m.config.ResourceTimeout)
	defer cancel()

	resp, err := m.provider.Exchange(exCtx, code)
	if err != nil {
		slog.Warn("authorization code exchange failed",
			slog.String("principal_id", principalID),
			slog.Int("status_code", auth.StatusCode(err)),
			slog.String("error", err.Error()),
		)
		return nil, &model.TokenExchangeError{StatusCode: auth.StatusCode(err), Err: err}
	}

	rec := m.newRecord(principalID, resp, "")

	// 進行中のリフレッシュが新しいトークンを上書きしないよう、書き込みはロック下で行う
	release, err := m.locks.Acquire(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("waiting for token lock: %w", model.ErrOperationTimeout)
	}
	defer release()

	if err := m.repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	slog.Info("job board account connected",
		slog.String("principal_id", principalID),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}

// GetValidToken は有効なアクセストークンを返す。期限切れ（マージン内を含む）の場合は1回だけリフレッシュする。
//
// 呼び出し元のctxがロック待ちやリフレッシュ中に終了した場合はmodel.ErrOperationTimeoutを返す。
// 進行中のリフレッシュはキャンセルされずに完了し、結果は次の呼び出し元のために保存される。
func (m *Manager) GetValidToken(ctx context.Context, principalID string) (string, error) {
	release, err := m.locks.Acquire(ctx, principalID)
	if err != nil {
		return "", fmt.Errorf("waiting for token lock: %w", model.ErrOperationTimeout)
	}

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)

	// クリティカルセクションはロックごと別ゴルーチンが所有する
	go func() {
		defer release()
		tok, err := m.validTokenLocked(context.WithoutCancel(ctx), principalID)
		done <- result{token: tok, err: err}
	}()

	select {
	case r := <-done:
		return r.token, r.err
	case <-ctx.Done():
		slog.Warn("caller gave up waiting for token",
			slog.String("principal_id", principalID),
		)
		return "", fmt.Errorf("waiting for token refresh: %w", model.ErrOperationTimeout)
	}
}

// validTokenLocked はロック保持中に呼ばれる。ストアを再読込してから判定する。
func (m *Manager) validTokenLocked(ctx context.Context, principalID string) (string, error) {
	findCtx, cancel := context.WithTimeout(ctx, m.config.ResourceTimeout)
	rec, err := m.repo.Find(findCtx, principalID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if rec == nil {
		return "", model.ErrTokenNotFound
	}

	if rec.IsValidAt(m.now(), m.config.ExpiryMargin) {
		return rec.AccessToken, nil
	}

	refreshed, err := m.refresh(ctx, rec)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// refresh はリソースサーバーでトークンをリフレッシュし、保存する。
// リフレッシュトークンが拒否された場合はレコードを削除する（DISCONNECTED）。
func (m *Manager) refresh(ctx context.Context, rec *model.TokenRecord) (*model.TokenRecord, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, m.config.ResourceTimeout)
	defer cancel()

	start := time.Now()
	resp, err := m.provider.Refresh(refreshCtx, rec.RefreshToken)
	elapsed := time.Since(start)

	if err != nil {
		refreshErr := &model.TokenRefreshError{
			PrincipalID: rec.PrincipalID,
			Rejected:    auth.IsRejected(err),
			StatusCode:  auth.StatusCode(err),
			Err:         err,
		}
		if !refreshErr.Rejected {
			m.metrics.RecordTokenRefresh(metrics.ResultFailure, elapsed)
			slog.Warn("token refresh failed",
				slog.String("principal_id", rec.PrincipalID),
				slog.String("error", err.Error()),
			)
			return nil, refreshErr
		}

		m.metrics.RecordTokenRefresh(metrics.ResultRejected, elapsed)
		slog.Warn("refresh token rejected, disconnecting principal",
			slog.String("principal_id", rec.PrincipalID),
			slog.Int("status_code", refreshErr.StatusCode),
		)
		if delErr := m.repo.Delete(ctx, rec.PrincipalID); delErr != nil {
			slog.Error("failed to delete rejected token",
				slog.String("principal_id", rec.PrincipalID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, refreshErr
	}

	next := m.newRecord(rec.PrincipalID, resp, rec.RefreshToken)
	if err := m.repo.Upsert(ctx, next); err != nil {
		m.metrics.RecordTokenRefresh(metrics.ResultFailure, elapsed)
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}

	m.metrics.RecordTokenRefresh(metrics.ResultSuccess, elapsed)
	slog.Info("token refreshed",
		slog.String("principal_id", rec.PrincipalID),
		slog.Duration("latency", elapsed),
		slog.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}

// Status はリフレッシュせずに接続状態を返す。
func (m *Manager) Status(ctx context.Context, principalID string) (*model.ConnectionStatus, error) {
	rec, err := m.repo.Find(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	status := &model.ConnectionStatus{PrincipalID: principalID}
	if rec == nil {
		return status, nil
	}

	expiresAt := rec.ExpiresAt
	status.Connected = true
	status.ExpiresAt = &expiresAt
	status.Expiring = !rec.IsValidAt(m.now(), m.config.ExpiryMargin)
	return status, nil
}

// Disconnect はプリンシパルのトークンを削除する。未接続の場合もエラーにしない。
func (m *Manager) Disconnect(ctx context.Context, principalID string) error {
	release, err := m.locks.Acquire(ctx, principalID)
	if err != nil {
		return fmt.Errorf("waiting for token lock: %w", model.ErrOperationTimeout)
	}
	defer release()

	if err := m.repo.Delete(ctx, principalID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	slog.Info("job board account disconnected", slog.String("principal_id", principalID))
	return nil
}

// newRecord はトークン応答からレコードを組み立てる。expires_atは書き込み時点の時刻から算出する。
func (m *Manager) newRecord(principalID string, resp *auth.TokenResponse, previousRefresh string) *model.TokenRecord {
	now := m.now()

	var expiresAt time.Time
	switch {
	case resp.ExpiresIn > 0:
		expiresAt = now.Add(resp.ExpiresIn)
	case !resp.Expiry.IsZero():
		expiresAt = resp.Expiry
	default:
		expiresAt = now.Add(fallbackLifetime)
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefresh
	}

	return &model.TokenRecord{
		PrincipalID:  principalID,
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		UpdatedAt:    now,
	}
}
