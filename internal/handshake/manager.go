// Package handshake はOAuth認可コードフローの1回限りのstateを管理する。
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/jobsync/internal/metrics"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/repository"
)

// DefaultTTL はstateの既定の有効期間。
const DefaultTTL = 600 * time.Second

const stateBytes = 32

// Config はハンドシェイクマネージャの設定。
type Config struct {
	TTL time.Duration
}

// Manager はstateの発行と消費を行う。
type Manager struct {
	repo    repository.StateRepository
	ttl     time.Duration
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewManager はManagerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewManager(repo repository.StateRepository, cfg Config, collector metrics.MetricsCollector) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Manager{
		repo:    repo,
		ttl:     ttl,
		metrics: collector,
		now:     time.Now,
	}
}

// Create はprincipalIDに紐づくstateを発行し、認可URLに埋め込むstate_idを返す。
// redirectToは同一オリジンの相対パスのみ保持し、それ以外は"/"に置き換える。
func (m *Manager) Create(ctx context.Context, principalID, redirectTo string) (string, error) {
	if principalID == "" {
		return "", fmt.Errorf("principal ID is required")
	}

	stateID, err := generateStateID()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	now := m.now()
	state := &model.HandshakeState{
		StateID:     stateID,
		PrincipalID: principalID,
		RedirectTo:  NormalizeRedirect(redirectTo),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.repo.Create(ctx, state); err != nil {
		return "", fmt.Errorf("failed to save handshake state: %w", err)
	}

	return stateID, nil
}

// Consume はstateを消費し、発行時のプリンシパルとリダイレクト先を返す。
// 同じstate_idで成功するのは1回だけ。期限切れは消費済みより優先して報告する。
func (m *Manager) Consume(ctx context.Context, stateID string) (*model.HandshakeResult, error) {
	if stateID == "" {
		m.metrics.RecordHandshakeConsume(metrics.ResultNotFound)
		return nil, model.ErrStateNotFound
	}

	now := m.now()
	state, err := m.repo.Claim(ctx, stateID, now)
	if err != nil {
		m.metrics.RecordHandshakeConsume(metrics.ResultFailure)
		return nil, fmt.Errorf("failed to claim handshake state: %w", err)
	}

	switch {
	case state == nil:
		m.metrics.RecordHandshakeConsume(metrics.ResultNotFound)
		return nil, model.ErrStateNotFound
	case state.IsExpired(now):
		m.metrics.RecordHandshakeConsume(metrics.ResultExpired)
		return nil, model.ErrStateExpired
	case state.Consumed:
		m.metrics.RecordHandshakeConsume(metrics.ResultConsumed)
		slog.Warn("handshake state replayed",
			slog.String("principal_id", state.PrincipalID),
		)
		return nil, model.ErrStateAlreadyConsumed
	}

	m.metrics.RecordHandshakeConsume(metrics.ResultSuccess)
	return &model.HandshakeResult{
		PrincipalID: state.PrincipalID,
		RedirectTo:  state.RedirectTo,
	}, nil
}

// NormalizeRedirect はリダイレクト先を同一オリジンの相対パスに制限する。
// スキーム・ホスト付きのURLやプロトコル相対URL（//host）は"/"になる。
func NormalizeRedirect(redirectTo string) string {
	if redirectTo == "" || !strings.HasPrefix(redirectTo, "/") {
		return "/"
	}
	if strings.HasPrefix(redirectTo, "//") || strings.HasPrefix(redirectTo, "/\\") {
		return "/"
	}
	u, err := url.Parse(redirectTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return redirectTo
}

// generateStateID は暗号的に安全なstate_idを生成する。
func generateStateID() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
