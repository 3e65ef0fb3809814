// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 消費済み・期限切れのOAuth stateは監査のため保持期間が過ぎるまで残し、
// 期限切れセッションは即時削除する。ドキュメントは削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/jobsync/internal/metrics"
)

// DefaultStateRetention はOAuth stateを期限切れ後に保持する既定の期間。
const DefaultStateRetention = 24 * time.Hour

// クリーンアップ対象のメトリクスラベル。
const (
	TargetOAuthState = "oauth_state"
	TargetSessions   = "sessions"
)

// ExpiredDeleter は指定時刻より前に期限切れとなった行を削除する。
// repository.StateRepositoryとrepository.SessionRepositoryが実装する。
type ExpiredDeleter interface {
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れのstateとセッションを削除するジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	states         ExpiredDeleter
	sessions       ExpiredDeleter
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	StateRetention time.Duration
	now            func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewCleanupJob(states, sessions ExpiredDeleter, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		states:         states,
		sessions:       sessions,
		logger:         logger,
		metrics:        collector,
		StateRetention: DefaultStateRetention,
		now:            time.Now,
	}
}

// Run は1回分のクリーンアップを実行する。
// stateの削除に失敗してもセッションの削除は試み、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var firstErr error

	stateCutoff := now.Add(-j.StateRetention)
	deletedStates, err := j.states.DeleteExpiredBefore(ctx, stateCutoff)
	if err != nil {
		j.logger.Error("failed to delete expired handshake states",
			slog.String("error", err.Error()),
			slog.Time("cutoff", stateCutoff),
		)
		firstErr = fmt.Errorf("failed to delete expired handshake states: %w", err)
	} else {
		j.metrics.RecordCleanupDeleted(TargetOAuthState, deletedStates)
	}

	deletedSessions, err := j.sessions.DeleteExpiredBefore(ctx, now)
	if err != nil {
		j.logger.Error("failed to delete expired sessions",
			slog.String("error", err.Error()),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to delete expired sessions: %w", err)
		}
	} else {
		j.metrics.RecordCleanupDeleted(TargetSessions, deletedSessions)
	}

	if firstErr != nil {
		return firstErr
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_states", deletedStates),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Duration("state_retention", j.StateRetention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。ctxが終了するまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
