// Package cleanup は放棄された再生セッションの自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を超えて一度も終了していないセッションを定期的に削除する。
// 終了済みのセッションと統計値には触れない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AbandonedSessionDeleter は未終了セッションの削除インターフェース。
// repository.SessionRepositoryが満たす。
type AbandonedSessionDeleter interface {
	DeleteAbandonedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は放棄セッションの自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	sessions  AbandonedSessionDeleter
	logger    *slog.Logger
	Retention time.Duration // 未終了セッションの保持期間（デフォルト: 168h）
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合は7日を使用する。
func NewCleanupJob(sessions AbandonedSessionDeleter, logger *slog.Logger, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CleanupJob{
		sessions:  sessions,
		logger:    logger,
		Retention: retention,
		now:       time.Now,
	}
}

// Run は保持期間を超過した未終了セッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention)

	deleted, err := j.sessions.DeleteAbandonedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("放棄セッションのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("放棄セッションのクリーンアップに失敗: %w", err)
	}

	j.logger.Info("放棄セッションのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	// 失敗はRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
