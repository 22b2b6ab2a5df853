// Package cleanup は期限切れワンタイムコードの定期クリアジョブを提供する。
// 期限切れのコードは検証時にも拒否されるが、ハッシュを残さないよう定期的に枠を空にする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/afrivac/internal/metrics"
)

// CodeClearer は期限切れコードのクリアを抽象化するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type CodeClearer interface {
	ClearExpiredOneTimeCodes(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れワンタイムコードのクリアジョブ。
// 何度実行しても結果が変わらない冪等な処理。
type CleanupJob struct {
	users   CodeClearer
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(users CodeClearer, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		users:   users,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Run は現在時刻より前に期限が切れたコードをクリアする。
// 対象がない場合もエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cleared, err := j.users.ClearExpiredOneTimeCodes(ctx, j.now())
	if err != nil {
		j.logger.Error("one-time code cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clear expired one-time codes: %w", err)
	}

	j.metrics.RecordCodesCleared(cleared)
	j.logger.Info("one-time code cleanup completed",
		slog.Int64("cleared_count", cleared),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。失敗は記録して次の周期を待つ。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup scheduler started", slog.Duration("interval", interval))

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup scheduler stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
