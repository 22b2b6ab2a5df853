package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/afrivac/internal/config"
	"github.com/hitoshi/afrivac/internal/database"
	"github.com/hitoshi/afrivac/internal/repository"
	"github.com/hitoshi/afrivac/internal/worker/cleanup"
)

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れワンタイムコードのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続（ワーカーは同時接続が少ない）
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(db, 5*time.Second); err != nil {
		return err
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	job := cleanup.NewCleanupJob(userRepo, nil, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("code_cleanup_interval", cfg.CodeCleanupInterval),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CodeCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}
