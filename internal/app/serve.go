package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/afrivac/internal/auth"
	"github.com/hitoshi/afrivac/internal/config"
	"github.com/hitoshi/afrivac/internal/database"
	"github.com/hitoshi/afrivac/internal/destination"
	"github.com/hitoshi/afrivac/internal/handler"
	"github.com/hitoshi/afrivac/internal/metrics"
	"github.com/hitoshi/afrivac/internal/middleware"
	"github.com/hitoshi/afrivac/internal/notify"
	"github.com/hitoshi/afrivac/internal/repository"
	"github.com/hitoshi/afrivac/internal/review"
	"github.com/hitoshi/afrivac/internal/security"
	"github.com/hitoshi/afrivac/internal/user"
)

// notificationTimeout は1通のメール送信に許す時間。
const notificationTimeout = 30 * time.Second

// server はAPIサーバーのHTTPハンドラーと、停止時に解放するリソースをまとめたもの。
type server struct {
	handler http.Handler
	closers []func()
}

// Close は確保したリソースを逆順に解放する。
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServer は全依存関係をワイヤリングし、ルーターを構築する。
func buildServer(cfg *config.Config, db *sql.DB) (*server, error) {
	srv := &server{}
	log := slog.Default()

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	destRepo := repository.NewPostgresDestinationRepo(db)
	reviewRepo := repository.NewPostgresReviewRepo(db)

	// 3. トークンとパスワード
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		AccessTTL: cfg.JWTExpiresIn,
	})
	if err != nil {
		return nil, err
	}
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	// 4. 通知（SMTP未設定の場合はログ出力）
	var sender notify.Notifier
	if cfg.MailEnabled() {
		sender = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			BaseURL:  cfg.BaseURL,
		})
	} else {
		log.Warn("SMTP_HOST is not set, notifications are written to the log")
		sender = notify.NewLogNotifier(log)
	}
	notifier := notify.NewAsyncNotifier(sender, notificationTimeout, log)
	srv.closers = append(srv.closers, notifier.Wait)

	// 5. OAuth stateストア
	var states auth.StateStore
	if cfg.RedisURL != "" {
		rdb, err := auth.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, func() { rdb.Close() })
		states = auth.NewRedisStateStore(rdb, cfg.OAuthStateTTL)
	} else {
		log.Warn("REDIS_URL is not set, OAuth state is kept in memory")
		states = auth.NewMemoryStateStore(cfg.OAuthStateTTL)
	}

	provider, err := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	if err != nil {
		return nil, err
	}

	// 6. ドメインサービスの初期化
	localAuth := auth.NewLocalService(userRepo, hasher, tokens, notifier, collector, auth.LocalConfig{
		OneTimeCodeTTL:       cfg.OneTimeCodeTTL,
		AllowUnverifiedLogin: cfg.AllowUnverifiedLogin,
	})
	federatedAuth := auth.NewFederatedService(provider, userRepo, tokens, states, collector)

	sanitizer := security.NewSanitizer()
	images := security.NewImageURLValidator(security.ImageURLConfig{
		Probe:   cfg.ImageURLProbe,
		Timeout: cfg.ImageURLTimeout,
	})

	userService := user.NewService(userRepo, sanitizer, images)
	destService := destination.NewService(destRepo, reviewRepo, sanitizer, images)
	reviewService := review.NewService(reviewRepo, destService, sanitizer)

	// 7. ルーターの構築
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitGeneral))
	srv.closers = append(srv.closers, rl.Stop)

	srv.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Collector:         collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,

		TokenVerifier: tokens,
		UserFinder:    userRepo,
		GuardConfig:   middleware.GuardConfig{RejectInactive: cfg.GuardRejectInactive},

		DB:             db,
		MetricsHandler: metrics.Handler(registry),

		LocalAuth:     localAuth,
		FederatedAuth: federatedAuth,
		AuthConfig: handler.AuthHandlerConfig{
			// stateクッキーはコールバックURLと同じスキームで扱う
			CookieSecure: strings.HasPrefix(cfg.GoogleRedirectURL, "https://"),
			StateMaxAge:  cfg.OAuthStateTTL,
		},

		UserService:        userService,
		DestinationService: destService,
		ReviewService:      reviewService,
	})

	return srv, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(db, 5*time.Second); err != nil {
		return err
	}

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	srv, err := buildServer(cfg, db)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.Close()

	// 3. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}
