package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/afrivac/internal/metrics"
	"github.com/hitoshi/afrivac/internal/middleware"
	"github.com/hitoshi/afrivac/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Collector         metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// アクセスガード
	TokenVerifier middleware.TokenVerifier
	UserFinder    middleware.UserFinder
	GuardConfig   middleware.GuardConfig

	// 運用
	DB             Pinger
	MetricsHandler http.Handler

	// 認証
	LocalAuth     LocalAuthService
	FederatedAuth FederatedAuthService
	AuthConfig    AuthHandlerConfig

	// ドメイン
	UserService        UserService
	DestinationService DestinationService
	ReviewService      ReviewService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//
// 認証ルート（/auth/*）はIP単位、ガード配下のルートはユーザー単位でレート制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.LocalAuth, deps.FederatedAuth, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	destHandler := NewDestinationHandler(deps.DestinationService)
	reviewHandler := NewReviewHandler(deps.ReviewService)

	guard := middleware.NewAccessGuard(deps.TokenVerifier, deps.UserFinder, deps.GuardConfig, deps.Collector)
	adminOnly := middleware.RequireRole(model.RoleAdmin, deps.Collector)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/confirm", authHandler.Confirm)
		r.Post("/resend", authHandler.Resend)
		r.Post("/password/forgot", authHandler.ForgotPassword)
		r.Post("/password/reset", authHandler.ResetPassword)
		r.Post("/refresh", authHandler.Refresh)

		// OAuthフロー
		r.Get("/google", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)

		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Post("/logout", authHandler.Logout)
			r.Post("/google/revoke", authHandler.GoogleRevoke)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Guard → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(guard)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", userHandler.Me)
			r.Put("/", userHandler.UpdateMe)
			r.Delete("/", userHandler.DeleteMe)
		})

		r.With(adminOnly).Get("/admin/users", userHandler.ListUsers)

		r.Route("/destinations", func(r chi.Router) {
			r.Get("/", destHandler.List)
			r.With(adminOnly).Post("/", destHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", destHandler.Get)
				r.Get("/reviews", reviewHandler.List)
				r.Post("/reviews", reviewHandler.Create)
			})
		})
	})

	return r
}
