package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/digitalcoffee/internal/metrics"
	"github.com/hitoshi/digitalcoffee/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilなら/metricsを公開しない

	// ヘルスチェック
	HealthChecker HealthChecker

	// Googleログイン（nilならルートを登録しない）
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロフィール
	UserService UserServiceInterface

	// 再生セッション
	SessionService SessionServiceInterface

	// トラック
	Catalog TrackCatalog
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → StatusMetrics → SecurityHeaders → CORS
//	  /api/users/*:    Auth → RateLimit(General)
//	  /api/sessions/*: Auth → RateLimit(General) → VerifiedIdentity (→ RateLimit(SessionStart))
//
// ヘルスチェック、メトリクス、Googleログイン、トラック一覧は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	// CORS ミドルウェアは全ルートに効かせる
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	trackHandler := NewTrackHandler(deps.Catalog)
	userHandler := NewUserHandler(deps.UserService)
	sessionHandler := NewSessionHandler(deps.SessionService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/audio/tracks", trackHandler.List)

	if deps.AuthService != nil {
		authHandler := NewAuthHandler(deps.AuthService, deps.UserService, deps.AuthConfig)
		r.Route("/auth/google", func(r chi.Router) {
			r.Get("/login", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
		})
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロフィール
		r.Route("/api/users", func(r chi.Router) {
			r.Post("/register", userHandler.Register)
			r.Post("/social-auth", userHandler.SocialAuth)
			r.Get("/profile", userHandler.Profile)
		})

		// 再生セッション（メール確認済みのIdentityのみ）
		r.Route("/api/sessions", func(r chi.Router) {
			r.Use(middleware.NewVerifiedIdentityMiddleware())

			r.Get("/", sessionHandler.List)
			r.With(deps.RateLimiter.SessionStartMiddleware()).Post("/start", sessionHandler.Start)
			r.Post("/{sessionId}/end", sessionHandler.End)
		})
	})

	return r
}
