package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
// パスワード認証はCSRFトークンの検証を必須とする。
func SetupAuthRoutes(h *AuthHandler, csrf middleware.CSRFConfig) chi.Router {
	r := chi.NewRouter()

	// OAuthフロー
	r.Get("/google/login", h.Login)
	r.Get("/google/callback", h.Callback)

	// メールアドレス・パスワード認証
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrf))
		r.Post("/password/signup", h.SignUp)
		r.Post("/password/signin", h.SignIn)
	})

	// セッション管理
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)

	return r
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	SecurityHeaders   middleware.SecurityHeadersConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer // nilの場合 /metrics を公開しない

	// 認証
	AuthService AuthServiceInterface
	StateIssuer StateIssuer
	AuthConfig  AuthHandlerConfig

	// レポート
	ReportService ReportServiceInterface
	UserFinder    UserFinder
	UserService   UserServiceInterface // nilの場合 DELETE /api/users/me を公開しない
	LiveFeed      http.Handler

	// 画像・地名検索
	BlobStore BlobStore
	Geocoder  GeocodeSearcher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → StatusMetrics → SecurityHeaders → CORS → RealIP
//	公開API:   OptionalSession → RateLimit(General)
//	認証必須:  Session → CSRF → RateLimit(General)
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
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityHeaders))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.RealIP)

	authHandler := NewAuthHandler(deps.AuthService, deps.StateIssuer, deps.AuthConfig)
	reportHandler := NewReportHandler(deps.ReportService, deps.UserFinder)
	feedHandler := NewFeedHandler(deps.ReportService, deps.AuthConfig.BaseURL)
	healthHandler := NewHealthHandler(deps.HealthChecker)
	geocodeHandler := NewGeocodeHandler(deps.Geocoder)
	uploadHandler := NewUploadHandler(deps.BlobStore)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.SetupMetricsRoute(deps.Gatherer))
	}
	r.Mount("/auth", SetupAuthRoutes(authHandler, deps.CSRFConfig))
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 公開API（ログイン中ならユーザー単位、未ログインならIP単位でレート制限）
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/reports", reportHandler.ListReports)
		r.Get("/api/reports.rss", feedHandler.RSS)
		r.Get("/api/reports/heatmap", reportHandler.Heatmap)
		r.Get("/api/reports/{id}", reportHandler.GetReport)
		if deps.LiveFeed != nil {
			r.Method(http.MethodGet, "/api/reports/feed", deps.LiveFeed)
		}
		r.Get("/api/geocode", geocodeHandler.Search)
		r.Get("/api/uploads/url", uploadHandler.RetrievalURL)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// POST /api/reports はレポート作成専用のレート制限を追加
		r.With(deps.RateLimiter.ReportCreateMiddleware()).Post("/api/reports", reportHandler.CreateReport)
		r.Patch("/api/reports/{id}", reportHandler.UpdateReport)
		r.Post("/api/uploads", uploadHandler.Upload)
		if deps.UserService != nil {
			r.Delete("/api/users/me", NewUserHandler(deps.UserService, deps.AuthConfig).Withdraw)
		}
	})

	return r
}
