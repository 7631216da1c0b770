package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/lostfound/internal/auth"
	"github.com/hitoshi/lostfound/internal/config"
	"github.com/hitoshi/lostfound/internal/database"
	"github.com/hitoshi/lostfound/internal/geocode"
	"github.com/hitoshi/lostfound/internal/handler"
	"github.com/hitoshi/lostfound/internal/livefeed"
	"github.com/hitoshi/lostfound/internal/logger"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/report"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
	"github.com/hitoshi/lostfound/internal/storage"
	"github.com/hitoshi/lostfound/internal/user"
	"github.com/hitoshi/lostfound/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// GEOCODE_URLは設定で差し替えられるため、外部へ接続する前に検証する
	ssrfGuard := security.NewSSRFGuard()
	if err := ssrfGuard.ValidateEndpoint(cfg.GeocodeURL); err != nil {
		return fmt.Errorf("invalid GEOCODE_URL: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続（ユーザー・セッションは常にPostgreSQL）
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	reportRepo, watcher, closeStore, err := openDocumentStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. 外部サービスの初期化
	blobStore, closeBlob, err := storage.NewGCSStore(ctx, storage.Config{
		Bucket:   cfg.GCSBucket,
		Endpoint: cfg.GCSEndpoint,
		MaxBytes: cfg.UploadMaxBytes,
	}, collector, logger.Component(slog.Default(), "storage"))
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	defer closeBlob()

	// 接続時にも名前解決後のIPを検査する
	geocoder := geocode.NewClient(
		ssrfGuard.NewSafeClient(cfg.GeocodeTimeout),
		cfg.GeocodeURL,
		collector,
		logger.Component(slog.Default(), "geocode"),
	)

	// 5. ドメインサービスの初期化
	reportService := report.NewService(
		reportRepo,
		security.NewTextSanitizer(),
		report.EditPolicy{AllowAnonymousOwnedEdits: cfg.AllowAnonymousOwnedEdits},
		collector,
		logger.Component(slog.Default(), "report"),
	)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	userService := user.NewService(userRepo, sessionRepo, reportRepo, logger.Component(slog.Default(), "user"))

	// 6. ライブフィード（Runはサーバー起動時に開始する）
	feedLogger := logger.Component(slog.Default(), "livefeed")
	hub := livefeed.NewHub(reportService, watcher, cfg.FeedSendBuffer, collector, feedLogger)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitReportCreate),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		SecurityHeaders:   middleware.SecurityHeadersConfig{HSTS: cfg.CookieSecure},
		RateLimiter:       rateLimiter,

		HealthChecker: db,
		Metrics:       collector,
		Gatherer:      registry,

		AuthService: authService,
		StateIssuer: auth.NewStateSigner(cfg.SessionSecret, auth.DefaultStateTTL),
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ReportService: reportService,
		UserFinder:    userRepo,
		UserService:   userService,
		LiveFeed:      livefeed.NewWebSocketHandler(hub, cfg.CORSAllowedOrigin, feedLogger),

		BlobStore: blobStore,
		Geocoder:  geocoder,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// WebSocket接続はハンドラー側でメッセージごとに書き込み期限を設定する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("API server starting",
		slog.String("addr", server.Addr),
		slog.String("document_store", cfg.DocumentStore),
	)
	return serveUntilDone(ctx, server, hub.Run)
}

// serveUntilDone はserverとライブフィードを起動し、ctxの終了まで待ってからシャットダウンする。
// フィードが停止すると購読者にスナップショットが届かなくなるため、その場合もエラーで終了する。
func serveUntilDone(ctx context.Context, server *http.Server, runFeed func(context.Context) error) error {
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	errCh := make(chan error, 2)
	go func() {
		if err := runFeed(feedCtx); err != nil {
			errCh <- fmt.Errorf("live feed stopped: %w", err)
		}
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server listen error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down API server...")
	case runErr = <-errCh:
		slog.Error("API server stopping", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openDocumentStore はDOCUMENT_STOREに応じてレポートのリポジトリと変更監視を生成する。
func openDocumentStore(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.ReportRepository, repository.ReportWatcher, func(), error) {
	storeLogger := logger.Component(slog.Default(), "document_store")

	switch cfg.DocumentStore {
	case config.DocumentStoreMongo:
		client, mdb, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open mongodb %s: %w", database.RedactURI(cfg.MongoURI), err)
		}
		col := mdb.Collection(database.MongoReportCollection)
		closeFn := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				slog.Warn("failed to disconnect mongodb", slog.String("error", err.Error()))
			}
		}
		slog.Info("mongodb connection established", slog.String("database", cfg.MongoDatabase))
		return repository.NewMongoReportRepo(col), repository.NewMongoReportWatcher(col, storeLogger), closeFn, nil
	default:
		return repository.NewPostgresReportRepo(db),
			repository.NewPostgresReportWatcher(cfg.DatabaseURL, storeLogger),
			func() {}, nil
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップをcron式で定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, logger.Component(slog.Default(), "cleanup"))
	if err := cleanupJob.Schedule(ctx, cfg.CleanupSchedule); err != nil {
		return fmt.Errorf("cleanup scheduler failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.RedactURI(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
