package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/digitalcoffee/internal/auth"
	"github.com/hitoshi/digitalcoffee/internal/catalog"
	"github.com/hitoshi/digitalcoffee/internal/config"
	"github.com/hitoshi/digitalcoffee/internal/database"
	"github.com/hitoshi/digitalcoffee/internal/handler"
	"github.com/hitoshi/digitalcoffee/internal/idp"
	"github.com/hitoshi/digitalcoffee/internal/logger"
	"github.com/hitoshi/digitalcoffee/internal/metrics"
	"github.com/hitoshi/digitalcoffee/internal/middleware"
	"github.com/hitoshi/digitalcoffee/internal/notify"
	"github.com/hitoshi/digitalcoffee/internal/profile"
	"github.com/hitoshi/digitalcoffee/internal/repository"
	"github.com/hitoshi/digitalcoffee/internal/security"
	"github.com/hitoshi/digitalcoffee/internal/session"
	"github.com/hitoshi/digitalcoffee/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定に従って構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	if err := logger.SetupDefault(w, logger.Options{Format: logger.FormatJSON}); err != nil {
		return nil, err
	}

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定された形式とレベルでロガーを作り直す
	if err := logger.SetupDefault(w, logger.Options{Format: cfg.LogFormat, Level: cfg.LogLevel}); err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	return cfg, nil
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newNotifier はSMTP設定に応じたNotifierを生成する。
// SMTP_HOSTが未設定の場合はメールを送らずログに記録する。
func newNotifier(cfg *config.Config, collector metrics.MetricsCollector) *notify.Notifier {
	var mailer notify.Mailer = notify.NopMailer{}
	from := cfg.SMTP.FromAddress
	if cfg.SMTP.Enabled() {
		smtpMailer := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			FromAddress: cfg.SMTP.FromAddress,
			FromName:    cfg.SMTP.FromName,
			ImplicitTLS: cfg.SMTP.Secure,
			Timeout:     cfg.SMTP.Timeout,
		})
		mailer = smtpMailer
		from = smtpMailer.From()
	} else {
		slog.Warn("SMTP_HOST is not set; emails will be logged instead of sent")
	}

	return notify.NewNotifier(mailer, notify.Branding{
		AppName: cfg.SMTP.FromName,
		SiteURL: cfg.BaseURL,
		From:    from,
	}, cfg.NotifyQueueSize, collector)
}

// newIdentityClient はSSRF対策済みクライアントでIdentity Toolkitクライアントを生成する。
func newIdentityClient(id config.Identity, requestURI string) *idp.Client {
	guard := security.NewOutboundGuard()
	httpClient := guard.NewSafeClient(id.Timeout)
	verifier := idp.NewTokenVerifier(id.ProjectID, id.CertsURL, httpClient)
	return idp.NewClient(idp.Config{
		APIKey:     id.APIKey,
		ProjectID:  id.ProjectID,
		BaseURL:    id.BaseURL,
		RequestURI: requestURI,
	}, httpClient, verifier)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	transactor := repository.NewPostgresTransactor(db)

	// 4. カタログ
	tracks, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load track catalog: %w", err)
	}

	// 5. メール通知（サーバープロセス内のキューで送信する）
	notifier := newNotifier(cfg, collector)
	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		notifier.Run(context.WithoutCancel(ctx))
	}()

	// 6. ドメインサービスの初期化
	identityClient := newIdentityClient(cfg.Identity, cfg.GoogleRedirectURL)
	profileService := profile.NewService(profileRepo, security.NewNameSanitizer(), notifier, collector)
	tracker := session.NewTracker(sessionRepo, profileRepo, transactor, profileService, collector)

	guard := security.NewOutboundGuard()
	exchanger := auth.NewTokenExchanger(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	}, guard.NewSafeClient(cfg.Identity.Timeout))
	pending := auth.NewPendingExchanges(cfg.PKCEMaxPending, cfg.PKCETTL)
	authService := auth.NewService(exchanger, pending, identityClient, cfg.GoogleRedirectURL)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSessionStart))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     identityClient,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),

		HealthChecker: handler.HealthCheckerFunc(func(ctx context.Context) error {
			return db.PingContext(ctx)
		}),

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},

		UserService:    profileService,
		SessionService: tracker,
		Catalog:        tracks,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		notifier.Close()
		<-notifierDone
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// キューに残ったメールを送り切る
	notifier.Close()
	select {
	case <-notifierDone:
	case <-shutdownCtx.Done():
		slog.Warn("notifier did not drain before shutdown", slog.Int("pending", notifier.Pending()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、放棄された再生セッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, slog.Default(), cfg.SessionRetention)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("session_retention", cfg.SessionRetention),
	)

	// メインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// MigrateDirection はマイグレーションの操作種別。
type MigrateDirection string

const (
	MigrateUp      MigrateDirection = "up"
	MigrateDown    MigrateDirection = "down"
	MigrateVersion MigrateDirection = "version"
)

// runMigrate はデータベースマイグレーションを実行する。
// upは未適用のマイグレーションをすべて適用し、downはsteps分だけ戻す。
func runMigrate(w io.Writer, databaseURL string, direction MigrateDirection, steps int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(databaseURL)),
		slog.String("direction", string(direction)),
	)

	switch direction {
	case MigrateUp:
		if err := database.RunMigrations(databaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case MigrateDown:
		if steps <= 0 {
			return fmt.Errorf("steps must be positive: %d", steps)
		}
		if err := database.RollbackMigrations(databaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(databaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction: %q", direction)
	}

	slog.Info("database migrations completed successfully")
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

// healthcheckPort はSERVER_PORTを返す。未設定の場合は8080。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
