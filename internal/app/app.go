package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/jobsync/internal/auth"
	"github.com/hitoshi/jobsync/internal/config"
	"github.com/hitoshi/jobsync/internal/database"
	"github.com/hitoshi/jobsync/internal/document"
	"github.com/hitoshi/jobsync/internal/handler"
	"github.com/hitoshi/jobsync/internal/handshake"
	"github.com/hitoshi/jobsync/internal/logger"
	"github.com/hitoshi/jobsync/internal/metrics"
	"github.com/hitoshi/jobsync/internal/middleware"
	"github.com/hitoshi/jobsync/internal/repository"
	"github.com/hitoshi/jobsync/internal/resume"
	"github.com/hitoshi/jobsync/internal/security"
	"github.com/hitoshi/jobsync/internal/session"
	"github.com/hitoshi/jobsync/internal/token"
	"github.com/hitoshi/jobsync/internal/vacancy"
	"github.com/hitoshi/jobsync/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envがあれば読み込む（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再構成する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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

// openDatabase はDB接続を開き、プールを設定して疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.ConfigurePool(db, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ResourceTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newMetrics はプロセス・ランタイムのメトリクスを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouterDeps は全依存関係をワイヤリングしてRouterDepsを構築する。
// 返されるcloseはバックグラウンドのgoroutine（ロック掃除・レート制限の掃除）を停止する。
func buildRouterDeps(cfg *config.Config, db *sql.DB) (*handler.RouterDeps, func(), error) {
	apiURL, err := url.Parse(cfg.JobBoardAPIURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid job board API URL: %w", err)
	}

	reg, collector := newMetrics()

	// 1. リポジトリの初期化
	stateRepo := repository.NewPostgresStateRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	documentRepo := repository.NewPostgresDocumentRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 2. 認可・トークン管理
	provider := auth.NewJobBoardProvider(auth.JobBoardConfig{
		ClientID:     cfg.JobBoardClientID,
		ClientSecret: cfg.JobBoardClientSecret,
		RedirectURL:  cfg.JobBoardRedirectURL,
		AuthURL:      cfg.JobBoardAuthURL,
		TokenURL:     cfg.JobBoardTokenURL,
		Timeout:      cfg.ResourceTimeout,
	})
	handshakeManager := handshake.NewManager(stateRepo, handshake.Config{TTL: cfg.HandshakeTTL}, collector)
	locks := token.NewLockTable(cfg.LockIdleTTL)
	metrics.RegisterLockTableSize(reg, locks.Len)
	tokenManager := token.NewManager(tokenRepo, provider, locks, token.Config{
		ExpiryMargin:    cfg.TokenExpiryMargin,
		ResourceTimeout: cfg.ResourceTimeout,
	}, collector)

	// 3. ドキュメントキャッシュとセッション
	cache := document.NewCache(documentRepo, document.Config{ParseTimeout: cfg.ParseTimeout}, collector)
	registry := session.NewRegistry(sessionRepo, cache)

	// 4. 外部リソースの取得
	apiGuard := security.NewURLGuard(apiURL.Hostname())
	fetcher := vacancy.NewFetcher(
		apiGuard.Client(cfg.ResourceTimeout),
		tokenManager,
		security.NewHTMLSanitizer(),
		cfg.JobBoardAPIURL,
		cfg.FetchMaxSize,
		slog.Default(),
	)
	vacancyService := vacancy.NewService(cache, fetcher)
	importer := vacancy.NewFeedImporter(
		security.NewURLGuard(cfg.FeedAllowedHosts...),
		vacancyService,
		vacancy.ImporterConfig{Timeout: cfg.ResourceTimeout, MaxBodySize: cfg.FetchMaxSize},
		slog.Default(),
	)
	parser := resume.NewHTTPParser(&http.Client{Timeout: cfg.ParseTimeout}, cfg.ResumeParserURL, slog.Default())

	// 5. レート制限
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral, cfg.RateLimitUpload))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		Handshake:    handshakeManager,
		Tokens:       tokenManager,
		AuthProvider: provider,
		AuthConfig:   handler.AuthHandlerConfig{BaseURL: cfg.BaseURL},

		Documents:      cache,
		ResumeParser:   parser,
		Vacancies:      vacancyService,
		Importer:       importer,
		DocumentConfig: handler.DocumentHandlerConfig{UploadMaxSize: cfg.UploadMaxSize},

		Sessions:      registry,
		SessionConfig: handler.SessionHandlerConfig{DefaultTTL: cfg.SessionTTL},
	}

	closeFn := func() {
		rateLimiter.Stop()
		locks.Stop()
	}
	return deps, closeFn, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	deps, closeDeps, err := buildRouterDeps(cfg, db)
	if err != nil {
		return err
	}
	defer closeDeps()

	router := handler.NewRouter(deps)

	// アップロード時の外部パースを待てるようWriteTimeoutはParseTimeoutより長くする
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.ParseTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのOAuth stateとセッションを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg, collector := newMetrics()

	job := cleanup.NewCleanupJob(
		repository.NewPostgresStateRepo(db),
		repository.NewPostgresSessionRepo(db),
		slog.Default(),
		collector,
	)
	job.StateRetention = cfg.StateRetention

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("state_retention", cfg.StateRetention),
	)

	// ワーカーは/metricsのみ公開する
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
