package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobsync/internal/metrics"
	"github.com/hitoshi/jobsync/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はDB接続の疎通確認を行う。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証・接続
	Handshake    HandshakeService
	Tokens       TokenService
	AuthProvider AuthURLBuilder
	AuthConfig   AuthHandlerConfig

	// ドキュメント
	Documents      DocumentService
	ResumeParser   ResumeParser
	Vacancies      VacancyService
	Importer       VacancyImporter
	DocumentConfig DocumentHandlerConfig

	// セッション
	Sessions      SessionService
	SessionConfig SessionHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Principal → RateLimit(General) [→ RateLimit(Upload)]
//
// OAuthコールバックはstateからプリンシパルを復元するため、Principalミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Handshake, deps.Tokens, deps.AuthProvider, deps.AuthConfig)
	connHandler := NewConnectionHandler(deps.Tokens)
	docHandler := NewDocumentHandler(deps.Documents, deps.ResumeParser, deps.Vacancies, deps.Importer, deps.DocumentConfig)
	sessionHandler := NewSessionHandler(deps.Sessions, deps.SessionConfig)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/auth/jobboard/callback", authHandler.Callback)

	// --- プリンシパルが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPrincipalMiddleware())

		r.Get("/auth/jobboard/login", authHandler.Login)

		r.Route("/api", func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// ジョブボード接続
			r.Get("/connection", connHandler.Status)
			r.Delete("/connection", connHandler.Disconnect)

			// 履歴書（アップロードは専用レート制限を追加）
			r.Route("/resumes", func(r chi.Router) {
				r.With(deps.RateLimiter.UploadMiddleware()).Post("/", docHandler.UploadResume)
				r.Get("/{id}", docHandler.GetResume)
			})

			// 求人
			r.Route("/vacancies", func(r chi.Router) {
				r.With(deps.RateLimiter.UploadMiddleware()).Post("/", docHandler.SubmitVacancy)
				r.With(deps.RateLimiter.UploadMiddleware()).Post("/import", docHandler.ImportVacancies)
				r.Get("/{id}", docHandler.GetVacancy)
			})

			// セッション
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.CreateSession)
				r.Get("/{id}", sessionHandler.GetSession)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認して200または503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
