package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/anpi/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CronSecret      string
	DemoSecret      string
	TriggerRecorder middleware.TriggerRecorder
	RateLimiter     *middleware.RateLimiter

	// ハンドラー依存
	Pipeline       PipelineRunner
	Watchdog       WatchdogChecker
	Responses      ResponseRecorder
	WorkflowSecret string
	Incidents      IncidentService
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → (ルートごとの認証・レート制限)
//
// 定期実行トリガーは共有シークレットまたはVercel Cronの証跡で認証する。
// 訓練・デモの操作は DEMO_SECRET で保護し、外部から直接呼ばれるルートにはレート制限をかける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	cronHandler := NewCronHandler(deps.Pipeline, deps.Watchdog, deps.Logger)
	slackHandler := NewSlackHandler(deps.Responses, deps.WorkflowSecret, deps.Logger)
	incidentHandler := NewIncidentHandler(deps.Incidents, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 定期実行トリガー ---
	r.Route("/api/cron", func(r chi.Router) {
		r.Use(middleware.NewCronAuthMiddleware(deps.CronSecret, deps.TriggerRecorder))
		r.Get("/jma", cronHandler.RunPipeline)
		r.Get("/watchdog", cronHandler.CheckWatchdog)
	})

	// --- 外部から直接呼ばれるルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Post("/api/slack/responses", slackHandler.Receive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSecretGuardMiddleware(deps.DemoSecret, "x-demo-secret", "secret"))

			r.Post("/api/admin/drills", incidentHandler.StartDrill)
			r.Route("/api/demo/incidents", func(r chi.Router) {
				r.Post("/start", incidentHandler.StartDemo)
				r.Post("/close", incidentHandler.Close)
				r.Get("/test-matching", incidentHandler.TestMatching)
			})
		})
	})

	return r
}
