package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/anpi/internal/config"
	"github.com/hitoshi/anpi/internal/database"
	"github.com/hitoshi/anpi/internal/entry"
	"github.com/hitoshi/anpi/internal/events"
	"github.com/hitoshi/anpi/internal/handler"
	"github.com/hitoshi/anpi/internal/incident"
	"github.com/hitoshi/anpi/internal/jma"
	"github.com/hitoshi/anpi/internal/lock"
	"github.com/hitoshi/anpi/internal/logger"
	"github.com/hitoshi/anpi/internal/metrics"
	"github.com/hitoshi/anpi/internal/middleware"
	"github.com/hitoshi/anpi/internal/notify"
	"github.com/hitoshi/anpi/internal/pipeline"
	"github.com/hitoshi/anpi/internal/repository"
	"github.com/hitoshi/anpi/internal/response"
	"github.com/hitoshi/anpi/internal/security"
	"github.com/hitoshi/anpi/internal/watchdog"
	"github.com/hitoshi/anpi/internal/worker/cleanup"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

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
		slog.Bool("demo_mode", cfg.DemoMode),
	)

	switch cmd {
	case CommandPoll:
		return runPoll(cfg)
	case CommandWatchdog:
		return runWatchdog(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はサブコマンド間で共有する組み立て済みの依存関係。
type components struct {
	registry   *prometheus.Registry
	statuses   repository.StatusRepository
	audits     repository.AuditRepository
	runner     *pipeline.Runner
	watchdog   *watchdog.Watchdog
	incidents  *incident.Service
	aggregator *response.Aggregator
	closers    []io.Closer
}

// Close はDB以外の外部接続を閉じる。
func (c *components) Close() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			slog.Warn("接続のクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// build は設定から全コンポーネントをワイヤリングする。
// Kafka・Redisは設定がある場合のみ接続し、無ければNop実装で代替する。
func build(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	clock := clockwork.NewRealClock()
	c := &components{}

	// 1. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector())
	mc := metrics.NewCollector(c.registry)

	// 2. リポジトリの初期化
	entryRepo := repository.NewPostgresEntryRepo(db)
	incidentRepo := repository.NewPostgresIncidentRepo(db)
	locationRepo := repository.NewPostgresLocationRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	responseRepo := repository.NewPostgresResponseRepo(db)
	ruleRepo := repository.NewPostgresRuleRepo(db)
	c.statuses = repository.NewPostgresStatusRepo(db)
	c.audits = repository.NewPostgresAuditRepo(db)

	// 3. セキュリティサービスの初期化
	feedGuard := security.NewSSRFGuard()
	reportGuard := security.NewSSRFGuard(cfg.AllowedReportHosts...)
	sanitizer := security.NewContentSanitizer()

	// 4. 外部連携
	jmaClient := jma.NewClient(feedGuard, reportGuard, sanitizer, mc, log, jma.Options{
		Timeout:       cfg.FetchTimeout,
		MaxBodySize:   cfg.FetchMaxSize,
		MaxConcurrent: cfg.FetchMaxConcurrent,
	})
	sink := notify.NewSlackSink(notify.SlackConfig{
		BotToken:   cfg.SlackBotToken,
		ChannelID:  cfg.SlackChannelID,
		WebhookURL: cfg.SlackWebhookURL,
		DemoMode:   cfg.DemoMode,
		SendRate:   cfg.SlackSendRate,
		Retry:      notify.DefaultRetryConfig(),
	}, &http.Client{Timeout: 10 * time.Second}, log)
	if !sink.Configured() {
		slog.Warn("Slackの送信先が設定されていません。通知は送信されません")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaIncidentTopic, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		publisher = kp
		c.closers = append(c.closers, kp)
	}

	var locker lock.Locker = lock.Nop{}
	if cfg.RedisURL != "" {
		rl, err := lock.NewRedisLockerFromURL(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create redis locker: %w", err)
		}
		locker = rl
		c.closers = append(c.closers, rl)
	}

	// 5. ドメインサービスの初期化
	c.incidents = incident.NewService(incident.Deps{
		Incidents: incidentRepo,
		Audits:    c.audits,
		Rules:     ruleRepo,
		Locations: locationRepo,
		Profiles:  profileRepo,
		Reports:   jmaClient,
		Sink:      sink,
		Publisher: publisher,
		Metrics:   mc,
		Clock:     clock,
	}, log)
	c.aggregator = response.NewAggregator(incidentRepo, responseRepo, sink, clock, log)
	c.watchdog = watchdog.New(c.statuses, sink, mc, clock, cfg.WatchdogThreshold, log)

	cleanupJob := cleanup.NewCleanupJob(db, clock, cfg.EntryRetention, log)
	c.runner = pipeline.NewRunner(
		jmaClient,
		entry.NewDetector(entryRepo, log),
		c.incidents,
		c.watchdog,
		cleanupJob,
		locker,
		pipeline.Options{
			FeedURLs:        cfg.FeedURLs,
			EvaluationLimit: cfg.EvaluationLimit,
			LockTTL:         cfg.RunLockTTL,
		},
		log,
	).WithMetrics(mc)

	return c, nil
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

	log := slog.Default()
	c, err := build(cfg, db, log)
	if err != nil {
		return err
	}
	defer c.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitPublic), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          log,
		CronSecret:      cfg.CronSecret,
		DemoSecret:      cfg.DemoSecret,
		TriggerRecorder: middleware.NewStatusTriggerRecorder(c.statuses, c.audits, nil, log),
		RateLimiter:     rateLimiter,
		Pipeline:        c.runner,
		Watchdog:        c.watchdog,
		Responses:       c.aggregator,
		WorkflowSecret:  cfg.SlackWorkflowSecret,
		Incidents:       c.incidents,
		HealthChecker:   db,
		MetricsHandler:  metrics.Handler(c.registry),
	})

	// パイプライン1回分を処理できるよう WriteTimeout は長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runPoll はパイプラインを1回だけ実行して終了する。
// 外部スケジューラ（cron等）からの起動を想定する。
func runPoll(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := build(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := c.runner.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}
	slog.Info("poll completed",
		slog.Bool("skipped", result.Skipped),
		slog.Int("fetched", result.Fetched),
		slog.Int("changed", result.Changed),
		slog.Int("incidents", result.Incidents),
	)
	return nil
}

// runWatchdog は受信停止の判定を1回だけ実行して終了する。
func runWatchdog(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := build(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.watchdog.Check(context.Background())
	if err != nil {
		return fmt.Errorf("watchdog check failed: %w", err)
	}
	attrs := []any{
		slog.Bool("alert_sent", result.AlertSent),
		slog.String("status", string(result.Status)),
	}
	if result.LastDiffMinutes != nil {
		attrs = append(attrs, slog.Int("last_diff_minutes", *result.LastDiffMinutes))
	}
	slog.Info("watchdog completed", attrs...)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
