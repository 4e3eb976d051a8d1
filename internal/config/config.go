package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultFeedURLs は気象庁防災情報XML（高頻度フィード）の既定URL。
var DefaultFeedURLs = []string{
	"https://www.data.jma.go.jp/developer/xml/feed/regular.xml",
	"https://www.data.jma.go.jp/developer/xml/feed/extra.xml",
	"https://www.data.jma.go.jp/developer/xml/feed/eqvol.xml",
	"https://www.data.jma.go.jp/developer/xml/feed/other.xml",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Trigger
	CronSecret string

	// JMA
	FeedURLs           []string
	AllowedReportHosts []string
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	EvaluationLimit    int
	EntryRetention     time.Duration

	// Watchdog
	WatchdogThreshold time.Duration

	// Slack
	SlackBotToken       string
	SlackChannelID      string
	SlackWebhookURL     string
	SlackWorkflowSecret string
	SlackSendRate       float64

	// Demo
	DemoSecret string
	DemoMode   bool

	// Run lock
	RedisURL   string
	RunLockTTL time.Duration

	// Events
	KafkaBrokers       string
	KafkaIncidentTopic string

	// Rate Limit
	RateLimitPublic int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn(".envファイルの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FeedURLs = getEnvList("JMA_FEED_URLS", DefaultFeedURLs)
	cfg.AllowedReportHosts = getEnvList("JMA_ALLOWED_HOSTS", []string{"www.data.jma.go.jp", "data.jma.go.jp"})
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 4)
	cfg.EvaluationLimit = getEnvInt("EVALUATION_LIMIT", 50)
	cfg.EntryRetention = getEnvDuration("ENTRY_RETENTION", 7*24*time.Hour)
	cfg.WatchdogThreshold = getEnvDuration("WATCHDOG_THRESHOLD", 15*time.Minute)
	cfg.SlackBotToken = getEnvString("SLACK_BOT_TOKEN", "")
	cfg.SlackChannelID = getEnvString("SLACK_CHANNEL_ID", "")
	cfg.SlackWebhookURL = getEnvString("SLACK_WEBHOOK_URL", "")
	cfg.SlackWorkflowSecret = getEnvString("SLACK_WORKFLOW_SHARED_SECRET", "")
	cfg.SlackSendRate = getEnvFloat("SLACK_SEND_RATE", 1)
	cfg.DemoSecret = getEnvString("DEMO_SECRET", "")
	cfg.DemoMode = getEnvBool("DEMO_MODE", false)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RunLockTTL = getEnvDuration("RUN_LOCK_TTL", 2*time.Minute)
	cfg.KafkaBrokers = getEnvString("KAFKA_BROKERS", "")
	cfg.KafkaIncidentTopic = getEnvString("KAFKA_INCIDENT_TOPIC", "anpi.incidents")
	cfg.RateLimitPublic = getEnvInt("RATE_LIMIT_PUBLIC", 60)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
