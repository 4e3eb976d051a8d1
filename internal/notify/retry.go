package notify

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig は送信失敗時の再試行設定。
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig は既定の再試行設定を返す。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable は一時的な障害とみなせるエラーかを判定する。
// 設定不備や認証エラーなど再試行しても結果が変わらないものはfalse。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, s := range []string{
		"invalid_auth",
		"not_authed",
		"channel_not_found",
		"user_not_found",
		"invalid",
		"no slack destination",
	} {
		if strings.Contains(msg, s) {
			return false
		}
	}

	for _, s := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary",
		"ratelimited",
		"rate limit",
		"too many requests",
		"http 429",
		"http 500",
		"http 502",
		"http 503",
		"http 504",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry はfnを実行し、一時的な障害であれば指数バックオフで再試行する。
func withRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("再試行で送信に成功しました",
					slog.String("operation", operation),
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			return err
		}

		backoff := calculateBackoff(cfg, attempt)
		logger.Warn("送信に失敗したため再試行します",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", cfg.MaxRetries+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// calculateBackoff は ±25% のジッタ付きで待ち時間を計算する。
func calculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}
