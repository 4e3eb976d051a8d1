package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/anpi/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			logger.Error("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
			middleware.WriteFailure(w, http.StatusServiceUnavailable, "database_unavailable")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
