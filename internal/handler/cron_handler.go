package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/anpi/internal/middleware"
	"github.com/hitoshi/anpi/internal/pipeline"
	"github.com/hitoshi/anpi/internal/watchdog"
)

// PipelineRunner はパイプラインを1回実行する。
type PipelineRunner interface {
	RunOnce(ctx context.Context) (pipeline.Result, error)
}

// WatchdogChecker は受信停止を判定する。
type WatchdogChecker interface {
	Check(ctx context.Context) (watchdog.Result, error)
}

// CronHandler は定期実行トリガーのHTTPハンドラー。
type CronHandler struct {
	runner   PipelineRunner
	watchdog WatchdogChecker
	logger   *slog.Logger
}

// NewCronHandler はCronHandlerを生成する。
func NewCronHandler(runner PipelineRunner, wd WatchdogChecker, logger *slog.Logger) *CronHandler {
	return &CronHandler{runner: runner, watchdog: wd, logger: logger}
}

type runResponse struct {
	OK      bool `json:"ok"`
	Fetched int  `json:"fetched"`
	Changed int  `json:"changed"`
	Skipped bool `json:"skipped,omitempty"`
}

// RunPipeline はフィードを取得し、発報判定と通知を行う。
// GET /api/cron/jma
func (h *CronHandler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("パイプラインの実行に失敗しました", slog.String("error", err.Error()))
		middleware.WriteFailure(w, http.StatusInternalServerError, "pipeline_failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, runResponse{
		OK:      true,
		Fetched: res.Fetched,
		Changed: res.Changed,
		Skipped: res.Skipped,
	})
}

type watchdogResponse struct {
	OK              bool   `json:"ok"`
	AlertSent       bool   `json:"alert_sent,omitempty"`
	Status          string `json:"status,omitempty"`
	LastDiffMinutes *int   `json:"last_diff_minutes,omitempty"`
}

// CheckWatchdog は受信停止を判定し、必要なら警告を送る。
// GET /api/cron/watchdog
func (h *CronHandler) CheckWatchdog(w http.ResponseWriter, r *http.Request) {
	res, err := h.watchdog.Check(r.Context())
	if errors.Is(err, watchdog.ErrStatusNotFound) {
		middleware.WriteFailure(w, http.StatusInternalServerError, "status_not_found")
		return
	}
	if err != nil {
		h.logger.Error("受信監視に失敗しました", slog.String("error", err.Error()))
		middleware.WriteFailure(w, http.StatusInternalServerError, "watchdog_failed")
		return
	}

	if res.AlertSent {
		middleware.WriteJSON(w, http.StatusOK, watchdogResponse{OK: true, AlertSent: true})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, watchdogResponse{
		OK:              true,
		Status:          string(res.Status),
		LastDiffMinutes: res.LastDiffMinutes,
	})
}
