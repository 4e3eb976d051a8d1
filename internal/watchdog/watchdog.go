// Package watchdog は気象データ受信の停止を検知し、停止と復旧を通知する。
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/anpi/internal/metrics"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/notify"
	"github.com/hitoshi/anpi/internal/repository"
)

// DefaultThreshold は受信停止とみなす経過時間の既定値。
const DefaultThreshold = 15 * time.Minute

// ErrStatusNotFound は監視対象の稼働状態行が存在しないことを示す。
var ErrStatusNotFound = errors.New("status_not_found")

// Result はCheckの結果。
type Result struct {
	AlertSent bool
	Status    model.PipelineStatus
	// LastDiffMinutes は最後の受信成功からの経過分。成功記録が無ければnil。
	LastDiffMinutes *int
}

// Watchdog は稼働状態を監視する。停止の警告と復旧の通知はそれぞれ状態が変わったときに1回だけ送る。
type Watchdog struct {
	statuses  repository.StatusRepository
	sink      notify.Sink
	metrics   metrics.MetricsCollector
	clock     clockwork.Clock
	threshold time.Duration
	statusID  string
	logger    *slog.Logger
}

// New はWatchdogを生成する。thresholdが0以下の場合は DefaultThreshold を使う。
func New(
	statuses repository.StatusRepository,
	sink notify.Sink,
	mc metrics.MetricsCollector,
	clock clockwork.Clock,
	threshold time.Duration,
	logger *slog.Logger,
) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watchdog{
		statuses:  statuses,
		sink:      sink,
		metrics:   mc,
		clock:     clock,
		threshold: threshold,
		statusID:  model.ReceiverStatusID,
		logger:    logger,
	}
}

// Check は最後の受信成功からの経過時間を調べる。
// 閾値以上経過していて状態がokであれば警告を送り、状態をerrorにする。
func (w *Watchdog) Check(ctx context.Context) (Result, error) {
	st, err := w.statuses.Find(ctx, w.statusID)
	if err != nil {
		return Result{}, err
	}
	if st == nil {
		return Result{}, ErrStatusNotFound
	}

	res := Result{Status: st.Status}
	if st.LastSuccessAt == nil {
		return res, nil
	}

	diff := w.clock.Since(*st.LastSuccessAt)
	minutes := int(diff / time.Minute)
	res.LastDiffMinutes = &minutes

	if diff < w.threshold || st.Status != model.PipelineOK {
		return res, nil
	}

	text := fmt.Sprintf("【システム警告】気象データの受信が一定時間停止しています（Ping No Reply）。\n最後の受信成功: %s (%d分前)",
		notify.EventTime(st.LastSuccessAt), minutes)
	if _, err := w.sink.Send(ctx, notify.Message{Text: text}); err != nil {
		w.logger.Error("受信停止の警告送信に失敗しました", slog.String("error", err.Error()))
	}

	st.Status = model.PipelineError
	st.Metadata = map[string]any{"alerted_at": w.clock.Now().UTC().Format(time.RFC3339)}
	if err := w.statuses.Upsert(ctx, st); err != nil {
		return res, err
	}

	w.metrics.RecordWatchdogAlert()
	w.logger.Warn("気象データの受信停止を検知しました",
		slog.Int("last_diff_minutes", minutes),
		slog.Duration("threshold", w.threshold),
	)
	res.AlertSent = true
	res.Status = model.PipelineError
	return res, nil
}

// MarkSuccess は受信成功を記録する。直前の状態がerrorであれば復旧を通知する。
func (w *Watchdog) MarkSuccess(ctx context.Context) error {
	prev, err := w.statuses.Find(ctx, w.statusID)
	if err != nil {
		return err
	}

	if prev != nil && prev.Status != model.PipelineOK {
		text := "【システム復旧】気象データ受信が正常に再開されました。\n前回の成功: " + notify.EventTime(prev.LastSuccessAt)
		if _, err := w.sink.Send(ctx, notify.Message{Text: text}); err != nil {
			w.logger.Error("復旧通知の送信に失敗しました", slog.String("error", err.Error()))
		}
		w.logger.Info("気象データの受信が復旧しました")
	}

	now := w.clock.Now()
	return w.statuses.Upsert(ctx, &model.SystemStatus{
		ID:            w.statusID,
		LastSuccessAt: &now,
		Status:        model.PipelineOK,
		Metadata:      map[string]any{"last_run_at": now.UTC().Format(time.RFC3339)},
	})
}
