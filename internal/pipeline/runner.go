// Package pipeline は1回のトリガーで行う取得から通知までの処理を提供する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/anpi/internal/activation"
	"github.com/hitoshi/anpi/internal/incident"
	"github.com/hitoshi/anpi/internal/lock"
	"github.com/hitoshi/anpi/internal/metrics"
	"github.com/hitoshi/anpi/internal/model"
)

// lockName は多重実行防止ロックの名前。
const lockName = "pipeline:jma"

// FeedFetcher はフィードを取得する。
type FeedFetcher interface {
	FetchFeeds(ctx context.Context, urls []string) []model.FeedEntry
}

// ChangeDetector は前回から変化したエントリを抽出する。
type ChangeDetector interface {
	DetectChanges(ctx context.Context, entries []model.FeedEntry) ([]model.FeedEntry, error)
}

// IncidentCreator は発報対象ごとにインシデントを作成する。
type IncidentCreator interface {
	LoadRunContext(ctx context.Context) (*incident.RunContext, error)
	CreateAndNotify(ctx context.Context, run *incident.RunContext, act activation.Activation) (incident.Result, error)
}

// SuccessMarker は受信成功を記録する。
type SuccessMarker interface {
	MarkSuccess(ctx context.Context) error
}

// Cleaner は保持期間を過ぎたデータを削除する。
type Cleaner interface {
	Run(ctx context.Context) error
}

// Options は Runner の設定。
type Options struct {
	FeedURLs        []string
	EvaluationLimit int
	LockTTL         time.Duration
}

// Result は1回の実行結果。
type Result struct {
	Skipped   bool
	Fetched   int
	Changed   int
	Evaluated int
	// Incidents は新規作成または続報更新したインシデント数。
	Incidents int
}

// Runner は取得・変更検知・発報判定・インシデント作成を順に実行する。
// 実行ごとの状態は RunContext に閉じ、Runner 自体は状態を持たない。
type Runner struct {
	fetcher   FeedFetcher
	detector  ChangeDetector
	incidents IncidentCreator
	watchdog  SuccessMarker
	cleaner   Cleaner
	locker    lock.Locker
	metrics   metrics.MetricsCollector
	opts      Options
	logger    *slog.Logger
}

// NewRunner はRunnerを生成する。lockerとcleanerはnilでもよい。
func NewRunner(
	fetcher FeedFetcher,
	detector ChangeDetector,
	incidents IncidentCreator,
	watchdog SuccessMarker,
	cleaner Cleaner,
	locker lock.Locker,
	opts Options,
	logger *slog.Logger,
) *Runner {
	if locker == nil {
		locker = lock.Nop{}
	}
	if opts.EvaluationLimit <= 0 {
		opts.EvaluationLimit = 50
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Runner{
		fetcher:   fetcher,
		detector:  detector,
		incidents: incidents,
		watchdog:  watchdog,
		cleaner:   cleaner,
		locker:    locker,
		metrics:   metrics.Nop{},
		opts:      opts,
		logger:    logger,
	}
}

// WithMetrics はメトリクスの記録先を差し替える。
func (r *Runner) WithMetrics(mc metrics.MetricsCollector) *Runner {
	if mc != nil {
		r.metrics = mc
	}
	return r
}

// RunOnce はパイプラインを1回実行する。
//
// 取得件数が0件の場合は受信成功を記録せずに終了する。
// 発報対象ごとの失敗はログに記録して次へ進み、実行全体は失敗にしない。
// 他の実行がロックを保持している場合は Skipped を返す。
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	release, err := r.locker.Acquire(ctx, lockName, r.opts.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		r.logger.Info("他の実行が進行中のためスキップしました")
		return Result{Skipped: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("実行ロックの取得に失敗しました: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("実行ロックの解放に失敗しました", slog.String("error", err.Error()))
		}
	}()

	var res Result
	fetched := r.fetcher.FetchFeeds(ctx, r.opts.FeedURLs)
	res.Fetched = len(fetched)
	if len(fetched) == 0 {
		r.logger.Warn("フィードを1件も取得できませんでした")
		return res, nil
	}

	changed, err := r.detector.DetectChanges(ctx, fetched)
	if err != nil {
		return res, err
	}
	res.Changed = len(changed)
	r.metrics.RecordEntriesChanged(len(changed))

	if err := r.watchdog.MarkSuccess(ctx); err != nil {
		r.logger.Error("受信成功の記録に失敗しました", slog.String("error", err.Error()))
	}

	if len(changed) > 0 {
		res.Evaluated, res.Incidents, err = r.evaluate(ctx, changed)
		if err != nil {
			return res, err
		}
	}

	if r.cleaner != nil {
		if err := r.cleaner.Run(ctx); err != nil {
			r.logger.Error("クリーンアップに失敗しました", slog.String("error", err.Error()))
		}
	}

	r.logger.Info("パイプラインの実行が完了しました",
		slog.Int("fetched", res.Fetched),
		slog.Int("changed", res.Changed),
		slog.Int("evaluated", res.Evaluated),
		slog.Int("incidents", res.Incidents),
	)
	return res, nil
}

// evaluate は変更エントリを優先順位付けし、発報対象ごとにインシデントを作成する。
func (r *Runner) evaluate(ctx context.Context, changed []model.FeedEntry) (evaluated, created int, err error) {
	run, err := r.incidents.LoadRunContext(ctx)
	if err != nil {
		return 0, 0, err
	}

	targets := activation.Prioritize(changed, r.opts.EvaluationLimit)
	for _, act := range activation.Evaluate(targets, run.Rules) {
		r.metrics.RecordActivation(string(act.Rule.MenuType), string(act.Mode))
		res, err := r.incidents.CreateAndNotify(ctx, run, act)
		if err != nil {
			r.logger.Error("インシデントの作成に失敗しました",
				slog.String("entry_key", act.Entry.EntryKey),
				slog.String("menu_type", string(act.Rule.MenuType)),
				slog.String("mode", string(act.Mode)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res.Outcome == incident.OutcomeCreated || res.Outcome == incident.OutcomeSuperseded {
			created++
		}
	}
	return len(targets), created, nil
}
