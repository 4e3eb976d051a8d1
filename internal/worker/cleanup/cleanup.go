// Package cleanup は保持期間を過ぎたフィードエントリの削除ジョブを提供する。
// パイプラインの実行ごとに末尾で呼ばれる。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultRetention はフィードエントリの既定の保持期間。
const DefaultRetention = 7 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CleanupJob は保持期間を超過したフィードエントリの削除ジョブ。
// 削除したエントリは次回取得時に新規扱いとなるため、保持期間はフィードの掲載期間より長くする。
type CleanupJob struct {
	db        Executor
	clock     clockwork.Clock
	logger    *slog.Logger
	Retention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionが0以下の場合は DefaultRetention を使う。
func NewCleanupJob(db Executor, clock clockwork.Clock, retention time.Duration, logger *slog.Logger) *CleanupJob {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CleanupJob{
		db:        db,
		clock:     clock,
		logger:    logger,
		Retention: retention,
	}
}

// Run は fetched_at が保持期間より古いエントリを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.clock.Now()
	cutoff := start.Add(-j.Retention)

	query := `DELETE FROM feed_entries WHERE fetched_at < $1`
	result, err := j.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		j.logger.Error("エントリのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("エントリのクリーンアップに失敗しました: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	j.logger.Info("エントリのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(j.clock.Since(start).Milliseconds())),
	)
	return nil
}
