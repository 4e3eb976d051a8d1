// Package entry はフィードエントリの変更検知とベースラインの保存を提供する。
package entry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/repository"
)

const (
	// lookupChunkSize は保存済みハッシュを一度に引くキー数。
	lookupChunkSize = 100
	// upsertChunkSize は一度にUPSERTするエントリ数。
	upsertChunkSize = 50
)

// Detector は取得したエントリを保存済みハッシュと比較する。
type Detector struct {
	repo   repository.EntryRepository
	logger *slog.Logger
}

// NewDetector はDetectorを生成する。
func NewDetector(repo repository.EntryRepository, logger *slog.Logger) *Detector {
	return &Detector{repo: repo, logger: logger}
}

// DetectChanges は未保存またはハッシュが変化したエントリを返す。
// 判定結果にかかわらず全エントリをUPSERTし、次回以降のベースラインとする。
// ハッシュの参照に失敗した場合は変更なしとは扱えないためエラーを返す。
// 保存の失敗はログに記録して継続する。
func (d *Detector) DetectChanges(ctx context.Context, entries []model.FeedEntry) ([]model.FeedEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	stored := make(map[string]string, len(entries))
	for start := 0; start < len(entries); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(entries))
		keys := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			keys = append(keys, e.EntryKey)
		}
		hashes, err := d.repo.FindHashes(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("保存済みハッシュの取得に失敗しました: %w", err)
		}
		for k, v := range hashes {
			stored[k] = v
		}
	}

	var changed []model.FeedEntry
	for _, e := range entries {
		if prev, ok := stored[e.EntryKey]; !ok || prev != e.ContentHash {
			changed = append(changed, e)
		}
	}

	for start := 0; start < len(entries); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(entries))
		if err := d.repo.UpsertBatch(ctx, entries[start:end]); err != nil {
			d.logger.Error("エントリの保存に失敗しました",
				slog.Int("chunk_start", start),
				slog.Int("chunk_size", end-start),
				slog.String("error", err.Error()),
			)
		}
	}

	d.logger.Info("変更検知が完了しました",
		slog.Int("fetched", len(entries)),
		slog.Int("changed", len(changed)),
	)
	return changed, nil
}
