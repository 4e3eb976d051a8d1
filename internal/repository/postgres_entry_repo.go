package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/anpi/internal/model"
)

// entryColumns はUPSERT時に1エントリあたりに渡すパラメータ数。
const entryColumns = 8

// PostgresEntryRepo はPostgreSQLを使用したフィードエントリリポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// FindHashes は指定エントリキーの保存済みcontent_hashを返す。
func (r *PostgresEntryRepo) FindHashes(ctx context.Context, entryKeys []string) (map[string]string, error) {
	hashes := make(map[string]string, len(entryKeys))
	if len(entryKeys) == 0 {
		return hashes, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT entry_key, content_hash FROM feed_entries WHERE entry_key = ANY($1)`,
		pq.Array(entryKeys),
	)
	if err != nil {
		return nil, fmt.Errorf("保存済みハッシュの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, hash string
		if err := rows.Scan(&key, &hash); err != nil {
			return nil, fmt.Errorf("保存済みハッシュの読み取りに失敗しました: %w", err)
		}
		hashes[key] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保存済みハッシュの走査に失敗しました: %w", err)
	}

	return hashes, nil
}

// UpsertBatch はエントリを1文のINSERT ... ON CONFLICTでまとめて保存する。
func (r *PostgresEntryRepo) UpsertBatch(ctx context.Context, entries []model.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO feed_entries
		(entry_key, source_feed, title, content, updated_at, link, content_hash, raw)
		VALUES `)

	args := make([]any, 0, len(entries)*entryColumns)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * entryColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			e.EntryKey, e.SourceFeed, e.Title, e.Content, e.UpdatedAt,
			nullString(e.Link), e.ContentHash, jsonParam(e.Raw),
		)
	}
	b.WriteString(`
		ON CONFLICT (entry_key) DO UPDATE SET
			source_feed = EXCLUDED.source_feed,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at,
			link = EXCLUDED.link,
			content_hash = EXCLUDED.content_hash,
			raw = EXCLUDED.raw,
			fetched_at = now()`)

	if _, err := r.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("フィードエントリのUPSERTに失敗しました: %w", err)
	}
	return nil
}

var _ EntryRepository = (*PostgresEntryRepo)(nil)
