package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/anpi/internal/model"
)

// PostgresIncidentRepo はPostgreSQLを使用したインシデントリポジトリ。
type PostgresIncidentRepo struct {
	db *sql.DB
}

// NewPostgresIncidentRepo はPostgresIncidentRepoを生成する。
func NewPostgresIncidentRepo(db *sql.DB) *PostgresIncidentRepo {
	return &PostgresIncidentRepo{db: db}
}

const selectIncidentColumns = `SELECT id, source_key, event_id, info_type, report_rank, menu_type, mode,
	status, is_drill, channel, title, thread_channel, thread_ts, started_at, ended_at FROM incidents`

// InsertIfAbsent は一意制約 (source_key, mode) に衝突しない場合のみ挿入する。
// 衝突時は ON CONFLICT DO NOTHING により行が返らないため false を返す。
func (r *PostgresIncidentRepo) InsertIfAbsent(ctx context.Context, inc *model.Incident) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO incidents
			(id, source_key, event_id, info_type, report_rank, menu_type, mode, status, is_drill, channel, title, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (source_key, mode) DO NOTHING
		 RETURNING id`,
		inc.ID, inc.SourceKey, nullString(inc.EventID), nullString(inc.InfoType), inc.ReportRank,
		string(inc.MenuType), string(inc.Mode), string(inc.Status), inc.IsDrill, inc.Channel,
		inc.Title, inc.StartedAt,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("インシデントの作成に失敗しました: %w", err)
	}
	return true, nil
}

// FindByID は指定IDのインシデントを取得する。見つからない場合はnilを返す。
func (r *PostgresIncidentRepo) FindByID(ctx context.Context, id string) (*model.Incident, error) {
	return r.findOne(ctx, selectIncidentColumns+` WHERE id = $1`, id)
}

// FindByEvent は同一イベント・同一メニュー種別・同一モードの進行中インシデントのうち
// report_rankが最大のものを取得する。終了済みのインシデントは続報の対象にしない。
func (r *PostgresIncidentRepo) FindByEvent(ctx context.Context, eventID string, menuType model.MenuType, mode model.Mode) (*model.Incident, error) {
	return r.findOne(ctx,
		selectIncidentColumns+` WHERE event_id = $1 AND menu_type = $2 AND mode = $3 AND status = 'active' ORDER BY report_rank DESC, started_at DESC LIMIT 1`,
		eventID, string(menuType), string(mode),
	)
}

// FindLatestActive は最も新しく開始された進行中インシデントを取得する。
func (r *PostgresIncidentRepo) FindLatestActive(ctx context.Context) (*model.Incident, error) {
	return r.findOne(ctx,
		selectIncidentColumns+` WHERE status = 'active' ORDER BY started_at DESC LIMIT 1`,
	)
}

// UpdateReport は続報の内容でタイトル・情報種別・詳細度を更新する。
func (r *PostgresIncidentRepo) UpdateReport(ctx context.Context, inc *model.Incident) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET title = $2, info_type = $3, report_rank = $4 WHERE id = $1`,
		inc.ID, inc.Title, nullString(inc.InfoType), inc.ReportRank,
	)
	if err != nil {
		return fmt.Errorf("インシデントの続報更新に失敗しました: %w", err)
	}
	return nil
}

// SetThread は通知メッセージの送信先チャンネルとスレッドIDを記録する。
func (r *PostgresIncidentRepo) SetThread(ctx context.Context, id, channel, threadTS string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET thread_channel = $2, thread_ts = $3 WHERE id = $1`,
		id, nullString(channel), nullString(threadTS),
	)
	if err != nil {
		return fmt.Errorf("スレッドIDの記録に失敗しました: %w", err)
	}
	return nil
}

// Close は進行中のインシデントを終了状態にする。
func (r *PostgresIncidentRepo) Close(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET status = 'closed', ended_at = $2 WHERE id = $1 AND status = 'active'`,
		id, endedAt,
	)
	if err != nil {
		return false, fmt.Errorf("インシデントの終了に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// Delete はインシデントを削除する。
func (r *PostgresIncidentRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("インシデントの削除に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresIncidentRepo) findOne(ctx context.Context, query string, args ...any) (*model.Incident, error) {
	inc := &model.Incident{}
	var eventID, infoType, threadChannel, threadTS sql.NullString
	var menuType, mode, status string
	var endedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&inc.ID, &inc.SourceKey, &eventID, &infoType, &inc.ReportRank, &menuType, &mode,
		&status, &inc.IsDrill, &inc.Channel, &inc.Title, &threadChannel, &threadTS, &inc.StartedAt, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("インシデントの取得に失敗しました: %w", err)
	}

	inc.EventID = nullStringValue(eventID)
	inc.InfoType = nullStringValue(infoType)
	inc.ThreadChannel = nullStringValue(threadChannel)
	inc.ThreadTS = nullStringValue(threadTS)
	inc.MenuType = model.MenuType(menuType)
	inc.Mode = model.Mode(mode)
	inc.Status = model.IncidentStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		inc.EndedAt = &t
	}
	return inc, nil
}

var _ IncidentRepository = (*PostgresIncidentRepo)(nil)
