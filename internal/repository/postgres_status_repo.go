package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/anpi/internal/model"
)

// PostgresStatusRepo はPostgreSQLを使用した稼働状態リポジトリ。
type PostgresStatusRepo struct {
	db *sql.DB
}

// NewPostgresStatusRepo はPostgresStatusRepoを生成する。
func NewPostgresStatusRepo(db *sql.DB) *PostgresStatusRepo {
	return &PostgresStatusRepo{db: db}
}

// Find は指定IDの稼働状態を取得する。見つからない場合はnilを返す。
func (r *PostgresStatusRepo) Find(ctx context.Context, id string) (*model.SystemStatus, error) {
	st := &model.SystemStatus{}
	var lastSuccessAt sql.NullTime
	var status string
	var metadata []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, last_success_at, status, metadata, updated_at FROM system_status WHERE id = $1`,
		id,
	).Scan(&st.ID, &lastSuccessAt, &status, &metadata, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("稼働状態の取得に失敗しました: %w", err)
	}

	st.Status = model.PipelineStatus(status)
	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time
		st.LastSuccessAt = &t
	}
	if st.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}
	return st, nil
}

// Upsert は稼働状態を保存する。metadataは既存値にマージする。
func (r *PostgresStatusRepo) Upsert(ctx context.Context, st *model.SystemStatus) error {
	metadata, err := marshalMap(st.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO system_status (id, last_success_at, status, metadata, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET
			last_success_at = EXCLUDED.last_success_at,
			status = EXCLUDED.status,
			metadata = system_status.metadata || EXCLUDED.metadata,
			updated_at = now()`,
		st.ID, st.LastSuccessAt, string(st.Status), metadata,
	)
	if err != nil {
		return fmt.Errorf("稼働状態の保存に失敗しました: %w", err)
	}
	return nil
}

// MergeMetadata はmetadataのみを既存値にマージする。
func (r *PostgresStatusRepo) MergeMetadata(ctx context.Context, id string, metadata map[string]any) error {
	raw, err := marshalMap(metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO system_status (id, metadata, updated_at)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET
			metadata = system_status.metadata || EXCLUDED.metadata,
			updated_at = now()`,
		id, raw,
	)
	if err != nil {
		return fmt.Errorf("稼働状態メタデータの保存に失敗しました: %w", err)
	}
	return nil
}

var _ StatusRepository = (*PostgresStatusRepo)(nil)

// PostgresAuditRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Create は監査ログを1件記録する。
func (r *PostgresAuditRepo) Create(ctx context.Context, log *model.AuditLog) error {
	detail, err := marshalMap(log.Detail)
	if err != nil {
		return err
	}
	actor := log.Actor
	if actor == "" {
		actor = "system"
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, target_type, target_id, actor, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		log.ID, log.Action, log.TargetType, log.TargetID, actor, detail, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("監査ログの記録に失敗しました: %w", err)
	}
	return nil
}

var _ AuditRepository = (*PostgresAuditRepo)(nil)
