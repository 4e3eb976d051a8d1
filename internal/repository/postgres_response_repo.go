package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/anpi/internal/model"
)

// PostgresResponseRepo はPostgreSQLを使用した安否回答リポジトリ。
type PostgresResponseRepo struct {
	db *sql.DB
}

// NewPostgresResponseRepo はPostgresResponseRepoを生成する。
func NewPostgresResponseRepo(db *sql.DB) *PostgresResponseRepo {
	return &PostgresResponseRepo{db: db}
}

// Upsert は (incident_id, respondent_id) 単位で回答を上書き保存する。
func (r *PostgresResponseRepo) Upsert(ctx context.Context, resp *model.Response) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO responses (id, incident_id, respondent_id, status, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (incident_id, respondent_id) DO UPDATE SET
			status = EXCLUDED.status,
			comment = EXCLUDED.comment,
			created_at = EXCLUDED.created_at`,
		resp.ID, resp.IncidentID, resp.RespondentID, string(resp.Status), resp.Comment, resp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("安否回答のUPSERTに失敗しました: %w", err)
	}
	return nil
}

// Insert は回答を単純に挿入する。
func (r *PostgresResponseRepo) Insert(ctx context.Context, resp *model.Response) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO responses (id, incident_id, respondent_id, status, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		resp.ID, resp.IncidentID, resp.RespondentID, string(resp.Status), resp.Comment, resp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("安否回答の挿入に失敗しました: %w", err)
	}
	return nil
}

// AppendHistory は回答履歴を追記する。
func (r *PostgresResponseRepo) AppendHistory(ctx context.Context, resp *model.Response) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO response_history (id, incident_id, respondent_id, status, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		resp.ID, resp.IncidentID, resp.RespondentID, string(resp.Status), resp.Comment, resp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("安否回答履歴の追記に失敗しました: %w", err)
	}
	return nil
}

// ListHistory はインシデントの回答履歴を新しい順に取得する。
func (r *PostgresResponseRepo) ListHistory(ctx context.Context, incidentID string) ([]model.Response, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, incident_id, respondent_id, status, comment, created_at
		 FROM response_history WHERE incident_id = $1
		 ORDER BY created_at DESC, id DESC`,
		incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("安否回答履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		var status string
		if err := rows.Scan(&resp.ID, &resp.IncidentID, &resp.RespondentID, &status, &resp.Comment, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("安否回答履歴の読み取りに失敗しました: %w", err)
		}
		resp.Status = model.ResponseStatus(status)
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("安否回答履歴の走査に失敗しました: %w", err)
	}
	return responses, nil
}

var _ ResponseRepository = (*PostgresResponseRepo)(nil)
