package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/anpi/internal/model"
)

// PostgresLocationRepo はPostgreSQLを使用した拠点リポジトリ。
// system_locations と user_locations の2テーブルを扱う。
type PostgresLocationRepo struct {
	db *sql.DB
}

// NewPostgresLocationRepo はPostgresLocationRepoを生成する。
func NewPostgresLocationRepo(db *sql.DB) *PostgresLocationRepo {
	return &PostgresLocationRepo{db: db}
}

// ListSystem は組織拠点を全件取得する。
func (r *PostgresLocationRepo) ListSystem(ctx context.Context) ([]model.Location, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, target_group, is_permanent, valid_until, prefecture, city, area_name, area_code
		 FROM system_locations ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("組織拠点の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		loc := model.Location{Kind: model.LocationSystem}
		var targetGroup string
		var validUntil sql.NullTime
		if err := rows.Scan(
			&loc.ID, &loc.Label, &targetGroup, &loc.IsPermanent, &validUntil,
			&loc.Prefecture, &loc.City, &loc.AreaName, &loc.AreaCode,
		); err != nil {
			return nil, fmt.Errorf("組織拠点の読み取りに失敗しました: %w", err)
		}
		loc.TargetGroup = model.TargetGroup(targetGroup)
		if validUntil.Valid {
			t := validUntil.Time
			loc.ValidUntil = &t
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("組織拠点の走査に失敗しました: %w", err)
	}
	return locations, nil
}

// ListUser は個人登録地点を全件取得する。
func (r *PostgresLocationRepo) ListUser(ctx context.Context) ([]model.Location, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, display_name, prefecture, city, area_name, area_code
		 FROM user_locations ORDER BY user_id, created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("個人登録地点の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		loc := model.Location{Kind: model.LocationUser}
		if err := rows.Scan(
			&loc.ID, &loc.OwnerID, &loc.DisplayName,
			&loc.Prefecture, &loc.City, &loc.AreaName, &loc.AreaCode,
		); err != nil {
			return nil, fmt.Errorf("個人登録地点の読み取りに失敗しました: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("個人登録地点の走査に失敗しました: %w", err)
	}
	return locations, nil
}

var _ LocationRepository = (*PostgresLocationRepo)(nil)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// ListAll はプロフィールを全件取得する。
func (r *PostgresProfileRepo) ListAll(ctx context.Context) ([]model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, display_name, slack_user_id FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		var p model.Profile
		var slackUserID sql.NullString
		if err := rows.Scan(&p.UserID, &p.DisplayName, &slackUserID); err != nil {
			return nil, fmt.Errorf("プロフィールの読み取りに失敗しました: %w", err)
		}
		p.SlackUserID = nullStringValue(slackUserID)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィールの走査に失敗しました: %w", err)
	}
	return profiles, nil
}

var _ ProfileRepository = (*PostgresProfileRepo)(nil)
