package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/anpi/internal/model"
)

// PostgresRuleRepo はPostgreSQLを使用した発報ルールリポジトリ。
type PostgresRuleRepo struct {
	db *sql.DB
}

// NewPostgresRuleRepo はPostgresRuleRepoを生成する。
func NewPostgresRuleRepo(db *sql.DB) *PostgresRuleRepo {
	return &PostgresRuleRepo{db: db}
}

const selectRuleColumns = `SELECT menu_type, enabled, keywords, test_enabled, test_keywords, template, channel FROM activation_rules`

// ListAll は全メニュー種別のルールをmenu_type順に取得する。
func (r *PostgresRuleRepo) ListAll(ctx context.Context) ([]model.ActivationRule, error) {
	rows, err := r.db.QueryContext(ctx, selectRuleColumns+` ORDER BY menu_type`)
	if err != nil {
		return nil, fmt.Errorf("発報ルールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var rules []model.ActivationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("発報ルールの走査に失敗しました: %w", err)
	}
	return rules, nil
}

// FindByMenuType は指定メニュー種別のルールを取得する。見つからない場合はnilを返す。
func (r *PostgresRuleRepo) FindByMenuType(ctx context.Context, menuType model.MenuType) (*model.ActivationRule, error) {
	row := r.db.QueryRowContext(ctx, selectRuleColumns+` WHERE menu_type = $1`, string(menuType))
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (*model.ActivationRule, error) {
	var rule model.ActivationRule
	var menuType string
	var keywords, testKeywords pq.StringArray
	err := s.Scan(&menuType, &rule.Enabled, &keywords, &rule.TestEnabled, &testKeywords, &rule.Template, &rule.Channel)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("発報ルールの読み取りに失敗しました: %w", err)
	}
	rule.MenuType = model.MenuType(menuType)
	rule.Keywords = []string(keywords)
	rule.TestKeywords = []string(testKeywords)
	return &rule, nil
}

var _ RuleRepository = (*PostgresRuleRepo)(nil)
