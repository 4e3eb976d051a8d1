package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// jsonParam はJSONB列に渡す値を返す。空の場合はNULL。
func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// marshalMap はJSONB列用にマップをシリアライズする。nilは空オブジェクトとして扱う。
func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("JSONへの変換に失敗しました: %w", err)
	}
	return string(b), nil
}

// unmarshalMap はJSONB列の値をマップに変換する。
func unmarshalMap(raw []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("JSONの解析に失敗しました: %w", err)
	}
	return m, nil
}
