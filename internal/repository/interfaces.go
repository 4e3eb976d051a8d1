// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/anpi/internal/model"
)

// EntryRepository はフィードエントリ（変更検知のベースライン）の永続化インターフェース。
type EntryRepository interface {
	// FindHashes は指定エントリキーの保存済みcontent_hashを返す。
	// 未保存のキーは戻り値のマップに含まれない。
	FindHashes(ctx context.Context, entryKeys []string) (map[string]string, error)

	// UpsertBatch はエントリをentry_key単位でUPSERTする。
	UpsertBatch(ctx context.Context, entries []model.FeedEntry) error
}

// RuleRepository は発報ルールの読み取りインターフェース。
type RuleRepository interface {
	// ListAll は全メニュー種別のルールを取得する。
	ListAll(ctx context.Context) ([]model.ActivationRule, error)

	// FindByMenuType は指定メニュー種別のルールを取得する。見つからない場合はnilを返す。
	FindByMenuType(ctx context.Context, menuType model.MenuType) (*model.ActivationRule, error)
}

// LocationRepository は拠点・個人登録地点の読み取りインターフェース。
type LocationRepository interface {
	// ListSystem は組織拠点を全件取得する。有効期限の判定は呼び出し側で行う。
	ListSystem(ctx context.Context) ([]model.Location, error)

	// ListUser は個人登録地点を全件取得する。
	ListUser(ctx context.Context) ([]model.Location, error)
}

// ProfileRepository は利用者プロフィールの読み取りインターフェース。
type ProfileRepository interface {
	// ListAll はプロフィールを全件取得する。
	ListAll(ctx context.Context) ([]model.Profile, error)
}

// IncidentRepository はインシデントの永続化インターフェース。
type IncidentRepository interface {
	// InsertIfAbsent は (source_key, mode) が未登録の場合のみインシデントを挿入する。
	// 既に存在する場合は false を返し、エラーにはしない。
	InsertIfAbsent(ctx context.Context, incident *model.Incident) (bool, error)

	// FindByID は指定IDのインシデントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Incident, error)

	// FindByEvent は同一イベント・同一メニュー種別の進行中インシデントのうち最も詳細度の高いものを取得する。
	// 地震と、それに伴う津波は同じEventIDを持つため、メニュー種別で区別する。
	// 見つからない場合はnilを返す。
	FindByEvent(ctx context.Context, eventID string, menuType model.MenuType, mode model.Mode) (*model.Incident, error)

	// FindLatestActive はstarted_atが最も新しい進行中インシデントを取得する。
	// 見つからない場合はnilを返す。
	FindLatestActive(ctx context.Context) (*model.Incident, error)

	// UpdateReport は続報受信時にタイトル・情報種別・詳細度を更新する。
	UpdateReport(ctx context.Context, incident *model.Incident) error

	// SetThread は通知メッセージの送信先チャンネルとスレッドIDを記録する。
	SetThread(ctx context.Context, id, channel, threadTS string) error

	// Close はインシデントを終了状態にする。対象が進行中でない場合は false を返す。
	Close(ctx context.Context, id string, endedAt time.Time) (bool, error)

	// Delete はインシデントを削除する（通知対象なしの本番インシデントのロールバック用）。
	Delete(ctx context.Context, id string) error
}

// ResponseRepository は安否回答の永続化インターフェース。
type ResponseRepository interface {
	// Upsert は (incident_id, respondent_id) 単位で最新の回答を保存する。
	Upsert(ctx context.Context, response *model.Response) error

	// Insert は一意制約に依存せず回答を挿入する（Upsertのフォールバック）。
	Insert(ctx context.Context, response *model.Response) error

	// AppendHistory は監査用に回答履歴を追記する。
	AppendHistory(ctx context.Context, response *model.Response) error

	// ListHistory はインシデントの回答履歴を新しい順に取得する。
	ListHistory(ctx context.Context, incidentID string) ([]model.Response, error)
}

// StatusRepository はパイプライン稼働状態の永続化インターフェース。
type StatusRepository interface {
	// Find は指定IDの稼働状態を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, id string) (*model.SystemStatus, error)

	// Upsert は稼働状態を保存する。metadataは既存の値にマージされる。
	Upsert(ctx context.Context, status *model.SystemStatus) error

	// MergeMetadata はmetadataのみを既存の値にマージする。行が無ければ作成する。
	MergeMetadata(ctx context.Context, id string, metadata map[string]any) error
}

// AuditRepository は監査ログの永続化インターフェース。
type AuditRepository interface {
	// Create は監査ログを1件記録する。
	Create(ctx context.Context, log *model.AuditLog) error
}
