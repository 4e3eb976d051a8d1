// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 呼び出し元に返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, incident, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInvalidPayload   = "INVALID_PAYLOAD"
	ErrCodeInvalidStatus    = "INVALID_STATUS"
	ErrCodeNoActiveIncident = "NO_ACTIVE_INCIDENT"
	ErrCodeIncidentNotFound = "INCIDENT_NOT_FOUND"
	ErrCodeInvalidMenuType  = "INVALID_MENU_TYPE"
	ErrCodeFeatureDisabled  = "FEATURE_DISABLED"
	ErrCodeStatusNotFound   = "STATUS_NOT_FOUND"
	ErrCodeNoSinkConfigured = "NO_SINK_CONFIGURED"
)

// NewInvalidPayloadError はリクエストボディ不正エラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("リクエストの形式が正しくありません: %s", reason),
		Category: "validation",
		Action:   "リクエストボディを確認してください。",
	}
}

// NewInvalidStatusError は無効な安否ステータスエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効な安否ステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには safe、minor、serious、help のいずれかを指定してください。",
	}
}

// NewNoActiveIncidentError は進行中のインシデントが存在しない場合のエラーを生成する。
func NewNoActiveIncidentError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveIncident,
		Message:  "現在進行中の安否確認はありません。",
		Category: "incident",
		Action:   "管理者に安否確認の状況を確認してください。",
	}
}

// NewIncidentNotFoundError はインシデント未検出エラーを生成する。
func NewIncidentNotFoundError(incidentID string) *APIError {
	return &APIError{
		Code:     ErrCodeIncidentNotFound,
		Message:  fmt.Sprintf("指定されたインシデントが見つかりません: %s", incidentID),
		Category: "incident",
		Action:   "インシデントIDを確認してください。",
	}
}

// NewInvalidMenuTypeError は未知のメニュー種別エラーを生成する。
func NewInvalidMenuTypeError(menuType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMenuType,
		Message:  fmt.Sprintf("無効なメニュー種別です: %s", menuType),
		Category: "validation",
		Action:   "earthquake、tsunami、heavy_rain、flood、civil_protection のいずれかを指定してください。",
	}
}

// NewFeatureDisabledError は設定により無効化されている機能へのアクセスエラーを生成する。
func NewFeatureDisabledError(feature string) *APIError {
	return &APIError{
		Code:     ErrCodeFeatureDisabled,
		Message:  fmt.Sprintf("この機能は無効化されています: %s", feature),
		Category: "system",
		Action:   "サーバーの環境変数設定を確認してください。",
	}
}

// NewNoSinkConfiguredError は通知先が設定されていない場合のエラーを生成する。
func NewNoSinkConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeNoSinkConfigured,
		Message:  "No Slack destination configured",
		Category: "system",
		Action:   "SLACK_BOT_TOKEN または SLACK_WEBHOOK_URL を設定してください。",
	}
}
