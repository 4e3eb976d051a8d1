package model

import "time"

// IncidentStatus はインシデントの状態を表す。
type IncidentStatus string

const (
	IncidentActive IncidentStatus = "active"
	IncidentClosed IncidentStatus = "closed"
)

// Incident は安否確認1件を表す。
// (SourceKey, Mode) の組み合わせにつき最大1件しか存在しない。
type Incident struct {
	ID         string
	SourceKey  string
	EventID    string
	InfoType   string
	ReportRank int
	MenuType   MenuType
	Mode       Mode
	Status     IncidentStatus
	IsDrill    bool
	Channel    string
	Title      string
	// ThreadChannel と ThreadTS は最初に送信した通知メッセージの位置。回答集計の返信先になる。
	ThreadChannel string
	ThreadTS      string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// ResponseStatus は安否回答の種別を表す。
type ResponseStatus string

const (
	ResponseSafe    ResponseStatus = "safe"
	ResponseMinor   ResponseStatus = "minor"
	ResponseSerious ResponseStatus = "serious"
	ResponseHelp    ResponseStatus = "help"
)

// Valid は既知の回答種別かどうかを返す。
func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseSafe, ResponseMinor, ResponseSerious, ResponseHelp:
		return true
	}
	return false
}

// NeedsHelp は支援が必要な回答かどうかを返す。
func (s ResponseStatus) NeedsHelp() bool {
	return s == ResponseMinor || s == ResponseSerious || s == ResponseHelp
}

// Label は回答種別の表示名を返す。
func (s ResponseStatus) Label() string {
	switch s {
	case ResponseSafe:
		return "無事"
	case ResponseMinor:
		return "軽傷"
	case ResponseSerious:
		return "重傷"
	case ResponseHelp:
		return "要支援"
	default:
		return string(s)
	}
}

// Response は安否回答1件を表す。
// 同一 (IncidentID, RespondentID) の有効な回答は CreatedAt が最も新しいもの。
type Response struct {
	ID           string
	IncidentID   string
	RespondentID string
	Status       ResponseStatus
	Comment      string
	CreatedAt    time.Time
}
