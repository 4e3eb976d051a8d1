package model

import "time"

// ReceiverStatusID は気象データ受信パイプラインの system_status 行ID。
const ReceiverStatusID = "jma_receiver"

// PipelineStatus はパイプラインの稼働状態を表す。
type PipelineStatus string

const (
	PipelineOK    PipelineStatus = "ok"
	PipelineError PipelineStatus = "error"
)

// SystemStatus は監視対象パイプラインごとの稼働状態。
type SystemStatus struct {
	ID            string
	LastSuccessAt *time.Time
	Status        PipelineStatus
	Metadata      map[string]any
	UpdatedAt     time.Time
}

// AuditLog は監査ログ1件を表す。
type AuditLog struct {
	ID         string
	Action     string
	TargetType string
	TargetID   string
	Actor      string
	Detail     map[string]any
	CreatedAt  time.Time
}

// 監査ログのアクション名
const (
	AuditAutoIncidentStart  = "auto_incident_start"
	AuditIncidentSuperseded = "auto_incident_update"
	AuditStartDrill         = "start_drill"
	AuditStartDemo          = "start_demo"
	AuditCloseIncident      = "close_incident"
	AuditUnauthorized       = "unauthorized_trigger"
)
