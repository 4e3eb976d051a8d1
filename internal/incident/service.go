// Package incident はインシデントの作成・重複排除・通知と、訓練・デモ・終了の操作を提供する。
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/anpi/internal/events"
	"github.com/hitoshi/anpi/internal/metrics"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/notify"
	"github.com/hitoshi/anpi/internal/repository"
)

// 監査ログの実行者
const (
	actorSystem = "system"
	actorDemo   = "demo_api"
)

// ReportFetcher は詳細電文を取得・解析する。
type ReportFetcher interface {
	FetchReport(ctx context.Context, link string) (*model.Report, error)
}

// Deps はServiceの依存関係。
// Publisher・Metrics・Clock は省略時に何もしない実装と実時計を使う。
type Deps struct {
	Incidents repository.IncidentRepository
	Audits    repository.AuditRepository
	Rules     repository.RuleRepository
	Locations repository.LocationRepository
	Profiles  repository.ProfileRepository
	Reports   ReportFetcher
	Sink      notify.Sink
	Publisher events.Publisher
	Metrics   metrics.MetricsCollector
	Clock     clockwork.Clock
}

// Service はインシデントのライフサイクルを管理する。
type Service struct {
	incidents repository.IncidentRepository
	audits    repository.AuditRepository
	rules     repository.RuleRepository
	locations repository.LocationRepository
	profiles  repository.ProfileRepository
	reports   ReportFetcher
	sink      notify.Sink
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	clock     clockwork.Clock
	logger    *slog.Logger
	newID     func() string
}

// NewService はServiceを生成する。
func NewService(d Deps, logger *slog.Logger) *Service {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Service{
		incidents: d.Incidents,
		audits:    d.Audits,
		rules:     d.Rules,
		locations: d.Locations,
		profiles:  d.Profiles,
		reports:   d.Reports,
		sink:      d.Sink,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		clock:     d.Clock,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
	}
}

// RunContext は1回の実行で使う参照データ。実行ごとに読み込み、実行をまたいで保持しない。
type RunContext struct {
	Rules    []model.ActivationRule
	System   []model.Location
	User     []model.Location
	Profiles []model.Profile
	Now      time.Time
}

// LoadRunContext はルール・登録地点・プロフィールを読み込む。
func (s *Service) LoadRunContext(ctx context.Context) (*RunContext, error) {
	rules, err := s.rules.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("発報ルールの読み込みに失敗しました: %w", err)
	}
	system, err := s.locations.ListSystem(ctx)
	if err != nil {
		return nil, fmt.Errorf("組織拠点の読み込みに失敗しました: %w", err)
	}
	user, err := s.locations.ListUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("個人登録地点の読み込みに失敗しました: %w", err)
	}
	profiles, err := s.profiles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの読み込みに失敗しました: %w", err)
	}
	return &RunContext{
		Rules:    rules,
		System:   system,
		User:     user,
		Profiles: profiles,
		Now:      s.clock.Now(),
	}, nil
}

// audit は監査ログを記録する。失敗してもインシデント処理は継続する。
func (s *Service) audit(ctx context.Context, action, actor, targetID string, detail map[string]any) {
	err := s.audits.Create(ctx, &model.AuditLog{
		ID:         s.newID(),
		Action:     action,
		TargetType: "incident",
		TargetID:   targetID,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		s.logger.Error("監査ログの記録に失敗しました",
			slog.String("action", action),
			slog.String("incident_id", targetID),
			slog.String("error", err.Error()),
		)
	}
}

// publish はインシデントイベントを配信する。失敗はログのみ。
func (s *Service) publish(ctx context.Context, eventType string, inc *model.Incident, targets []string) {
	err := s.publisher.Publish(ctx, events.IncidentEvent{
		Type:       eventType,
		IncidentID: inc.ID,
		MenuType:   string(inc.MenuType),
		Mode:       string(inc.Mode),
		SourceKey:  inc.SourceKey,
		Title:      inc.Title,
		Targets:    targets,
		OccurredAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("インシデントイベントの配信に失敗しました",
			slog.String("type", eventType),
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
	}
}

// send は1件送信し、結果をメトリクスに記録する。失敗はログのみでパイプラインは止めない。
func (s *Service) send(ctx context.Context, incidentID string, msg notify.Message) (notify.Delivery, bool) {
	d, err := s.sink.Send(ctx, msg)
	if err != nil {
		s.metrics.RecordNotification("failure")
		s.logger.Error("通知の送信に失敗しました",
			slog.String("incident_id", incidentID),
			slog.String("error", err.Error()),
		)
		return notify.Delivery{}, false
	}
	s.metrics.RecordNotification("success")
	return d, true
}

// recordThread は最初に送信したメッセージの位置を記録する。
func (s *Service) recordThread(ctx context.Context, inc *model.Incident, d notify.Delivery) {
	if d.TS == "" {
		return
	}
	inc.ThreadChannel = d.Channel
	inc.ThreadTS = d.TS
	if err := s.incidents.SetThread(ctx, inc.ID, d.Channel, d.TS); err != nil {
		s.logger.Warn("スレッドIDの記録に失敗しました",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
	}
}
