package incident

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/anpi/internal/activation"
	"github.com/hitoshi/anpi/internal/events"
	"github.com/hitoshi/anpi/internal/matcher"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/notify"
)

// Outcome はCreateAndNotifyの処理結果。
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Result はCreateAndNotifyの結果。
type Result struct {
	Outcome  Outcome
	Incident *model.Incident
	// Targets は通知対象として表示した地点名。
	Targets []string
	// Sent は送信に成功したメッセージ数。
	Sent int
}

// EventSourceKey は地震・津波などEventIDを持つ電文のsource_keyを返す。
// 地震と津波は同じEventIDを共有するため、メニュー種別を含める。
func EventSourceKey(eventID string, menuType model.MenuType, infoType string) string {
	return fmt.Sprintf("event:%s:%s:%s", eventID, menuType, infoType)
}

// CreateAndNotify は発報対象1件についてインシデントを作成し、通知する。
//
// 同一イベントの既存インシデントがある場合は詳細度の表に従って抑止または続報とする。
// (source_key, mode) が登録済みなら何もしない。本番モードで登録地点に一致しなければ作成を取り消す。
// 通知の失敗はログのみで、インシデントは残る。
func (s *Service) CreateAndNotify(ctx context.Context, run *RunContext, act activation.Activation) (Result, error) {
	entry, rule, mode := act.Entry, act.Rule, act.Mode
	report := s.fetchReport(ctx, entry)
	rank, ranked := activation.RankOf(rule.MenuType, entry.Title, report.Title)

	sourceKey := entry.EntryKey
	if report.EventID != "" {
		existing, err := s.incidents.FindByEvent(ctx, report.EventID, rule.MenuType, mode)
		if err != nil {
			return Result{}, fmt.Errorf("同一イベントのインシデント検索に失敗しました: %w", err)
		}
		switch activation.Decide(existing, rank, ranked) {
		case activation.DecisionSuppress:
			s.logger.Info("より詳細な電文で通知済みのため抑止しました",
				slog.String("incident_id", existing.ID),
				slog.String("event_id", report.EventID),
				slog.String("title", entry.Title),
			)
			s.metrics.RecordIncident(string(rule.MenuType), string(mode), string(OutcomeSuppressed))
			return Result{Outcome: OutcomeSuppressed, Incident: existing}, nil
		case activation.DecisionSupersede:
			return s.supersede(ctx, run, act, existing, report, rank)
		}
		sourceKey = EventSourceKey(report.EventID, rule.MenuType, report.InfoType)
	}

	inc := &model.Incident{
		ID:         s.newID(),
		SourceKey:  sourceKey,
		EventID:    report.EventID,
		InfoType:   report.InfoType,
		ReportRank: rank,
		MenuType:   rule.MenuType,
		Mode:       mode,
		Status:     model.IncidentActive,
		IsDrill:    mode != model.ModeProduction,
		Channel:    rule.ChannelOrDefault(),
		Title:      entry.Title,
		StartedAt:  run.Now,
	}
	inserted, err := s.incidents.InsertIfAbsent(ctx, inc)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		s.logger.Debug("インシデントは登録済みです",
			slog.String("source_key", sourceKey),
			slog.String("mode", string(mode)),
		)
		s.metrics.RecordIncident(string(rule.MenuType), string(mode), string(OutcomeDuplicate))
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	match := s.match(run, rule.MenuType, report)
	if match.Empty() && mode == model.ModeProduction {
		if err := s.incidents.Delete(ctx, inc.ID); err != nil {
			return Result{}, err
		}
		s.logger.Info("登録地点に一致しないため作成を取り消しました",
			slog.String("source_key", sourceKey),
			slog.String("menu_type", string(rule.MenuType)),
		)
		s.metrics.RecordIncident(string(rule.MenuType), string(mode), string(OutcomeRolledBack))
		return Result{Outcome: OutcomeRolledBack}, nil
	}

	in := notify.RenderInput{
		Rule:    rule,
		Mode:    mode,
		Entry:   entry,
		Report:  report,
		Targets: renderTargets(match.Targets, report),
	}
	deliveries := s.dispatch(ctx, inc, in, match)
	if len(deliveries) > 0 {
		s.recordThread(ctx, inc, deliveries[0])
	}

	targets := notify.TargetSummary(in.Targets, report.AreaNames())
	s.audit(ctx, model.AuditAutoIncidentStart, actorSystem, inc.ID, map[string]any{
		"menu_type": string(rule.MenuType),
		"entry_key": entry.EntryKey,
		"mode":      string(mode),
	})
	s.publish(ctx, events.TypeIncidentStarted, inc, match.Labels())
	s.metrics.RecordIncident(string(rule.MenuType), string(mode), string(OutcomeCreated))

	s.logger.Info("インシデントを作成しました",
		slog.String("incident_id", inc.ID),
		slog.String("menu_type", string(rule.MenuType)),
		slog.String("mode", string(mode)),
		slog.String("targets", targets),
		slog.Int("sent", len(deliveries)),
	)
	return Result{Outcome: OutcomeCreated, Incident: inc, Targets: match.Labels(), Sent: len(deliveries)}, nil
}

// supersede は同一イベントの既存インシデントを続報の内容で更新し、スレッドに続報を送る。
func (s *Service) supersede(ctx context.Context, run *RunContext, act activation.Activation, existing *model.Incident, report *model.Report, rank int) (Result, error) {
	previous := existing.Title
	existing.Title = act.Entry.Title
	existing.InfoType = report.InfoType
	existing.ReportRank = rank
	if err := s.incidents.UpdateReport(ctx, existing); err != nil {
		return Result{}, err
	}

	match := s.match(run, act.Rule.MenuType, report)
	text := notify.Render(notify.RenderInput{
		Rule:     act.Rule,
		Mode:     act.Mode,
		Entry:    act.Entry,
		Report:   report,
		Targets:  renderTargets(match.Targets, report),
		FollowUp: true,
	})

	channel := existing.ThreadChannel
	if channel == "" {
		channel = existing.Channel
	}
	sent := 0
	if _, ok := s.send(ctx, existing.ID, notify.Message{Text: text, Channel: channel, ThreadTS: existing.ThreadTS}); ok {
		sent = 1
	}

	s.audit(ctx, model.AuditIncidentSuperseded, actorSystem, existing.ID, map[string]any{
		"menu_type":      string(act.Rule.MenuType),
		"entry_key":      act.Entry.EntryKey,
		"mode":           string(act.Mode),
		"previous_title": previous,
		"report_rank":    rank,
	})
	s.publish(ctx, events.TypeIncidentUpdated, existing, match.Labels())
	s.metrics.RecordIncident(string(act.Rule.MenuType), string(act.Mode), string(OutcomeSuperseded))

	s.logger.Info("続報でインシデントを更新しました",
		slog.String("incident_id", existing.ID),
		slog.String("previous_title", previous),
		slog.String("title", existing.Title),
		slog.Int("report_rank", rank),
	)
	return Result{Outcome: OutcomeSuperseded, Incident: existing, Targets: match.Labels(), Sent: sent}, nil
}

// fetchReport は詳細電文を取得する。リンクが無いか取得・解析に失敗した場合は空の電文を返し、
// 本文は「確認中」で組み立てられる。
func (s *Service) fetchReport(ctx context.Context, entry model.FeedEntry) *model.Report {
	if entry.Link == "" || s.reports == nil {
		return &model.Report{}
	}
	report, err := s.reports.FetchReport(ctx, entry.Link)
	if err != nil || report == nil {
		attrs := []any{slog.String("entry_key", entry.EntryKey), slog.String("link", entry.Link)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Warn("詳細電文を取得できないため確認中として通知します", attrs...)
		return &model.Report{}
	}
	return report
}

func (s *Service) match(run *RunContext, menuType model.MenuType, report *model.Report) matcher.Result {
	return matcher.Match(matcher.Input{
		MenuType:  menuType,
		AreaNames: report.AreaNames(),
		System:    run.System,
		User:      run.User,
		Profiles:  run.Profiles,
		Now:       run.Now,
	})
}

// dispatch は照合結果に従って通知を送る。
// 組織拠点が一致すれば全体メンションで1通、個人地点のみなら所有者ごとに1通、
// 一致が無い（試験モード）場合はメンションなしで1通送る。
func (s *Service) dispatch(ctx context.Context, inc *model.Incident, in notify.RenderInput, match matcher.Result) []notify.Delivery {
	var deliveries []notify.Delivery

	if match.Broadcast || len(match.Recipients) == 0 {
		msg := notify.Message{Text: notify.Render(in), Channel: inc.Channel, Interactive: true}
		if match.Broadcast {
			msg.Mentions = []string{notify.BroadcastMention}
		}
		if d, ok := s.send(ctx, inc.ID, msg); ok {
			deliveries = append(deliveries, d)
		}
		return deliveries
	}

	for _, r := range match.Recipients {
		own := in
		own.Targets = nil
		// 表示名が同じでも所有者の異なる地点は含めない。
		for i, t := range in.Targets {
			if match.Targets[i].OwnerID == r.OwnerID {
				own.Targets = append(own.Targets, t)
			}
		}
		msg := notify.Message{Text: notify.Render(own), Channel: inc.Channel, Interactive: true}
		if r.SlackUserID != "" {
			msg.UserID = r.SlackUserID
			msg.Mentions = []string{notify.UserMention(r.SlackUserID)}
		}
		if d, ok := s.send(ctx, inc.ID, msg); ok {
			deliveries = append(deliveries, d)
		}
	}
	return deliveries
}

// renderTargets は一致した地点ごとに、一致した地域名に発表されている種別を集める。
func renderTargets(targets []matcher.Target, report *model.Report) []notify.Target {
	out := make([]notify.Target, 0, len(targets))
	for _, t := range targets {
		var kinds []string
		for _, area := range t.Areas {
			for _, k := range report.KindsFor(area) {
				if !slices.Contains(kinds, k) {
					kinds = append(kinds, k)
				}
			}
		}
		out = append(out, notify.Target{Label: t.Label, Kinds: kinds})
	}
	return out
}
