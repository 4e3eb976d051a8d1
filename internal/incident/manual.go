package incident

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/anpi/internal/events"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/notify"
)

const piiNotice = "注意: 住所/電話などの個人情報（PII）は書かないでください。"

// StartRequest は訓練・デモの開始リクエスト。
type StartRequest struct {
	MenuType model.MenuType `json:"menu_type"`
	Title    string         `json:"title"`
	Message  string         `json:"message,omitempty"`
	// Actor は操作者。訓練では必須、デモでは無視される。
	Actor string `json:"-"`
}

func (r *StartRequest) validate() error {
	if !r.MenuType.IsKnown() {
		return model.NewInvalidMenuTypeError(string(r.MenuType))
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return model.NewInvalidPayloadError("title は必須です")
	}
	if len([]rune(r.Title)) > 200 {
		return model.NewInvalidPayloadError("title は200文字以内で指定してください")
	}
	if len([]rune(r.Message)) > 2000 {
		return model.NewInvalidPayloadError("message は2000文字以内で指定してください")
	}
	return nil
}

// StartDrill は訓練インシデントを開始し、全体に回答ボタン付きで通知する。
func (s *Service) StartDrill(ctx context.Context, req StartRequest) (*model.Incident, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	actor := req.Actor
	if actor == "" {
		actor = actorSystem
	}

	inc, err := s.startManual(ctx, "drill", model.ModeDrill, req)
	if err != nil {
		return nil, err
	}

	lines := []string{
		notify.Banner(model.ModeDrill, req.MenuType),
		"安否確認訓練を開始します。",
		"種別: " + req.MenuType.Label(),
		"タイトル: " + req.Title,
	}
	if req.Message != "" {
		lines = append(lines, "メッセージ: "+req.Message)
	}
	lines = append(lines, "", "下記のボタンから回答してください。", "", notify.Footer(model.ModeDrill))

	msg := notify.Message{
		Text:        strings.Join(lines, "\n"),
		Mentions:    []string{notify.BroadcastMention},
		Channel:     inc.Channel,
		Interactive: true,
	}
	if d, ok := s.send(ctx, inc.ID, msg); ok {
		s.recordThread(ctx, inc, d)
	}

	s.audit(ctx, model.AuditStartDrill, actor, inc.ID, map[string]any{
		"menu_type": string(req.MenuType),
		"title":     req.Title,
		"is_drill":  true,
	})
	s.publish(ctx, events.TypeIncidentStarted, inc, nil)
	s.metrics.RecordIncident(string(req.MenuType), string(model.ModeDrill), string(OutcomeCreated))
	s.logger.Info("訓練を開始しました",
		slog.String("incident_id", inc.ID),
		slog.String("menu_type", string(req.MenuType)),
		slog.String("actor", actor),
	)
	return inc, nil
}

// StartDemo はデモ用の試験インシデントを開始する。
func (s *Service) StartDemo(ctx context.Context, req StartRequest) (*model.Incident, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	inc, err := s.startManual(ctx, "demo", model.ModeTest, req)
	if err != nil {
		return nil, err
	}

	lines := []string{
		notify.Banner(model.ModeTest, req.MenuType),
		"安否確認を開始します（訓練です）。",
		"incident_id: " + inc.ID,
		"種別: " + req.MenuType.Label(),
		"タイトル: " + req.Title,
	}
	if req.Message != "" {
		lines = append(lines, "メッセージ: "+req.Message)
	}
	lines = append(lines, "", piiNotice)

	if d, ok := s.send(ctx, inc.ID, notify.Message{Text: strings.Join(lines, "\n"), Channel: inc.Channel, Interactive: true}); ok {
		s.recordThread(ctx, inc, d)
	}

	s.audit(ctx, model.AuditStartDemo, actorDemo, inc.ID, map[string]any{
		"menu_type": string(req.MenuType),
		"title":     req.Title,
	})
	s.publish(ctx, events.TypeIncidentStarted, inc, nil)
	s.metrics.RecordIncident(string(req.MenuType), string(model.ModeTest), string(OutcomeCreated))
	return inc, nil
}

func (s *Service) startManual(ctx context.Context, prefix string, mode model.Mode, req StartRequest) (*model.Incident, error) {
	id := s.newID()
	inc := &model.Incident{
		ID:        id,
		SourceKey: prefix + ":" + id,
		MenuType:  req.MenuType,
		Mode:      mode,
		Status:    model.IncidentActive,
		IsDrill:   true,
		Channel:   model.DefaultChannel,
		Title:     req.Title,
		StartedAt: s.clock.Now(),
	}
	if _, err := s.incidents.InsertIfAbsent(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

// Close はインシデントを終了し、終了を通知する。
// 既に終了済みの場合は状態を変えずにそのまま返す。
func (s *Service) Close(ctx context.Context, id, actor string) (*model.Incident, error) {
	if actor == "" {
		actor = actorDemo
	}
	inc, err := s.incidents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, model.NewIncidentNotFoundError(id)
	}

	now := s.clock.Now()
	closed, err := s.incidents.Close(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !closed {
		return inc, nil
	}
	inc.Status = model.IncidentClosed
	inc.EndedAt = &now

	text := strings.Join([]string{
		notify.Banner(inc.Mode, inc.MenuType),
		"安否確認を終了します。",
		"incident_id: " + inc.ID,
		"種別: " + inc.MenuType.Label(),
		"タイトル: " + valueOrDash(inc.Title),
	}, "\n")
	channel := inc.ThreadChannel
	if channel == "" {
		channel = inc.Channel
	}
	s.send(ctx, inc.ID, notify.Message{Text: text, Channel: channel, ThreadTS: inc.ThreadTS})

	s.audit(ctx, model.AuditCloseIncident, actor, inc.ID, map[string]any{
		"menu_type": string(inc.MenuType),
		"title":     inc.Title,
	})
	s.publish(ctx, events.TypeIncidentClosed, inc, nil)
	s.logger.Info("インシデントを終了しました",
		slog.String("incident_id", inc.ID),
		slog.String("actor", actor),
	)
	return inc, nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ProbeResult は地点照合の試験結果1件。
type ProbeResult struct {
	City    string   `json:"city"`
	Status  string   `json:"status"`
	Matched []string `json:"matched,omitempty"`
}

// ProbeMatching は指定した市区町村で地震が発生したと仮定して登録地点を照合し、
// 一致した場合のみ試験通知を送る。地点フィルタリングの動作確認用。
func (s *Service) ProbeMatching(ctx context.Context, run *RunContext, cities []string) []ProbeResult {
	results := make([]ProbeResult, 0, len(cities))
	for _, city := range cities {
		report := &model.Report{
			MaxIntensity: "4",
			Epicenter:    "デモ震源地",
			Magnitude:    "5.0",
			Depth:        "10km",
			Areas:        []model.AreaHazard{{Name: city}},
		}
		match := s.match(run, model.MenuEarthquake, report)
		if match.Empty() {
			results = append(results, ProbeResult{City: city, Status: "skipped_no_match"})
			continue
		}

		now := run.Now
		text := notify.Render(notify.RenderInput{
			Rule: model.ActivationRule{
				MenuType: model.MenuEarthquake,
				Template: `内容：シミュレーションにより ` + city + ` での揺れを検知しました。\nこのメッセージが届いていれば、地点フィルタリングは正常に動作しています。`,
			},
			Mode:    model.ModeTest,
			Entry:   model.FeedEntry{Title: "地点マッチング試験", UpdatedAt: &now},
			Report:  report,
			Targets: renderTargets(match.Targets, report),
		})
		status := "notification_sent"
		if _, ok := s.send(ctx, "", notify.Message{Text: text}); !ok {
			status = "notification_failed"
		}
		results = append(results, ProbeResult{City: city, Status: status, Matched: match.Labels()})
	}
	return results
}
