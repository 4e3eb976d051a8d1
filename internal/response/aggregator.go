// Package response は安否回答の受け付けと集計を提供する。
package response

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/notify"
	"github.com/hitoshi/anpi/internal/repository"
)

// Interaction はチャットの回答ボタン押下1件。
type Interaction struct {
	// UserID は押下したユーザーのチャット上のID。回答者IDとして記録する。
	UserID string
	// Value はボタンの値（safe または help）。
	Value string
	// ActionText はボタンの表示文言。空ならステータスの表示名を使う。
	ActionText string
}

// Submission はフォームまたはJSONによる回答。
type Submission struct {
	IncidentID   string `json:"incident_id"`
	RespondentID string `json:"respondent_id"`
	Status       string `json:"status"`
	Comment      string `json:"comment"`
}

// Tally は回答の集計結果。回答者ごとに最新の回答のみを数える。
type Tally struct {
	Total     int                          `json:"total"`
	Safe      int                          `json:"safe"`
	NeedsHelp int                          `json:"needs_help"`
	ByStatus  map[model.ResponseStatus]int `json:"by_status"`
}

// Aggregator は回答を保存し、集計をインシデントのスレッドに返信する。
type Aggregator struct {
	incidents repository.IncidentRepository
	responses repository.ResponseRepository
	sink      notify.Sink
	clock     clockwork.Clock
	logger    *slog.Logger
	newID     func() string
}

// NewAggregator はAggregatorを生成する。sinkがnilの場合は集計を返信しない。
func NewAggregator(
	incidents repository.IncidentRepository,
	responses repository.ResponseRepository,
	sink notify.Sink,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{
		incidents: incidents,
		responses: responses,
		sink:      sink,
		clock:     clock,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
	}
}

// HandleInteraction は回答ボタンの押下を最新の進行中インシデントへの回答として記録する。
// 戻り値は押下したユーザーに表示する確認文。
func (a *Aggregator) HandleInteraction(ctx context.Context, in Interaction) (string, error) {
	status := model.ResponseStatus(in.Value)
	if !status.Valid() {
		return "", model.NewInvalidStatusError(in.Value)
	}
	if in.UserID == "" {
		return "", model.NewInvalidPayloadError("user.id がありません")
	}

	inc, err := a.incidents.FindLatestActive(ctx)
	if err != nil {
		return "", err
	}
	if inc == nil {
		return "", model.NewNoActiveIncidentError()
	}

	label := in.ActionText
	if label == "" {
		label = status.Label()
	}
	resp := &model.Response{
		ID:           a.newID(),
		IncidentID:   inc.ID,
		RespondentID: in.UserID,
		Status:       status,
		Comment:      "Answered via Slack Button: " + label,
		CreatedAt:    a.clock.Now(),
	}
	if err := a.save(ctx, inc, resp); err != nil {
		return "", err
	}
	return "回答を受け付けました: " + label, nil
}

// HandleSubmission はフォームまたはJSONの回答を記録する。
// インシデントIDが無ければ最新の進行中インシデント、ステータスが無ければ safe とする。
func (a *Aggregator) HandleSubmission(ctx context.Context, sub Submission) (*model.Response, error) {
	status := model.ResponseStatus(strings.TrimSpace(sub.Status))
	if status == "" {
		status = model.ResponseSafe
	}
	if !status.Valid() {
		return nil, model.NewInvalidStatusError(sub.Status)
	}
	respondent := strings.TrimSpace(sub.RespondentID)
	if respondent == "" {
		return nil, model.NewInvalidPayloadError("respondent_id は必須です")
	}

	var inc *model.Incident
	var err error
	if sub.IncidentID != "" {
		inc, err = a.incidents.FindByID(ctx, sub.IncidentID)
		if err != nil {
			return nil, err
		}
		if inc == nil {
			return nil, model.NewIncidentNotFoundError(sub.IncidentID)
		}
	} else {
		inc, err = a.incidents.FindLatestActive(ctx)
		if err != nil {
			return nil, err
		}
		if inc == nil {
			return nil, model.NewNoActiveIncidentError()
		}
	}

	resp := &model.Response{
		ID:           a.newID(),
		IncidentID:   inc.ID,
		RespondentID: respondent,
		Status:       status,
		Comment:      sub.Comment,
		CreatedAt:    a.clock.Now(),
	}
	if err := a.save(ctx, inc, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Summary はインシデントの回答を集計する。
func (a *Aggregator) Summary(ctx context.Context, incidentID string) (Tally, error) {
	history, err := a.responses.ListHistory(ctx, incidentID)
	if err != nil {
		return Tally{}, err
	}
	return Compute(history), nil
}

// save は最新の回答を保存し、履歴を追記して集計をスレッドに返信する。
func (a *Aggregator) save(ctx context.Context, inc *model.Incident, resp *model.Response) error {
	if err := a.responses.Upsert(ctx, resp); err != nil {
		a.logger.Warn("回答のUPSERTに失敗したため挿入で再試行します",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
		if err := a.responses.Insert(ctx, resp); err != nil {
			return fmt.Errorf("安否回答の保存に失敗しました: %w", err)
		}
	}
	if err := a.responses.AppendHistory(ctx, resp); err != nil {
		a.logger.Warn("回答履歴の追記に失敗しました",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
	}

	a.logger.Info("安否回答を受け付けました",
		slog.String("incident_id", inc.ID),
		slog.String("status", string(resp.Status)),
	)
	a.replyTally(ctx, inc)
	return nil
}

func (a *Aggregator) replyTally(ctx context.Context, inc *model.Incident) {
	if a.sink == nil || inc.ThreadTS == "" {
		return
	}
	tally, err := a.Summary(ctx, inc.ID)
	if err != nil {
		a.logger.Warn("回答の集計に失敗しました", slog.String("incident_id", inc.ID), slog.String("error", err.Error()))
		return
	}
	channel := inc.ThreadChannel
	if channel == "" {
		channel = inc.Channel
	}
	if err := a.sink.PostThreadReply(ctx, channel, inc.ThreadTS, tally.String()); err != nil {
		a.logger.Warn("集計の返信に失敗しました", slog.String("incident_id", inc.ID), slog.String("error", err.Error()))
	}
}

// Compute は回答を作成日時の新しい順に並べ、回答者ごとに最新の1件だけを集計する。
func Compute(responses []model.Response) Tally {
	sorted := make([]model.Response, len(responses))
	copy(sorted, responses)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	t := Tally{ByStatus: make(map[model.ResponseStatus]int)}
	seen := make(map[string]bool)
	for _, r := range sorted {
		if seen[r.RespondentID] {
			continue
		}
		seen[r.RespondentID] = true
		t.Total++
		t.ByStatus[r.Status]++
		switch {
		case r.Status == model.ResponseSafe:
			t.Safe++
		case r.Status.NeedsHelp():
			t.NeedsHelp++
		}
	}
	return t
}

// String は集計結果の表示文を返す。
func (t Tally) String() string {
	return fmt.Sprintf("安否回答状況: 回答 %d名（無事 %d名 / 要支援 %d名）", t.Total, t.Safe, t.NeedsHelp)
}
