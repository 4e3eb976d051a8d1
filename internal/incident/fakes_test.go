package incident

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/anpi/internal/events"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// memoryIncidentRepo は (source_key, mode) の一意制約を再現するインメモリ実装。
type memoryIncidentRepo struct {
	mu        sync.Mutex
	incidents map[string]model.Incident
	order     []string
}

func newMemoryIncidentRepo() *memoryIncidentRepo {
	return &memoryIncidentRepo{incidents: make(map[string]model.Incident)}
}

func (r *memoryIncidentRepo) InsertIfAbsent(_ context.Context, inc *model.Incident) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.incidents {
		if existing.SourceKey == inc.SourceKey && existing.Mode == inc.Mode {
			return false, nil
		}
	}
	r.incidents[inc.ID] = *inc
	r.order = append(r.order, inc.ID)
	return true, nil
}

func (r *memoryIncidentRepo) FindByID(_ context.Context, id string) (*model.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return nil, nil
	}
	return &inc, nil
}

func (r *memoryIncidentRepo) FindByEvent(_ context.Context, eventID string, menuType model.MenuType, mode model.Mode) (*model.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Incident
	for _, id := range r.order {
		inc, ok := r.incidents[id]
		if !ok || inc.EventID != eventID || inc.MenuType != menuType || inc.Mode != mode || inc.Status != model.IncidentActive {
			continue
		}
		if best == nil || inc.ReportRank > best.ReportRank {
			c := inc
			best = &c
		}
	}
	return best, nil
}

func (r *memoryIncidentRepo) FindLatestActive(_ context.Context) (*model.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Incident
	for _, id := range r.order {
		inc, ok := r.incidents[id]
		if !ok || inc.Status != model.IncidentActive {
			continue
		}
		if latest == nil || !inc.StartedAt.Before(latest.StartedAt) {
			c := inc
			latest = &c
		}
	}
	return latest, nil
}

func (r *memoryIncidentRepo) UpdateReport(_ context.Context, inc *model.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.incidents[inc.ID]
	if !ok {
		return errors.New("not found")
	}
	stored.Title = inc.Title
	stored.InfoType = inc.InfoType
	stored.ReportRank = inc.ReportRank
	r.incidents[inc.ID] = stored
	return nil
}

func (r *memoryIncidentRepo) SetThread(_ context.Context, id, channel, threadTS string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.incidents[id]
	stored.ThreadChannel = channel
	stored.ThreadTS = threadTS
	r.incidents[id] = stored
	return nil
}

func (r *memoryIncidentRepo) Close(_ context.Context, id string, endedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.incidents[id]
	if !ok || stored.Status != model.IncidentActive {
		return false, nil
	}
	stored.Status = model.IncidentClosed
	stored.EndedAt = &endedAt
	r.incidents[id] = stored
	return true, nil
}

func (r *memoryIncidentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.incidents, id)
	return nil
}

func (r *memoryIncidentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.incidents)
}

type memoryAuditRepo struct {
	logs []model.AuditLog
}

func (r *memoryAuditRepo) Create(_ context.Context, log *model.AuditLog) error {
	r.logs = append(r.logs, *log)
	return nil
}

func (r *memoryAuditRepo) actions() []string {
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

// fakeSink は送信内容を記録する通知先。
type fakeSink struct {
	messages []notify.Message
	err      error
}

func (s *fakeSink) Send(_ context.Context, msg notify.Message) (notify.Delivery, error) {
	if s.err != nil {
		return notify.Delivery{}, s.err
	}
	s.messages = append(s.messages, msg)
	channel := msg.Channel
	switch {
	case msg.UserID != "":
		channel = "D-" + msg.UserID
	case channel == "" || channel == model.DefaultChannel:
		channel = "C123"
	}
	return notify.Delivery{Channel: channel, TS: fmt.Sprintf("ts-%d", len(s.messages)), Via: "bot"}, nil
}

func (s *fakeSink) PostThreadReply(context.Context, string, string, string) error {
	return nil
}

type fakeReports struct {
	reports map[string]*model.Report
}

func (f *fakeReports) FetchReport(_ context.Context, link string) (*model.Report, error) {
	r, ok := f.reports[link]
	if !ok {
		return nil, errors.New("parse error")
	}
	return r, nil
}

type fakePublisher struct {
	events []events.IncidentEvent
}

func (p *fakePublisher) Publish(_ context.Context, e events.IncidentEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type staticRules struct{ rules []model.ActivationRule }

func (r staticRules) ListAll(context.Context) ([]model.ActivationRule, error) { return r.rules, nil }

func (r staticRules) FindByMenuType(_ context.Context, m model.MenuType) (*model.ActivationRule, error) {
	for _, rule := range r.rules {
		if rule.MenuType == m {
			return &rule, nil
		}
	}
	return nil, nil
}

type staticLocations struct{ system, user []model.Location }

func (l staticLocations) ListSystem(context.Context) ([]model.Location, error) { return l.system, nil }
func (l staticLocations) ListUser(context.Context) ([]model.Location, error)   { return l.user, nil }

type staticProfiles struct{ profiles []model.Profile }

func (p staticProfiles) ListAll(context.Context) ([]model.Profile, error) { return p.profiles, nil }
