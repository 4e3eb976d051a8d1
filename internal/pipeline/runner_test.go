package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/anpi/internal/activation"
	"github.com/hitoshi/anpi/internal/incident"
	"github.com/hitoshi/anpi/internal/lock"
	"github.com/hitoshi/anpi/internal/metrics"
	"github.com/hitoshi/anpi/internal/model"
)

type fakeFetcher struct {
	entries []model.FeedEntry
	urls    []string
}

func (f *fakeFetcher) FetchFeeds(_ context.Context, urls []string) []model.FeedEntry {
	f.urls = urls
	return f.entries
}

type fakeDetector struct {
	changed func([]model.FeedEntry) []model.FeedEntry
	err     error
}

func (d *fakeDetector) DetectChanges(_ context.Context, entries []model.FeedEntry) ([]model.FeedEntry, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.changed == nil {
		return entries, nil
	}
	return d.changed(entries), nil
}

type fakeCreator struct {
	rules     []model.ActivationRule
	loadCalls int
	acts      []activation.Activation
	fail      map[string]bool
}

func (c *fakeCreator) LoadRunContext(context.Context) (*incident.RunContext, error) {
	c.loadCalls++
	return &incident.RunContext{Rules: c.rules, Now: time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)}, nil
}

func (c *fakeCreator) CreateAndNotify(_ context.Context, _ *incident.RunContext, act activation.Activation) (incident.Result, error) {
	c.acts = append(c.acts, act)
	if c.fail[act.Entry.EntryKey] {
		return incident.Result{}, errors.New("db down")
	}
	return incident.Result{Outcome: incident.OutcomeCreated}, nil
}

type countingMarker struct{ calls int }

func (m *countingMarker) MarkSuccess(context.Context) error {
	m.calls++
	return nil
}

type countingCleaner struct{ calls int }

func (c *countingCleaner) Run(context.Context) error {
	c.calls++
	return nil
}

type recordingMetrics struct {
	metrics.Nop
	changed     int
	activations []string
}

func (m *recordingMetrics) RecordEntriesChanged(count int) { m.changed += count }
func (m *recordingMetrics) RecordActivation(menuType, mode string) {
	m.activations = append(m.activations, menuType+"/"+mode)
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, lock.ErrNotAcquired
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func earthquakeRule() model.ActivationRule {
	return model.ActivationRule{MenuType: model.MenuEarthquake, Enabled: true, Keywords: []string{"震度速報"}}
}

func TestRunOnce_FullRun(t *testing.T) {
	fetcher := &fakeFetcher{entries: []model.FeedEntry{
		{EntryKey: "a", SourceFeed: "regular.xml", Title: "気象警報・注意報"},
		{EntryKey: "b", SourceFeed: "eqvol.xml", Title: "震度速報"},
		{EntryKey: "c", SourceFeed: "eqvol.xml", Title: "震度速報"},
	}}
	detector := &fakeDetector{changed: func(e []model.FeedEntry) []model.FeedEntry { return e[1:] }}
	creator := &fakeCreator{rules: []model.ActivationRule{earthquakeRule()}}
	marker := &countingMarker{}
	cleaner := &countingCleaner{}

	r := NewRunner(fetcher, detector, creator, marker, cleaner, nil,
		Options{FeedURLs: []string{"https://example.test/eqvol.xml"}}, discardLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 3, Changed: 2, Evaluated: 2, Incidents: 2}, res)
	assert.Equal(t, []string{"https://example.test/eqvol.xml"}, fetcher.urls)
	assert.Equal(t, 1, creator.loadCalls, "RunContextは1回だけ読み込む")
	assert.Len(t, creator.acts, 2)
	assert.Equal(t, 1, marker.calls)
	assert.Equal(t, 1, cleaner.calls)
}

func TestRunOnce_NothingFetched(t *testing.T) {
	marker := &countingMarker{}
	creator := &fakeCreator{}
	r := NewRunner(&fakeFetcher{}, &fakeDetector{}, creator, marker, nil, nil, Options{}, discardLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, marker.calls, "取得0件では受信成功を記録しない")
	assert.Zero(t, creator.loadCalls)
}

func TestRunOnce_NoChanges(t *testing.T) {
	marker := &countingMarker{}
	creator := &fakeCreator{}
	detector := &fakeDetector{changed: func([]model.FeedEntry) []model.FeedEntry { return nil }}
	r := NewRunner(&fakeFetcher{entries: []model.FeedEntry{{EntryKey: "a"}}}, detector, creator, marker, nil, nil, Options{}, discardLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 1}, res)
	assert.Equal(t, 1, marker.calls)
	assert.Zero(t, creator.loadCalls)
}

// TestRunOnce_FailureDoesNotAbortBatch は1件の失敗で残りの処理が止まらないことをテストする。
func TestRunOnce_FailureDoesNotAbortBatch(t *testing.T) {
	fetcher := &fakeFetcher{entries: []model.FeedEntry{
		{EntryKey: "b", SourceFeed: "eqvol.xml", Title: "震度速報"},
		{EntryKey: "c", SourceFeed: "eqvol.xml", Title: "震度速報"},
	}}
	creator := &fakeCreator{rules: []model.ActivationRule{earthquakeRule()}, fail: map[string]bool{"b": true}}
	r := NewRunner(fetcher, &fakeDetector{}, creator, &countingMarker{}, nil, nil, Options{}, discardLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, creator.acts, 2)
	assert.Equal(t, 1, res.Incidents)
}

func TestRunOnce_EvaluationLimit(t *testing.T) {
	var entries []model.FeedEntry
	for _, k := range []string{"a", "b", "c", "d"} {
		entries = append(entries, model.FeedEntry{EntryKey: k, SourceFeed: "eqvol.xml", Title: "震度速報"})
	}
	creator := &fakeCreator{rules: []model.ActivationRule{earthquakeRule()}}
	r := NewRunner(&fakeFetcher{entries: entries}, &fakeDetector{}, creator, &countingMarker{}, nil, nil,
		Options{EvaluationLimit: 3}, discardLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Evaluated)
	assert.Len(t, creator.acts, 3)
}

func TestRunOnce_DetectorError(t *testing.T) {
	marker := &countingMarker{}
	r := NewRunner(&fakeFetcher{entries: []model.FeedEntry{{EntryKey: "a"}}},
		&fakeDetector{err: errors.New("lookup failed")}, &fakeCreator{}, marker, nil, nil, Options{}, discardLogger())

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, marker.calls)
}

func TestRunOnce_SkippedWhenLocked(t *testing.T) {
	fetcher := &fakeFetcher{entries: []model.FeedEntry{{EntryKey: "a"}}}
	r := NewRunner(fetcher, &fakeDetector{}, &fakeCreator{}, &countingMarker{}, nil, busyLocker{}, Options{}, discardLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Nil(t, fetcher.urls)
}

func TestRunOnce_RecordsMetrics(t *testing.T) {
	fetcher := &fakeFetcher{entries: []model.FeedEntry{
		{EntryKey: "a", SourceFeed: "eqvol.xml", Title: "震度速報"},
		{EntryKey: "b", SourceFeed: "regular.xml", Title: "気象警報・注意報"},
	}}
	creator := &fakeCreator{rules: []model.ActivationRule{earthquakeRule()}}
	mc := &recordingMetrics{}

	r := NewRunner(fetcher, &fakeDetector{}, creator, &countingMarker{}, nil, nil, Options{}, discardLogger()).WithMetrics(mc)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, mc.changed)
	assert.Equal(t, []string{"earthquake/production"}, mc.activations)
}
