package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/hitoshi/anpi/internal/incident"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/pipeline"
	"github.com/hitoshi/anpi/internal/response"
	"github.com/hitoshi/anpi/internal/watchdog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type mockRunner struct {
	runOnceFn func(ctx context.Context) (pipeline.Result, error)
}

func (m *mockRunner) RunOnce(ctx context.Context) (pipeline.Result, error) {
	if m.runOnceFn != nil {
		return m.runOnceFn(ctx)
	}
	return pipeline.Result{}, nil
}

type mockWatchdog struct {
	checkFn func(ctx context.Context) (watchdog.Result, error)
}

func (m *mockWatchdog) Check(ctx context.Context) (watchdog.Result, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx)
	}
	return watchdog.Result{Status: model.PipelineOK}, nil
}

type mockRecorder struct {
	handleInteractionFn func(ctx context.Context, in response.Interaction) (string, error)
	handleSubmissionFn  func(ctx context.Context, sub response.Submission) (*model.Response, error)
}

func (m *mockRecorder) HandleInteraction(ctx context.Context, in response.Interaction) (string, error) {
	return m.handleInteractionFn(ctx, in)
}

func (m *mockRecorder) HandleSubmission(ctx context.Context, sub response.Submission) (*model.Response, error) {
	return m.handleSubmissionFn(ctx, sub)
}

type mockIncidentService struct {
	startDrillFn    func(ctx context.Context, req incident.StartRequest) (*model.Incident, error)
	startDemoFn     func(ctx context.Context, req incident.StartRequest) (*model.Incident, error)
	closeFn         func(ctx context.Context, id, actor string) (*model.Incident, error)
	probeMatchingFn func(ctx context.Context, run *incident.RunContext, cities []string) []incident.ProbeResult
}

func (m *mockIncidentService) StartDrill(ctx context.Context, req incident.StartRequest) (*model.Incident, error) {
	return m.startDrillFn(ctx, req)
}

func (m *mockIncidentService) StartDemo(ctx context.Context, req incident.StartRequest) (*model.Incident, error) {
	return m.startDemoFn(ctx, req)
}

func (m *mockIncidentService) Close(ctx context.Context, id, actor string) (*model.Incident, error) {
	return m.closeFn(ctx, id, actor)
}

func (m *mockIncidentService) LoadRunContext(context.Context) (*incident.RunContext, error) {
	return &incident.RunContext{}, nil
}

func (m *mockIncidentService) ProbeMatching(ctx context.Context, run *incident.RunContext, cities []string) []incident.ProbeResult {
	return m.probeMatchingFn(ctx, run, cities)
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}
