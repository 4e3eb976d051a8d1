package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestRecordFetchSuccess_IncrementsCounter はフェッチ成功カウンタが増加することを検証する。
func TestRecordFetchSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess("https://example.com/extra.xml")
	c.RecordFetchSuccess("https://example.com/extra.xml")

	mf := findMetric(t, reg, "anpi_fetch_success_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("fetch_success_total = %v, want 2", val)
	}
}

// TestRecordFetchFailure_LabelsReason は失敗理由ごとにカウントされることを検証する。
func TestRecordFetchFailure_LabelsReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchFailure("u", "network")
	c.RecordFetchFailure("u", "status")
	c.RecordFetchFailure("u", "status")

	mf := findMetric(t, reg, "anpi_fetch_fail_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["network"] != 1 || got["status"] != 2 {
		t.Errorf("fetch_fail_total = %v, want network=1 status=2", got)
	}
}

// TestRecordIncident_Labels はメニュー種別・モード・結果のラベルが付与されることを検証する。
func TestRecordIncident_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIncident("earthquake", "test", "created")

	mf := findMetric(t, reg, "anpi_incidents_total")
	labels := map[string]string{}
	for _, l := range mf.GetMetric()[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["menu_type"] != "earthquake" || labels["mode"] != "test" || labels["outcome"] != "created" {
		t.Errorf("labels = %v", labels)
	}
}

// TestRecordFetchLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordFetchLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchLatency(250 * time.Millisecond)

	mf := findMetric(t, reg, "anpi_fetch_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() != 0.25 {
		t.Errorf("sample sum = %v, want 0.25", h.GetSampleSum())
	}
}

// TestRecordWatchdogAlert_IncrementsCounter はアラート送信回数が記録されることを検証する。
func TestRecordWatchdogAlert_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWatchdogAlert()
	c.RecordEntriesChanged(3)

	if val := findMetric(t, reg, "anpi_watchdog_alerts_total").GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("watchdog_alerts_total = %v, want 1", val)
	}
	if val := findMetric(t, reg, "anpi_entries_changed_total").GetMetric()[0].GetCounter().GetValue(); val != 3 {
		t.Errorf("entries_changed_total = %v, want 3", val)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はHandlerがPrometheus形式で応答することを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPStatus(200)
	c.RecordNotification("sent")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Result().Body)
	for _, want := range []string{`anpi_http_status_total{status_code="200"} 1`, `anpi_notifications_total{result="sent"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("response should contain %q", want)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリに重複登録できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	NewCollector(prometheus.NewRegistry())
	NewCollector(prometheus.NewRegistry())
}
