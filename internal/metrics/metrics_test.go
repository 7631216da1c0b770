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

// findMetric は指定名のメトリクスからラベル値が一致するものを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labelValue string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" {
				return m
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					return m
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, labelValue)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordReportCreatedAndUpdated はレポート作成・編集カウンタが増加することを検証する。
func TestRecordReportCreatedAndUpdated(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReportCreated()
	c.RecordReportCreated()
	c.RecordReportUpdated()

	if v := findMetric(t, reg, "lostfound_reports_created_total", "").GetCounter().GetValue(); v != 2 {
		t.Errorf("reports_created_total = %v, want 2", v)
	}
	if v := findMetric(t, reg, "lostfound_reports_updated_total", "").GetCounter().GetValue(); v != 1 {
		t.Errorf("reports_updated_total = %v, want 1", v)
	}
}

// TestRecordUpload_CountsByOutcome はアップロード結果がラベル別に集計されることを検証する。
func TestRecordUpload_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUpload(OutcomeOK)
	c.RecordUpload(OutcomeOK)
	c.RecordUpload(OutcomeRejected)

	if v := findMetric(t, reg, "lostfound_uploads_total", OutcomeOK).GetCounter().GetValue(); v != 2 {
		t.Errorf("uploads_total{ok} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "lostfound_uploads_total", OutcomeRejected).GetCounter().GetValue(); v != 1 {
		t.Errorf("uploads_total{rejected} = %v, want 1", v)
	}
}

// TestRecordGeocodeLookup_ObservesLatency は地名検索の結果とレイテンシが記録されることを検証する。
func TestRecordGeocodeLookup_ObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGeocodeLookup(OutcomeNotFound, 200*time.Millisecond)

	if v := findMetric(t, reg, "lostfound_geocode_lookups_total", OutcomeNotFound).GetCounter().GetValue(); v != 1 {
		t.Errorf("geocode_lookups_total{not_found} = %v, want 1", v)
	}
	h := findMetric(t, reg, "lostfound_geocode_latency_seconds", "").GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
}

// TestFeedMetrics は購読者数ゲージとスナップショット配信が記録されることを検証する。
func TestFeedMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetFeedSubscribers(3)
	c.SetFeedSubscribers(2)
	c.RecordSnapshotBroadcast(10)

	if v := findMetric(t, reg, "lostfound_feed_subscribers", "").GetGauge().GetValue(); v != 2 {
		t.Errorf("feed_subscribers = %v, want 2", v)
	}
	if v := findMetric(t, reg, "lostfound_feed_snapshots_total", "").GetCounter().GetValue(); v != 1 {
		t.Errorf("feed_snapshots_total = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	if v := findMetric(t, reg, "lostfound_http_status_total", "200").GetCounter().GetValue(); v != 2 {
		t.Errorf("http_status_total{200} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "lostfound_http_status_total", "404").GetCounter().GetValue(); v != 1 {
		t.Errorf("http_status_total{404} = %v, want 1", v)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はハンドラーがPrometheus形式で出力することを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReportCreated()
	c.RecordUpload(OutcomeFailed)
	c.RecordGeocodeLookup(OutcomeOK, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{
		"lostfound_reports_created_total",
		"lostfound_uploads_total",
		"lostfound_geocode_latency_seconds",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordReportCreated()
	c2.RecordReportCreated()
	c2.RecordReportCreated()

	if v := findMetric(t, reg1, "lostfound_reports_created_total", "").GetCounter().GetValue(); v != 1 {
		t.Errorf("reg1 = %v, want 1", v)
	}
	if v := findMetric(t, reg2, "lostfound_reports_created_total", "").GetCounter().GetValue(); v != 2 {
		t.Errorf("reg2 = %v, want 2", v)
	}
}

func TestNop_ImplementsInterface(t *testing.T) {
	var m MetricsCollector = Nop{}
	m.RecordReportCreated()
	m.RecordGeocodeLookup(OutcomeOK, time.Millisecond)
}
