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

// findMetric は指定名・ラベルに一致するメトリクスを返す。見つからない場合はnil。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
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
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordHandshakeConsume_CountsByResult は結果ラベルごとにカウントされることを検証する。
func TestRecordHandshakeConsume_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHandshakeConsume(ResultSuccess)
	c.RecordHandshakeConsume(ResultSuccess)
	c.RecordHandshakeConsume(ResultExpired)

	m := findMetric(t, reg, "jobsync_handshake_consume_total", map[string]string{"result": ResultSuccess})
	if m == nil {
		t.Fatal("jobsync_handshake_consume_total{result=success} not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}

	m = findMetric(t, reg, "jobsync_handshake_consume_total", map[string]string{"result": ResultExpired})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("expired counter should be 1, got %v", m)
	}
}

// TestRecordTokenRefresh_CountsAndObservesLatency はリフレッシュ件数とレイテンシが記録されることを検証する。
func TestRecordTokenRefresh_CountsAndObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenRefresh(ResultSuccess, 200*time.Millisecond)
	c.RecordTokenRefresh(ResultRejected, 50*time.Millisecond)

	m := findMetric(t, reg, "jobsync_token_refresh_total", map[string]string{"result": ResultRejected})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("rejected counter should be 1, got %v", m)
	}

	h := findMetric(t, reg, "jobsync_token_refresh_latency_seconds", nil)
	if h == nil {
		t.Fatal("jobsync_token_refresh_latency_seconds not found")
	}
	if got := h.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

// TestRecordDocumentLookup_LabelsKindAndResult は種別と結果の両ラベルで記録されることを検証する。
func TestRecordDocumentLookup_LabelsKindAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDocumentLookup("resume", ResultHit)
	c.RecordDocumentLookup("resume", ResultMiss)
	c.RecordDocumentLookup("vacancy", ResultHit)

	m := findMetric(t, reg, "jobsync_document_lookup_total", map[string]string{"kind": "resume", "result": ResultHit})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("resume hit counter should be 1, got %v", m)
	}
}

// TestRecordParseLatency_ObservesHistogram はパースレイテンシが種別ごとに記録されることを検証する。
func TestRecordParseLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordParseLatency("vacancy", 1500*time.Millisecond)

	m := findMetric(t, reg, "jobsync_document_parse_latency_seconds", map[string]string{"kind": "vacancy"})
	if m == nil {
		t.Fatal("jobsync_document_parse_latency_seconds{kind=vacancy} not found")
	}
	if got := m.GetHistogram().GetSampleSum(); got != 1.5 {
		t.Errorf("sample sum = %v, want 1.5", got)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコードラベル付きで記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(503)

	m := findMetric(t, reg, "jobsync_http_status_total", map[string]string{"status_code": "200"})
	if m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("status 200 counter should be 2, got %v", m)
	}
}

// TestRecordCleanupDeleted_AddsCount は削除件数が加算されることを検証する。
func TestRecordCleanupDeleted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCleanupDeleted("oauth_state", 3)
	c.RecordCleanupDeleted("oauth_state", 4)

	m := findMetric(t, reg, "jobsync_cleanup_deleted_total", map[string]string{"target": "oauth_state"})
	if m == nil || m.GetCounter().GetValue() != 7 {
		t.Errorf("cleanup counter should be 7, got %v", m)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はHandlerがテキスト形式でメトリクスを返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordDocumentLookup("resume", ResultMiss)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("failed to GET metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `jobsync_document_lookup_total{kind="resume",result="miss"} 1`) {
		t.Errorf("unexpected metrics body:\n%s", body)
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがインターフェースを満たすことを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
	var _ MetricsCollector = Nop{}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリ同士が干渉しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordHTTPStatus(500)

	if m := findMetric(t, reg2, "jobsync_http_status_total", map[string]string{"status_code": "500"}); m != nil {
		t.Error("reg2 should not observe reg1's metrics")
	}
}

// TestRegisterLockTableSize_ReadsCurrentSize はスクレイプのたびに現在のエントリ数を読むことを検証する。
func TestRegisterLockTableSize_ReadsCurrentSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	size := 0
	RegisterLockTableSize(reg, func() int { return size })

	m := findMetric(t, reg, "jobsync_token_lock_entries", nil)
	if m == nil {
		t.Fatal("jobsync_token_lock_entries not registered")
	}
	if got := m.GetGauge().GetValue(); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}

	size = 3
	m = findMetric(t, reg, "jobsync_token_lock_entries", nil)
	if got := m.GetGauge().GetValue(); got != 3 {
		t.Errorf("gauge = %v, want 3", got)
	}
}
