package telemetry

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMetricsSummary(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("services", "ok", 2*time.Second)
	m.ObserveStage("services", "ok", 3*time.Second)
	m.ObserveStage("migrations", "warning", 500*time.Millisecond)

	want := []string{
		"migrations warning=1",
		"services ok=2",
	}
	if got := m.Summary(); !reflect.DeepEqual(got, want) {
		t.Errorf("Summary = %v, want %v", got, want)
	}
}

func TestMetricsSummaryEmpty(t *testing.T) {
	if got := NewMetrics().Summary(); len(got) != 0 {
		t.Errorf("Summary of fresh collector = %v, want empty", got)
	}
}

func TestMetricsHandlerExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("data-store", "ok", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "stackpilot_stage_total") {
		t.Errorf("exposition missing stage counter:\n%s", body)
	}
	if !strings.Contains(body, `stage="data-store"`) {
		t.Errorf("exposition missing stage label:\n%s", body)
	}
}
