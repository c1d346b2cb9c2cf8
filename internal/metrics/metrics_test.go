package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveTick("ok", time.Millisecond)
	m.Trigger("price_above")
	m.Dispatch("webhook", false)
	m.Cache("hit")
	m.SetMonitored(1, 2)
	m.ActivityDrop()
	m.PersistFailure("trigger")
	m.OverCap()
}

func TestMetricsRecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Dispatch("telegram", true)
	m.Dispatch("telegram", false)
	m.Dispatch("telegram", false)
	m.SetMonitored(3, 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`alerts_dispatch_total{channel="telegram",result="failure"} 2`,
		`alerts_dispatch_total{channel="telegram",result="success"} 1`,
		`alerts_monitored_instruments{cadence="idle"} 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("handler output missing %q:\n%s", want, body)
		}
	}
}
