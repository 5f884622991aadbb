package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestHandlerExposesStationMetrics(t *testing.T) {
	RecordTick("idle")
	RecordAction("instrument_calibration", "passed", 90*time.Second)
	SetForcedQueueDepth(3)
	IncrementBusInFlight()
	DecrementBusInFlight()
	RecordErrorReported()
	RecordHeartbeat()
	RecordHTTPRequest("POST", "/force", 202, 2*time.Millisecond)
	UpdateDBStats(1, 0, 1)

	body := scrape(t)
	for _, want := range []string{
		`dockd_ticks_total{outcome="idle"}`,
		`dockd_actions_total{kind="instrument_calibration",outcome="passed"}`,
		`dockd_operation_duration_seconds_bucket{kind="instrument_calibration",le="120"}`,
		"dockd_forced_queue_depth 3",
		"dockd_bus_in_flight 0",
		"dockd_errors_reported_total",
		"dockd_heartbeats_total",
		`dockd_http_requests_total{method="POST",path="/force",status="202"}`,
		"dockd_db_connections_open 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
