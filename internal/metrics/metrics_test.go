package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	r := New()
	r.FramesReceived.WithLabelValues("11").Inc()
	r.KnownPrograms.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "wb_mqtt_smartweb_frames_received_total") {
		t.Fatal("response missing frames_received_total metric")
	}
	if !strings.Contains(body, "wb_mqtt_smartweb_known_programs") {
		t.Fatal("response missing known_programs metric")
	}
}
