package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestNewClientMetrics(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})
	if m == nil {
		t.Fatal("expected metrics to be created, got nil")
	}
	if m.registry == nil {
		t.Fatal("expected registry to be initialized")
	}
}

func TestRecordRequest(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})

	m.RecordRequest("GET", "200")
	m.RecordRequest("POST", "404")
	m.RecordRequest("GET", "200")

	mfs, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "test_requests_total" {
			found = true
			if len(mf.Metric) < 2 {
				t.Error("expected at least 2 distinct label combinations")
			}
		}
	}
	if !found {
		t.Error("expected test_requests_total metric family")
	}
}

func TestRecordRequestDuration(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})
	m.RecordRequestDuration("GET", 50*time.Millisecond)

	mfs, _ := m.registry.Gather()
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "test_request_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("expected test_request_duration_seconds metric family")
	}
}

func TestRecordRequestError(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})
	m.RecordRequestError("connect_timeout")

	mfs, _ := m.registry.Gather()
	var count float64
	for _, mf := range mfs {
		if mf.GetName() == "test_request_errors_total" {
			for _, metric := range mf.Metric {
				count += metric.GetCounter().GetValue()
			}
		}
	}
	if count != 1 {
		t.Errorf("expected 1 request error recorded, got %v", count)
	}
}

func TestConnectionState(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})

	m.SetConnectionUp(true)
	mfs, _ := m.registry.Gather()
	if !gaugeEquals(mfs, "test_connection_up", 1) {
		t.Error("expected connection_up to be 1 after SetConnectionUp(true)")
	}

	m.SetConnectionUp(false)
	mfs, _ = m.registry.Gather()
	if !gaugeEquals(mfs, "test_connection_up", 0) {
		t.Error("expected connection_up to be 0 after SetConnectionUp(false)")
	}
}

func TestStreamsActiveAndOpened(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})

	m.SetStreamsActive(3)
	m.RecordStreamOpened("header")
	m.RecordStreamOpened("persistent")
	m.RecordStreamReset()

	mfs, _ := m.registry.Gather()
	if !gaugeEquals(mfs, "test_streams_active", 3) {
		t.Error("expected streams_active to be 3")
	}
}

func TestByteCounters(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})

	m.AddUploadBytes(100)
	m.AddUploadBytes(50)
	m.AddDownloadBytes(200)
	m.AddUploadBytes(0) // no-op, should not panic or add a zero sample

	mfs, _ := m.registry.Gather()
	if !counterEquals(mfs, "test_upload_bytes_total", 150) {
		t.Error("expected upload_bytes_total to be 150")
	}
	if !counterEquals(mfs, "test_download_bytes_total", 200) {
		t.Error("expected download_bytes_total to be 200")
	}
}

func TestProgressAndPingCounters(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})

	m.RecordProgressEvent("upload")
	m.RecordProgressEvent("download")
	m.RecordProgressEvent("upload")
	m.RecordPingSent()

	mfs, _ := m.registry.Gather()
	if !counterEquals(mfs, "test_keepalive_pings_total", 1) {
		t.Error("expected keepalive_pings_total to be 1")
	}
}

func TestServerServesMetrics(t *testing.T) {
	m := NewClientMetrics(MetricsConfig{Namespace: "test", ExposeGoMetrics: false, ExposeProcessMetrics: false})
	m.RecordRequest("GET", "200")

	srv := NewServer(m, "127.0.0.1:0")
	_ = srv

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("unexpected error stopping idle server: %v", err)
	}
}

func gaugeEquals(mfs []*dto.MetricFamily, name string, want float64) bool {
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, metric := range mf.Metric {
				if metric.GetGauge().GetValue() == want {
					return true
				}
			}
		}
	}
	return false
}

func counterEquals(mfs []*dto.MetricFamily, name string, want float64) bool {
	for _, mf := range mfs {
		if mf.GetName() == name {
			var total float64
			for _, metric := range mf.Metric {
				total += metric.GetCounter().GetValue()
			}
			return total == want
		}
	}
	return false
}
