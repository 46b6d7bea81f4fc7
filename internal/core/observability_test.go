package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatalf("expected generated name")
	}
	rec.Observe(context.Background(), "list", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "list", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond) // ignored

	snapshot := rec.Snapshot()
	if snapshot.DurationsMS["list"] != 25 {
		t.Fatalf("expected 25ms total, got %v", snapshot.DurationsMS)
	}
	if snapshot.Results["list"]["success"] != 1 || snapshot.Results["list"]["error"] != 1 {
		t.Fatalf("unexpected result counters: %v", snapshot.Results)
	}
}

func TestJSONTracerRecordsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)

	_, span := tracer.Start(context.Background(), "publish")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "close")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected spans: %+v", entries)
	}
	if !strings.Contains(buf.String(), `"operation":"publish"`) {
		t.Fatalf("span not encoded to writer: %s", buf.String())
	}
}

func TestPrometheusMetricsRecorderRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(registry)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "list", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "list", false, 10*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	if !names["vigiecore_registry_operation_duration_seconds"] || !names["vigiecore_registry_operation_results_total"] {
		t.Fatalf("expected both metric families, got %v", names)
	}

	// Registering twice on the same registry must fail loudly.
	if _, err := NewPrometheusMetricsRecorder(registry); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
