package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/njoerd114/daydial/internal/config"
)

type exported struct {
	body     string
	severity otellog.Severity
	attrs    map[string]string
}

type recordingExporter struct {
	mu      sync.Mutex
	records []exported
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		x := exported{
			body:     r.Body().AsString(),
			severity: r.Severity(),
			attrs:    make(map[string]string),
		}
		r.WalkAttributes(func(kv otellog.KeyValue) bool {
			x.attrs[kv.Key] = kv.Value.String()
			return true
		})
		e.records = append(e.records, x)
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func newTestLogger(t *testing.T, level slog.Level) (*slog.Logger, *recordingExporter, *bytes.Buffer) {
	t.Helper()
	exp := &recordingExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewHandler(text, lp, "daydial/test")), exp, &buf
}

func TestHandler_ForwardsAndEmits(t *testing.T) {
	logger, exp, buf := newTestLogger(t, slog.LevelInfo)

	logger.Warn("upload failed", "id", "A", "attempt", 2, "retry", true)

	if !strings.Contains(buf.String(), "upload failed") {
		t.Errorf("text output missing message: %q", buf.String())
	}
	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	r := exp.records[0]
	if r.body != "upload failed" || r.severity != otellog.SeverityWarn {
		t.Errorf("record = %q/%v, want upload failed/WARN", r.body, r.severity)
	}
	if r.attrs["id"] != "A" || r.attrs["attempt"] != "2" || r.attrs["retry"] != "true" {
		t.Errorf("attrs = %v", r.attrs)
	}
}

func TestHandler_RespectsLevel(t *testing.T) {
	logger, exp, buf := newTestLogger(t, slog.LevelInfo)

	logger.Debug("noisy")

	if buf.Len() != 0 || len(exp.records) != 0 {
		t.Errorf("debug record leaked: text=%q exported=%d", buf.String(), len(exp.records))
	}
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	logger, exp, _ := newTestLogger(t, slog.LevelDebug)

	logger.With("component", "sync").WithGroup("stats").Info("sync complete",
		"created", 3,
		slog.Group("merge", "conflicts", 1),
	)

	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	attrs := exp.records[0].attrs
	for key, want := range map[string]string{
		"component":             "sync",
		"stats.created":         "3",
		"stats.merge.conflicts": "1",
	} {
		if attrs[key] != want {
			t.Errorf("%s = %q, want %q (all: %v)", key, attrs[key], want, attrs)
		}
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(nil, "1.0"); ok {
		t.Error("nil block should disable telemetry")
	}
	cfg, ok := FromConfig(&config.TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		Headers:      map[string]string{"Authorization": "Bearer x"},
	}, "1.2.3")
	if !ok {
		t.Fatal("expected telemetry enabled")
	}
	if cfg.OTLPEndpoint != "localhost:4317" || !cfg.Insecure || cfg.ServiceVersion != "1.2.3" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestSetup_EmptyEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if shutdown == nil {
		t.Fatal("shutdown must never be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestBuildResource(t *testing.T) {
	res, err := buildResource(Config{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != DefaultServiceName || got["service.version"] != "1.2.3" {
		t.Errorf("resource attrs = %v", got)
	}
}
