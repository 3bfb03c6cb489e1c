package observability

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "custody-relay-sim" {
		t.Fatalf("service name = %q", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "2")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Fatalf("ratio = %v, want default 1", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "step")
	if span.SpanContext().IsSampled() {
		t.Fatalf("noop tracer should not sample")
	}
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}

func TestTracingConfigFileExporter(t *testing.T) {
	t.Setenv("SIM_TRACING_EXPORTER", "file")
	t.Setenv("SIM_TRACING_FILE", "/tmp/spans.json")
	cfg := TracingConfigFromEnv()
	if cfg.Exporter != ExporterFile || cfg.Endpoint != "/tmp/spans.json" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("SIM_TRACING_EXPORTER", "")
	if cfg := TracingConfigFromEnv(); cfg.Exporter != ExporterStderr {
		t.Fatalf("default exporter = %q, want stderr", cfg.Exporter)
	}
}

func TestInitTracingWritesSpansToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "test",
		Exporter:    ExporterFile,
		Endpoint:    path,
		SampleRatio: 1,
		Attributes:  []attribute.KeyValue{attribute.Int64("sim.seed", 7)},
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := Tracer().Start(context.Background(), "simulation.step")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read spans: %v", err)
	}
	if !strings.Contains(string(data), "simulation.step") || !strings.Contains(string(data), "sim.seed") {
		t.Fatalf("span file missing step span or resource attribute:\n%s", data)
	}
}

func TestInitTracingFileExporterNeedsPath(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: ExporterFile}, nil); err == nil {
		t.Fatalf("expected missing path error")
	}
}
