package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGridSpanCarriesShape(t *testing.T) {
	rec := recordSpans(t)

	shape := GridShape{Rows: 4, Cols: 6, RowStep: 25, ColStep: 20}
	_, span := StartGridSpan(context.Background(), "BlankOffEarth", shape, AttrRasterRows.Int(75))
	EndSpan(span, nil, AttrBlanked.Int(12))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "geoloc.BlankOffEarth" {
		t.Fatalf("span name = %q", s.Name())
	}
	attrs := spanAttrs(s)
	want := map[attribute.Key]int64{
		AttrGridRows: 4, AttrGridCols: 6, AttrGridRowStep: 25, AttrGridColStep: 20,
		AttrRasterRows: 75, AttrBlanked: 12,
	}
	for k, v := range want {
		if got, ok := attrs[k]; !ok || got.AsInt64() != v {
			t.Fatalf("%s = %v, want %d", k, got.Emit(), v)
		}
	}
	if s.Status().Code == codes.Error {
		t.Fatalf("successful span has error status")
	}
}

func TestGridSpanLateShapeAndError(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartGridSpan(context.Background(), "BuildLosGrid", GridShape{})
	SetGridShape(span, GridShape{Rows: 3, Cols: 5, RowStep: 25, ColStep: 25})
	EndSpan(span, errors.New("no usable pixel to ground transform"), AttrMethod.String("affine"))

	s := rec.Ended()[0]
	attrs := spanAttrs(s)
	if attrs[AttrGridCols].AsInt64() != 5 || attrs[AttrMethod].AsString() != "affine" {
		t.Fatalf("attributes = %v", s.Attributes())
	}
	if s.Status().Code != codes.Error || !strings.Contains(s.Status().Description, "transform") {
		t.Fatalf("status = %+v, want error", s.Status())
	}
	if len(s.Events()) != 1 || s.Events()[0].Name != "exception" {
		t.Fatalf("events = %v, want one recorded error", s.Events())
	}
}

func TestGridSpanWithoutShape(t *testing.T) {
	rec := recordSpans(t)
	_, span := StartGridSpan(context.Background(), "BuildLosGrid", GridShape{})
	EndSpan(span, nil)
	if _, ok := spanAttrs(rec.Ended()[0])[AttrGridRows]; ok {
		t.Fatalf("zero shape recorded on span")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("GEOLOC_TRACING_ENABLED", "TRUE")
	t.Setenv("GEOLOC_TRACING_EXPORTER", "OTLP")
	t.Setenv("GEOLOC_TRACING_SERVICE_NAME", "")
	t.Setenv("GEOLOC_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("GEOLOC_OTLP_ENDPOINT", "collector:4317")

	cfg, err := TracingConfigFromEnv()
	if err != nil {
		t.Fatalf("TracingConfigFromEnv: %v", err)
	}
	if !cfg.Enabled || cfg.Exporter != ExporterOTLP || cfg.ServiceName != "opir-geoloc" ||
		cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("config = %+v", cfg)
	}

	t.Setenv("GEOLOC_TRACING_SAMPLE_RATIO", "1.5")
	if _, err := TracingConfigFromEnv(); err == nil {
		t.Fatalf("expected error for sample ratio 1.5")
	}
}

func TestInitTracingStdoutWritesToConfiguredWriter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "geoloc-test",
		Exporter:    ExporterStdout,
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartGridSpan(context.Background(), "BuildGCPList", GridShape{Rows: 2, Cols: 2, RowStep: 1, ColStep: 1})
	EndSpan(span, nil, AttrGCPs.Int(1))
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "geoloc.BuildGCPList") {
		t.Fatalf("exporter output missing span: %q", buf.String())
	}
}

func TestTracingDisabledInstallsNoop(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	t.Setenv("GEOLOC_TRACING_ENABLED", "false")

	cfg, err := TracingConfigFromEnv()
	if err != nil {
		t.Fatalf("TracingConfigFromEnv: %v", err)
	}
	shutdown, err := InitTracing(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := StartGridSpan(context.Background(), "BuildLosGrid", GridShape{Rows: 2, Cols: 2})
	if span.SpanContext().IsSampled() {
		t.Fatalf("noop tracer produced a sampled span")
	}
	EndSpan(span, nil)
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Fatalf("err = %v, want unsupported exporter", err)
	}
}
