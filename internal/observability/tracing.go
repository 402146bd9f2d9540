package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/opir-geoloc/internal/logging"
)

// instrumentation is the tracer name of every geolocation span.
const instrumentation = "github.com/signalsfoundry/opir-geoloc"

// Span attribute keys.
const (
	AttrGridRows     = attribute.Key("geoloc.grid.rows")
	AttrGridCols     = attribute.Key("geoloc.grid.cols")
	AttrGridRowStep  = attribute.Key("geoloc.grid.row_step")
	AttrGridColStep  = attribute.Key("geoloc.grid.col_step")
	AttrMethod       = attribute.Key("geoloc.method")
	AttrOnEarthNodes = attribute.Key("geoloc.on_earth_nodes")
	AttrSubstituted  = attribute.Key("geoloc.observer_substituted")
	AttrNaturalGCPs  = attribute.Key("geoloc.gcp.natural")
	AttrDecimation   = attribute.Key("geoloc.gcp.decimation")
	AttrGCPs         = attribute.Key("geoloc.gcp.count")
	AttrRasterRows   = attribute.Key("geoloc.raster.rows")
	AttrRasterCols   = attribute.Key("geoloc.raster.cols")
	AttrBlanked      = attribute.Key("geoloc.blank.pixels")
)

// Exporters accepted in TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig governs how geolocation tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	Endpoint    string // OTLP gRPC collector address
	SampleRatio float64
	Writer      io.Writer // stdout exporter output, os.Stderr when nil
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// TracingConfigFromEnv reads GEOLOC_TRACING_ENABLED, _EXPORTER,
// _SERVICE_NAME, _SAMPLE_RATIO and GEOLOC_OTLP_ENDPOINT. A sample ratio
// outside [0, 1] is an error.
func TracingConfigFromEnv() (TracingConfig, error) {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("GEOLOC_TRACING_ENABLED"), "true"),
		ServiceName: envDefault("GEOLOC_TRACING_SERVICE_NAME", "opir-geoloc"),
		Exporter:    strings.ToLower(envDefault("GEOLOC_TRACING_EXPORTER", ExporterStdout)),
		Endpoint:    envDefault("GEOLOC_OTLP_ENDPOINT", "localhost:4317"),
		SampleRatio: 1,
	}
	if raw := os.Getenv("GEOLOC_TRACING_SAMPLE_RATIO"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return cfg, fmt.Errorf("GEOLOC_TRACING_SAMPLE_RATIO %q: want a number in [0, 1]", raw)
		}
		cfg.SampleRatio = ratio
	}
	return cfg, nil
}

// InitTracing installs the global tracer provider. When tracing is
// disabled a noop provider is installed and the returned shutdown does
// nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "geoloc"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	case ExporterOTLP, "otlpgrpc":
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
}

// GridShape is the layout of the grid an operation works on.
type GridShape struct {
	Rows, Cols       int
	RowStep, ColStep int
}

func (s GridShape) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrGridRows.Int(s.Rows),
		AttrGridCols.Int(s.Cols),
		AttrGridRowStep.Int(s.RowStep),
		AttrGridColStep.Int(s.ColStep),
	}
}

// StartGridSpan starts the span "geoloc.<op>" carrying the grid shape. A
// zero shape, for operations that do not know it yet, is left off and can
// be added later with SetGridShape.
func StartGridSpan(ctx context.Context, op string, shape GridShape, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if shape != (GridShape{}) {
		attrs = append(shape.attributes(), attrs...)
	}
	return otel.Tracer(instrumentation).Start(ctx, "geoloc."+op, trace.WithAttributes(attrs...))
}

// SetGridShape records the grid shape on span.
func SetGridShape(span trace.Span, shape GridShape) {
	span.SetAttributes(shape.attributes()...)
}

// EndSpan records err, if any, plus attrs and ends span.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ShutdownWithTimeout flushes spans through shutdown, waiting at most five
// seconds. Failures are logged.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
