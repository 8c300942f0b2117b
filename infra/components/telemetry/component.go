package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// TelemetryComponent installs global otel tracer/meter providers.
type TelemetryComponent struct {
	*core.BaseComponent
	cfg      *Config
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	closers  []func(context.Context) error
	stdoutTo io.Writer
}

func NewTelemetryComponent(cfg *Config) *TelemetryComponent {
	ApplyDefaults(cfg)
	return &TelemetryComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_TELEMETRY, consts.COMPONENT_LOGGING),
		cfg:           cfg,
	}
}

func (tc *TelemetryComponent) Start(ctx context.Context) error {
	if tc.cfg.ServiceName == "" {
		return errors.New("telemetry service_name must be set")
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(tc.cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("resource init: %w", err)
	}
	spanExp, metricExp, err := tc.exporters(ctx)
	if err != nil {
		tc.shutdown(ctx)
		return err
	}
	tc.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	tc.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(tc.cfg.MetricInterval))),
	)
	tc.closers = append(tc.closers, tc.tp.Shutdown, tc.mp.Shutdown)

	otel.SetTracerProvider(tc.tp)
	otel.SetMeterProvider(tc.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logging.Info(ctx, "telemetry started",
		zap.String("exporter", string(tc.cfg.Exporter)),
		zap.Float64("sample_ratio", tc.cfg.SampleRatio),
		zap.String("service_name", tc.cfg.ServiceName),
	)
	return tc.BaseComponent.Start(ctx)
}

func (tc *TelemetryComponent) exporters(ctx context.Context) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	switch tc.cfg.Exporter {
	case ExporterStdout:
		w, err := tc.stdoutWriter()
		if err != nil {
			return nil, nil, err
		}
		topts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if tc.cfg.StdoutPretty {
			topts = append(topts, stdouttrace.WithPrettyPrint())
		}
		se, err := stdouttrace.New(topts...)
		if err != nil {
			return nil, nil, fmt.Errorf("trace exporter init: %w", err)
		}
		me, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("metric exporter init: %w", err)
		}
		return se, me, nil
	case ExporterOTLP:
		o := tc.cfg.OTLP
		if o == nil || o.Endpoint == "" {
			return nil, nil, errors.New("otlp exporter selected but otlp.endpoint empty")
		}
		topts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint), otlptracegrpc.WithTimeout(o.Timeout)}
		mopts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(o.Endpoint), otlpmetricgrpc.WithTimeout(o.Timeout)}
		if o.Insecure {
			topts = append(topts, otlptracegrpc.WithInsecure())
			mopts = append(mopts, otlpmetricgrpc.WithInsecure())
		}
		se, err := otlptracegrpc.New(ctx, topts...)
		if err != nil {
			return nil, nil, fmt.Errorf("trace exporter init: %w", err)
		}
		me, err := otlpmetricgrpc.New(ctx, mopts...)
		if err != nil {
			_ = se.Shutdown(ctx)
			return nil, nil, fmt.Errorf("metric exporter init: %w", err)
		}
		return se, me, nil
	default:
		return nil, nil, fmt.Errorf("unsupported exporter: %s", tc.cfg.Exporter)
	}
}

func (tc *TelemetryComponent) stdoutWriter() (io.Writer, error) {
	if tc.stdoutTo != nil {
		return tc.stdoutTo, nil
	}
	if tc.cfg.StdoutFile == "" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(tc.cfg.StdoutFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry stdout file: %w", err)
	}
	tc.closers = append(tc.closers, func(context.Context) error { return f.Close() })
	return f, nil
}

func (tc *TelemetryComponent) Stop(ctx context.Context) error {
	err := tc.shutdown(ctx)
	_ = tc.BaseComponent.Stop(ctx)
	return err
}

func (tc *TelemetryComponent) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(tc.closers) - 1; i >= 0; i-- {
		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := tc.closers[i](c); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	tc.closers = nil
	return errors.Join(errs...)
}

func (tc *TelemetryComponent) HealthCheck() error {
	if err := tc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if tc.tp == nil || tc.mp == nil {
		return errors.New("telemetry providers not initialized")
	}
	return nil
}

// Tracer falls back to the global provider before Start.
func (tc *TelemetryComponent) Tracer(name string) trace.Tracer {
	if tc.tp == nil {
		return otel.Tracer(name)
	}
	return tc.tp.Tracer(name)
}
