// Package telemetry sets up tracing, metrics and structured logging.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheusmosca/marketplace-ledger/internal/config"
)

// Providers bundles what the rest of the service needs from telemetry.
type Providers struct {
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger

	shutdownFuncs []func(context.Context) error
}

// Shutdown flushes exporters and syncs the logger.
func (p *Providers) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range p.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	p.shutdownFuncs = nil
	_ = p.Logger.Sync()
	return err
}

// Setup configures OpenTelemetry exporters when enabled and always returns a
// usable logger.
func Setup(ctx context.Context, cfg config.Telemetry) (*Providers, error) {
	p := &Providers{
		TracerProvider: otel.GetTracerProvider(),
		Logger:         NewLogger(cfg.Service, nil),
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		p.Logger.Info("Telemetry export disabled, using no-op providers")
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.Service),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := initTracer(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	p.TracerProvider = tp
	p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)

	mp, err := initMetrics(ctx, cfg, res)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize metrics: %w", err), p.Shutdown(ctx))
	}
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	lp, err := initLogs(ctx, cfg, res)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize logs: %w", err), p.Shutdown(ctx))
	}
	p.shutdownFuncs = append(p.shutdownFuncs, lp.Shutdown)

	p.Logger = NewLogger(cfg.Service, lp)
	p.Logger.Info("Logger re-initialized with OpenTelemetry bridge")
	return p, nil
}

func initTracer(ctx context.Context, cfg config.Telemetry, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func initMetrics(ctx context.Context, cfg config.Telemetry, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

func initLogs(ctx context.Context, cfg config.Telemetry, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.Endpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)
	return lp, nil
}

// NewLogger builds the JSON console logger, teed into the OTel log bridge
// when lp is not nil.
func NewLogger(service string, lp *sdklog.LoggerProvider) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	if lp != nil {
		core = zapcore.NewTee(core, otelzap.NewCore(service, otelzap.WithLoggerProvider(lp)))
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", service)),
	)
}

// Counter creates an Int64Counter on the global meter, falling back to a
// no-op counter if the instrument cannot be registered.
func Counter(scope, name, description string) metric.Int64Counter {
	counter, err := otel.Meter(scope).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return counter
}
