// Package observability publishes fleet metrics over OpenTelemetry. Metrics
// are exported via OTLP gRPC when an endpoint is configured; otherwise every
// instrument is a no-op and call sites stay unconditional.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metric provider.
type Config struct {
	ServiceName  string
	WorkerID     string
	OTLPEndpoint string // empty disables export
}

// Metrics owns the meter provider and the fleet instruments.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	workerID attribute.KeyValue

	tasksLeased     metric.Int64Counter
	tasksCompleted  metric.Int64Counter
	tasksReturned   metric.Int64Counter
	tasksErrored    metric.Int64Counter
	proxiesLeased   metric.Int64Counter
	proxiesBlocked  metric.Int64Counter
	proxiesReleased metric.Int64Counter
	captchaSolved   metric.Int64Counter
	captchaUnsolved metric.Int64Counter
	cardsParsed     metric.Int64Counter
	taskDuration    metric.Float64Histogram
}

// New builds the metrics handle. With no endpoint configured the global
// (no-op) meter provider is used, so instruments exist but record nothing.
func New(ctx context.Context, cfg Config) (*Metrics, error) {
	m := &Metrics{workerID: attribute.String("worker.id", cfg.WorkerID)}

	meterProvider := otel.GetMeterProvider()
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}

		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		))
		if err != nil {
			return nil, fmt.Errorf("build otel resource: %w", err)
		}

		m.provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(15*time.Second))),
		)
		meterProvider = m.provider
	}

	meter := meterProvider.Meter("avitofleet")

	var err error
	if m.tasksLeased, err = meter.Int64Counter("fleet.tasks.leased",
		metric.WithDescription("Tasks leased from the queue")); err != nil {
		return nil, err
	}
	if m.tasksCompleted, err = meter.Int64Counter("fleet.tasks.completed",
		metric.WithDescription("Tasks completed (DONE)")); err != nil {
		return nil, err
	}
	if m.tasksReturned, err = meter.Int64Counter("fleet.tasks.returned",
		metric.WithDescription("Tasks returned to the queue")); err != nil {
		return nil, err
	}
	if m.tasksErrored, err = meter.Int64Counter("fleet.tasks.errored",
		metric.WithDescription("Tasks marked ERROR")); err != nil {
		return nil, err
	}
	if m.proxiesLeased, err = meter.Int64Counter("fleet.proxies.leased",
		metric.WithDescription("Proxies leased")); err != nil {
		return nil, err
	}
	if m.proxiesBlocked, err = meter.Int64Counter("fleet.proxies.blocked",
		metric.WithDescription("Proxies moved to terminal BLOCKED")); err != nil {
		return nil, err
	}
	if m.proxiesReleased, err = meter.Int64Counter("fleet.proxies.released",
		metric.WithDescription("Proxies released back to FREE")); err != nil {
		return nil, err
	}
	if m.captchaSolved, err = meter.Int64Counter("fleet.captcha.solved",
		metric.WithDescription("Captcha challenges solved")); err != nil {
		return nil, err
	}
	if m.captchaUnsolved, err = meter.Int64Counter("fleet.captcha.unsolved",
		metric.WithDescription("Captcha challenges given up on")); err != nil {
		return nil, err
	}
	if m.cardsParsed, err = meter.Int64Counter("fleet.cards.parsed",
		metric.WithDescription("Catalog cards persisted")); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram("fleet.task.duration",
		metric.WithDescription("End-to-end task duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) TaskLeased(ctx context.Context) {
	m.tasksLeased.Add(ctx, 1, metric.WithAttributes(m.workerID))
}

func (m *Metrics) TaskCompleted(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(m.workerID, attribute.String("status", status))
	m.tasksCompleted.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) TaskReturned(ctx context.Context, reason string) {
	m.tasksReturned.Add(ctx, 1,
		metric.WithAttributes(m.workerID, attribute.String("reason", reason)))
}

func (m *Metrics) TaskErrored(ctx context.Context) {
	m.tasksErrored.Add(ctx, 1, metric.WithAttributes(m.workerID))
}

func (m *Metrics) ProxyLeased(ctx context.Context) {
	m.proxiesLeased.Add(ctx, 1, metric.WithAttributes(m.workerID))
}

func (m *Metrics) ProxyBlocked(ctx context.Context, reason string) {
	m.proxiesBlocked.Add(ctx, 1,
		metric.WithAttributes(m.workerID, attribute.String("reason", reason)))
}

func (m *Metrics) ProxyReleased(ctx context.Context) {
	m.proxiesReleased.Add(ctx, 1, metric.WithAttributes(m.workerID))
}

func (m *Metrics) CaptchaResolved(ctx context.Context, solved bool) {
	if solved {
		m.captchaSolved.Add(ctx, 1, metric.WithAttributes(m.workerID))
		return
	}
	m.captchaUnsolved.Add(ctx, 1, metric.WithAttributes(m.workerID))
}

func (m *Metrics) CardsParsed(ctx context.Context, n int) {
	m.cardsParsed.Add(ctx, int64(n), metric.WithAttributes(m.workerID))
}

// Shutdown flushes pending exports. Safe to call when export was disabled.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
