package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	fulfillmentAttempts metric.Int64Counter
	fulfillmentOutcomes metric.Int64Counter
	circuitOpened       metric.Int64Counter
	webhookEvents       metric.Int64Counter
	inboxRetries        metric.Int64Counter
	inboxDead           metric.Int64Counter
	lockAcquisitions    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "simbridge"
	}
	meter := provider.Meter(name)

	fulfillmentAttempts, err := meter.Int64Counter("simbridge_fulfillment_attempts_total")
	if err != nil {
		return nil, err
	}
	fulfillmentOutcomes, err := meter.Int64Counter("simbridge_fulfillment_outcomes_total")
	if err != nil {
		return nil, err
	}
	circuitOpened, err := meter.Int64Counter("simbridge_circuit_opened_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("simbridge_webhook_events_total")
	if err != nil {
		return nil, err
	}
	inboxRetries, err := meter.Int64Counter("simbridge_inbox_retries_total")
	if err != nil {
		return nil, err
	}
	inboxDead, err := meter.Int64Counter("simbridge_inbox_dead_total")
	if err != nil {
		return nil, err
	}
	lockAcquisitions, err := meter.Int64Counter("simbridge_lock_acquisitions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		fulfillmentAttempts: fulfillmentAttempts,
		fulfillmentOutcomes: fulfillmentOutcomes,
		circuitOpened:       circuitOpened,
		webhookEvents:       webhookEvents,
		inboxRetries:        inboxRetries,
		inboxDead:           inboxDead,
		lockAcquisitions:    lockAcquisitions,
	}, nil
}

func (m *Metrics) RecordFulfillmentAttempt(ctx context.Context, provider string) {
	if m == nil || m.fulfillmentAttempts == nil {
		return
	}
	m.fulfillmentAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

func (m *Metrics) RecordFulfillmentOutcome(ctx context.Context, outcome string, provider string) {
	if m == nil || m.fulfillmentOutcomes == nil {
		return
	}
	m.fulfillmentOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("provider", provider),
	))
}

func (m *Metrics) RecordCircuitOpened(ctx context.Context, provider string) {
	if m == nil || m.circuitOpened == nil {
		return
	}
	m.circuitOpened.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordInboxRetry(ctx context.Context) {
	if m == nil || m.inboxRetries == nil {
		return
	}
	m.inboxRetries.Add(ctx, 1)
}

func (m *Metrics) RecordInboxDead(ctx context.Context) {
	if m == nil || m.inboxDead == nil {
		return
	}
	m.inboxDead.Add(ctx, 1)
}

func (m *Metrics) RecordLockAcquisition(ctx context.Context, name string, acquired bool) {
	if m == nil || m.lockAcquisitions == nil {
		return
	}
	m.lockAcquisitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.Bool("acquired", acquired),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch protocol {
	case "grpc", "":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
