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

const (
	RegistryReligion     = "religion"
	RegistryCivilization = "civilization"

	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes governance instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	operations      metric.Int64Counter
	persistFailures metric.Int64Counter
	checkpoints     metric.Int64Counter
	invitesExpired  metric.Int64Counter
	autoDisbands    metric.Int64Counter
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

// New configures the governance metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pantheon"
	}
	meter := provider.Meter(name)

	operations, err := meter.Int64Counter("pantheon_governance_operations_total")
	if err != nil {
		return nil, err
	}
	persistFailures, err := meter.Int64Counter("pantheon_persist_failures_total")
	if err != nil {
		return nil, err
	}
	checkpoints, err := meter.Int64Counter("pantheon_checkpoints_total")
	if err != nil {
		return nil, err
	}
	invitesExpired, err := meter.Int64Counter("pantheon_invites_expired_total")
	if err != nil {
		return nil, err
	}
	autoDisbands, err := meter.Int64Counter("pantheon_auto_disbands_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operations:      operations,
		persistFailures: persistFailures,
		checkpoints:     checkpoints,
		invitesExpired:  invitesExpired,
		autoDisbands:    autoDisbands,
	}, nil
}

// RecordOperation counts a registry operation by outcome. Rejections carry the error code as reason.
func (m *Metrics) RecordOperation(ctx context.Context, registry, operation string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	reason := ""
	if err != nil {
		outcome = OutcomeRejected
		reason = err.Error()
	}
	attrs := FilterAttributes(
		attribute.String("registry", registry),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	)
	m.operations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPersistFailure counts a failed write-through or checkpoint store.
func (m *Metrics) RecordPersistFailure(ctx context.Context, registry, key string, err error) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("registry", registry),
		attribute.String("key", strings.TrimSpace(key)),
		attribute.String("reason", ClassifyPersistReason(err)),
	)
	m.persistFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCheckpoint counts checkpoint runs by outcome.
func (m *Metrics) RecordCheckpoint(ctx context.Context, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = ClassifyPersistReason(err)
	}
	m.checkpoints.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

// RecordInvitesExpired counts invites swept by cleanup.
func (m *Metrics) RecordInvitesExpired(ctx context.Context, registry string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("registry", registry))
	m.invitesExpired.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordAutoDisband counts civilizations dissolved as a side effect.
func (m *Metrics) RecordAutoDisband(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.autoDisbands.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"registry":    {},
	"operation":   {},
	"outcome":     {},
	"reason":      {},
	"key":         {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Player, religion and civilization ids never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.AsString() == "" && attr.Value.Type() == attribute.STRING {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
