package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	PersistReasonDeadlineExceeded     = "deadline_exceeded"
	PersistReasonDBLockTimeout        = "db_lock_timeout"
	PersistReasonSerializationFailure = "serialization_failure"
	PersistReasonUniqueViolation      = "unique_violation"
	PersistReasonDB                   = "db"
	PersistReasonRedis                = "redis"
	PersistReasonCodec                = "codec"
	PersistReasonUnknown              = "unknown"
)

// ErrCodec marks snapshot encode/decode failures so they classify as PersistReasonCodec.
var ErrCodec = errors.New("snapshot_codec")

// WorldMetrics exposes live governance state for the /metrics endpoint.
type WorldMetrics struct {
	religions          prometheus.Gauge
	civilizations      prometheus.Gauge
	members            prometheus.Gauge
	dirty              *prometheus.GaugeVec
	checkpointDuration *prometheus.HistogramVec
	persistErrors      *prometheus.CounterVec
}

var (
	worldMetricsOnce sync.Once
	worldMetrics     *WorldMetrics
)

// World returns the singleton world metrics registry.
func World() *WorldMetrics {
	return WorldWithConfig(Config{})
}

// WorldWithConfig returns the singleton world metrics registry using config labels.
func WorldWithConfig(cfg Config) *WorldMetrics {
	worldMetricsOnce.Do(func() {
		worldMetrics = newWorldMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return worldMetrics
}

// ResetWorldMetricsForTest resets the world metrics singleton for tests.
func ResetWorldMetricsForTest() {
	worldMetricsOnce = sync.Once{}
	worldMetrics = nil
}

func newWorldMetrics(registerer prometheus.Registerer, cfg Config) *WorldMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pantheon"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	religions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pantheon_religions_active",
		Help:        "Religions currently held by the registry.",
		ConstLabels: constLabels,
	})
	civilizations := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pantheon_civilizations_active",
		Help:        "Civilizations currently held by the registry.",
		ConstLabels: constLabels,
	})
	members := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pantheon_religion_members",
		Help:        "Players belonging to any religion.",
		ConstLabels: constLabels,
	})
	dirty := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "pantheon_registry_dirty",
		Help:        "1 when a registry holds changes that failed to persist and await the next checkpoint.",
		ConstLabels: constLabels,
	}, []string{"registry"})
	checkpointDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "pantheon_checkpoint_duration_seconds",
		Help:        "Checkpoint latency across both registries.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"result"})
	persistErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pantheon_persist_errors_total",
		Help:        "Persistence gateway errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"registry", "reason"})

	registerer.MustRegister(
		religions,
		civilizations,
		members,
		dirty,
		checkpointDuration,
		persistErrors,
	)

	return &WorldMetrics{
		religions:          religions,
		civilizations:      civilizations,
		members:            members,
		dirty:              dirty,
		checkpointDuration: checkpointDuration,
		persistErrors:      persistErrors,
	}
}

func (m *WorldMetrics) SetReligions(count, members int) {
	if m == nil {
		return
	}
	m.religions.Set(float64(count))
	m.members.Set(float64(members))
}

func (m *WorldMetrics) SetCivilizations(count int) {
	if m == nil {
		return
	}
	m.civilizations.Set(float64(count))
}

func (m *WorldMetrics) SetDirty(registry string, dirty bool) {
	if m == nil {
		return
	}
	value := 0.0
	if dirty {
		value = 1
	}
	m.dirty.WithLabelValues(registry).Set(value)
}

func (m *WorldMetrics) ObserveCheckpoint(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.checkpointDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *WorldMetrics) IncPersistError(registry string, err error) {
	if m == nil || err == nil {
		return
	}
	m.persistErrors.WithLabelValues(registry, ClassifyPersistReason(err)).Inc()
}

// ClassifyPersistReason maps gateway errors to low-cardinality reasons.
func ClassifyPersistReason(err error) string {
	if err == nil {
		return PersistReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return PersistReasonDeadlineExceeded
	}
	if errors.Is(err, ErrCodec) {
		return PersistReasonCodec
	}
	if hasPGCode(err, "55P03") {
		return PersistReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return PersistReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return PersistReasonUniqueViolation
	}
	if isDBError(err) {
		return PersistReasonDB
	}
	if isRedisError(err) {
		return PersistReasonRedis
	}
	return PersistReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func isRedisError(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.TxFailedErr) {
		return true
	}
	var redisErr redis.Error
	return errors.As(err, &redisErr)
}
