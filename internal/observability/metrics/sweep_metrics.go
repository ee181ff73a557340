package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SweepResultSettled       = "settled"
	SweepResultAlreadyGone   = "already_gone"
	SweepResultCaptureFailed = "capture_failed"
	SweepResultDBFailed      = "db_failed"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

// SweepMetrics are prometheus collectors for the settlement sweep. The batch
// registers them on its own registry and pushes that registry on exit.
type SweepMetrics struct {
	runs            prometheus.Counter
	rows            *prometheus.CounterVec
	rowErrors       *prometheus.CounterVec
	captureDuration prometheus.Histogram
	lockWait        prometheus.Histogram
	dueRows         prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

func NewSweepMetrics(registerer prometheus.Registerer, cfg Config) (*SweepMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "consultly"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SweepMetrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "consultly_settlement_sweep_runs_total",
			Help:        "Settlement sweep runs.",
			ConstLabels: constLabels,
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "consultly_settlement_sweep_rows_total",
			Help:        "Settlement rows handled by the sweep, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		rowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "consultly_settlement_sweep_row_errors_total",
			Help:        "Settlement rows that failed, by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "consultly_settlement_capture_duration_seconds",
			Help:        "Latency of gateway capture calls made by the sweep.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			ConstLabels: constLabels,
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "consultly_settlement_lock_wait_seconds",
			Help:        "Time spent acquiring the settlement row lock.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: constLabels,
		}),
		dueRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "consultly_settlement_sweep_due_rows",
			Help:        "Settlements selected as due in the last run.",
			ConstLabels: constLabels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "consultly_settlement_sweep_last_success_timestamp_seconds",
			Help:        "Unix time of the last run without failed rows.",
			ConstLabels: constLabels,
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.rows, m.rowErrors, m.captureDuration, m.lockWait, m.dueRows, m.lastSuccess} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SweepMetrics) IncRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

func (m *SweepMetrics) SetDueRows(n int) {
	if m == nil {
		return
	}
	m.dueRows.Set(float64(n))
}

func (m *SweepMetrics) IncRow(result string) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(result).Inc()
}

func (m *SweepMetrics) IncRowError(err error) {
	if m == nil || err == nil {
		return
	}
	m.rowErrors.WithLabelValues(ClassifyErrorReason(err)).Inc()
}

func (m *SweepMetrics) ObserveCapture(d time.Duration) {
	if m == nil {
		return
	}
	m.captureDuration.Observe(d.Seconds())
}

func (m *SweepMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *SweepMetrics) MarkSuccess(at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(at.Unix()))
}

// ClassifyErrorReason maps errors to low-cardinality reasons for metrics and logs.
func ClassifyErrorReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case isDBError(err):
		return ReasonDB
	default:
		return ReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
