package metrics

import (
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

type service struct {
	registry *prometheus.Registry

	alarmsCreated   *prometheus.CounterVec
	alarmsCleared   *prometheus.CounterVec
	pmRollovers     *prometheus.CounterVec
	syncTotal       *prometheus.CounterVec
	syncLatency     *prometheus.HistogramVec
	slotStatus      *prometheus.GaugeVec
	fanLevel        *prometheus.GaugeVec
	fanLevelChanges *prometheus.CounterVec
	hwRetries       *prometheus.CounterVec
	hwFailures      *prometheus.CounterVec

	mu         sync.Mutex
	lastStatus map[string]string
}

// No-op implementation
type noopCollector struct{}

// Noop returns a Collector that records nothing.
func Noop() Collector {
	return noopCollector{}
}

// NewService returns a Prometheus backed Collector, or a no-op one when
// collection is disabled.
func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Metrics collection disabled, using no-op collector")
		return Noop(), nil
	}

	s := &service{
		registry:   prometheus.NewRegistry(),
		lastStatus: make(map[string]string),
		alarmsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_created_total",
				Help: "Total alarms raised by type and severity",
			},
			[]string{"type_id", "severity"},
		),
		alarmsCleared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_cleared_total",
				Help: "Total alarms moved to history by type and severity",
			},
			[]string{"type_id", "severity"},
		),
		pmRollovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pm_rollovers_total",
				Help: "Total PM windows archived by period",
			},
			[]string{"period"},
		),
		syncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_total",
				Help: "Total peripheral synchronizations by type and result",
			},
			[]string{"periph_type", "result"},
		),
		syncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sync_latency_seconds",
				Help:    "Peripheral synchronization latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"periph_type"},
		),
		slotStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "slot_status",
				Help: "1 for the current slot status of each resource",
			},
			[]string{"resource", "status"},
		),
		fanLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "fan_control_level",
				Help: "Current fan control level",
			},
			[]string{"fan"},
		),
		fanLevelChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fan_level_changes_total",
				Help: "Total fan control level changes by direction",
			},
			[]string{"direction"},
		),
		hwRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "hardware_retries_total",
				Help: "Total failed hardware call attempts by action",
			},
			[]string{"action"},
		),
		hwFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "hardware_failures_total",
				Help: "Total hardware calls that exhausted their retries by action",
			},
			[]string{"action"},
		),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.alarmsCreated,
		s.alarmsCleared,
		s.pmRollovers,
		s.syncTotal,
		s.syncLatency,
		s.slotStatus,
		s.fanLevel,
		s.fanLevelChanges,
		s.hwRetries,
		s.hwFailures,
	} {
		if err := s.registry.Register(c); err != nil {
			return nil, errFactory.Wrap(ErrRegisterFailed, err)
		}
	}

	logger.Debug().
		Str("listen", cfg.Listen).
		Msg("Metrics service initialized successfully")

	return s, nil
}

func (s *service) AlarmCreated(typeID, severity string) {
	s.alarmsCreated.WithLabelValues(typeID, severity).Inc()
}

func (s *service) AlarmCleared(typeID, severity string) {
	s.alarmsCleared.WithLabelValues(typeID, severity).Inc()
}

func (s *service) PmRollover(period string) {
	s.pmRollovers.WithLabelValues(period).Inc()
}

func (s *service) SyncCompleted(periphType string, elapsed time.Duration, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	s.syncTotal.WithLabelValues(periphType, result).Inc()
	s.syncLatency.WithLabelValues(periphType).Observe(elapsed.Seconds())
}

func (s *service) SlotStatus(resource, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastStatus[resource]; ok && last != status {
		s.slotStatus.DeleteLabelValues(resource, last)
	}
	s.lastStatus[resource] = status
	s.slotStatus.WithLabelValues(resource, status).Set(1)
}

func (s *service) FanLevel(fan string, level int) {
	s.fanLevel.WithLabelValues(fan).Set(float64(level))
}

func (s *service) FanLevelChanged(direction string) {
	s.fanLevelChanges.WithLabelValues(direction).Inc()
}

func (s *service) HardwareRetry(action string) {
	s.hwRetries.WithLabelValues(action).Inc()
}

func (s *service) HardwareFailure(action string) {
	s.hwFailures.WithLabelValues(action).Inc()
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (*service) IsEnabled() bool {
	return true
}

// No-op implementation
func (noopCollector) AlarmCreated(_, _ string)                         {}
func (noopCollector) AlarmCleared(_, _ string)                         {}
func (noopCollector) PmRollover(_ string)                              {}
func (noopCollector) SyncCompleted(_ string, _ time.Duration, _ error) {}
func (noopCollector) SlotStatus(_, _ string)                           {}
func (noopCollector) FanLevel(_ string, _ int)                         {}
func (noopCollector) FanLevelChanged(_ string)                         {}
func (noopCollector) HardwareRetry(_ string)                           {}
func (noopCollector) HardwareFailure(_ string)                         {}
func (noopCollector) Handler() http.Handler                            { return nil }
func (noopCollector) IsEnabled() bool                                  { return false }
