// Package pm keeps the 15-minute and 24-hour performance-monitoring windows
// of every sampled (resource, metric) pair.
package pm

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"codeberg.org/mutker/otnpmon/internal/store"
	"github.com/rs/zerolog"
)

// Period selects a window length.
type Period int

const (
	Short Period = iota
	Long
)

// Label is the prefix used in counter keys ("15" or "24").
func (p Period) Label() string {
	switch p {
	case Short:
		return "15"
	case Long:
		return "24"
	default:
		return "period(" + strconv.Itoa(int(p)) + ")"
	}
}

func (p Period) Interval() time.Duration {
	switch p {
	case Short:
		return 15 * time.Minute
	case Long:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (p Period) valid() bool {
	return p == Short || p == Long
}

// Persisted field names.
const (
	FieldStartTime = "starttime"
	FieldInstant   = "instant"
	FieldAvg       = "avg"
	FieldMin       = "min"
	FieldMax       = "max"
	FieldInterval  = "interval"
	FieldMinTime   = "min-time"
	FieldMaxTime   = "max-time"
	FieldValidity  = "validity"

	ValidityIncomplete = "incomplete"
	ValidityComplete   = "complete"
)

// CurrentKey is the COUNTERS key of the open window.
func CurrentKey(resource, metric string, p Period) string {
	return resource + "_" + metric + ":" + p.Label() + "_pm_current"
}

// HistoryKey is the HISTORY key of the window that opened at start (ns).
func HistoryKey(resource, metric string, p Period, start int64) string {
	return resource + "_" + metric + ":" + p.Label() + "_pm_history_" + strconv.FormatInt(start, 10)
}

// Window is the accumulator of one open period. StartTime zero means
// nothing was sampled yet.
type Window struct {
	StartTime int64
	Instant   float64
	Min       float64
	Max       float64
	MinTime   int64
	MaxTime   int64
	Sum       float64
	Count     int
	Avg       float64
}

func (w Window) fields(interval time.Duration, validity string) store.Fields {
	return store.Fields{
		FieldStartTime: strconv.FormatInt(w.StartTime, 10),
		FieldInstant:   formatFloat(w.Instant),
		FieldAvg:       formatMean(w.Avg),
		FieldMin:       formatFloat(w.Min),
		FieldMax:       formatFloat(w.Max),
		FieldInterval:  strconv.FormatInt(interval.Nanoseconds(), 10),
		FieldMinTime:   strconv.FormatInt(w.MinTime, 10),
		FieldMaxTime:   strconv.FormatInt(w.MaxTime, 10),
		FieldValidity:  validity,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatMean always carries a decimal point, so a whole average reads "21.0".
func formatMean(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return formatFloat(v)
}

// Series is one (resource, metric, period) window. Updates are serialized.
type Series struct {
	table    string
	resource string
	metric   string
	period   Period

	counters store.Client
	history  store.Client
	clock    clock.Clock
	metrics  metrics.Collector
	log      zerolog.Logger

	mu     sync.Mutex
	window Window
}

// Window returns a copy of the open window.
func (s *Series) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Update folds value into the window, archiving the previous window first
// when the current time falls into a new bucket.
func (s *Series) Update(ctx context.Context, value float64) error {
	if !s.period.valid() {
		s.log.Error().Str("metric", s.metric).Int("period", int(s.period)).Msg("Invalid PM period")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	interval := s.period.Interval()
	now := s.clock.Now().UnixNano()
	bucket := now / interval.Nanoseconds() * interval.Nanoseconds()

	if s.window.StartTime != 0 && s.window.StartTime != bucket {
		if err := s.archive(ctx, interval); err != nil {
			return err
		}
		s.window = Window{}
	}

	w := &s.window
	w.StartTime = bucket
	w.Instant = value
	if value < w.Min || w.MinTime == 0 {
		w.Min = value
		w.MinTime = now
	}
	if value > w.Max || w.MaxTime == 0 {
		w.Max = value
		w.MaxTime = now
	}
	w.Sum += value
	w.Count++
	w.Avg = math.Round(w.Sum/float64(w.Count)*10) / 10

	key := CurrentKey(s.resource, s.metric, s.period)
	if err := s.counters.Set(ctx, s.table, key, w.fields(interval, ValidityIncomplete)); err != nil {
		return errors.New().Wrap(ErrStoreAccess, err)
	}
	return nil
}

func (s *Series) archive(ctx context.Context, interval time.Duration) error {
	key := HistoryKey(s.resource, s.metric, s.period, s.window.StartTime)
	if err := s.history.Set(ctx, s.table, key, s.window.fields(interval, ValidityComplete)); err != nil {
		return errors.New().Wrap(ErrStoreAccess, err)
	}

	s.metrics.PmRollover(s.period.Label())
	s.log.Debug().
		Str("resource", s.resource).
		Str("metric", s.metric).
		Str("period", s.period.Label()).
		Int("count", s.window.Count).
		Msg("PM window archived")
	return nil
}

type Config struct {
	Router  *store.Router
	Clock   clock.Clock
	Metrics metrics.Collector
	Logger  zerolog.Logger
}

type seriesKey struct {
	table    string
	resource string
	metric   string
	period   Period
}

// Aggregator owns every Series of the process, created on first use.
type Aggregator struct {
	router  *store.Router
	clock   clock.Clock
	metrics metrics.Collector
	log     zerolog.Logger

	mu     sync.Mutex
	series map[seriesKey]*Series
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	return &Aggregator{
		router:  cfg.Router,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		series:  make(map[seriesKey]*Series),
	}
}

// Series returns the series for the given key, creating it if needed.
func (a *Aggregator) Series(table, resource, metric string, p Period) *Series {
	key := seriesKey{table: table, resource: resource, metric: metric, period: p}

	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.series[key]; ok {
		return s
	}
	s := &Series{
		table:    table,
		resource: resource,
		metric:   metric,
		period:   p,
		counters: a.router.For(resource, store.Counters),
		history:  a.router.For(resource, store.History),
		clock:    a.clock,
		metrics:  a.metrics,
		log:      a.log,
	}
	a.series[key] = s
	return s
}

// UpdateBoth feeds value into the short and the long series of metric.
func (a *Aggregator) UpdateBoth(ctx context.Context, table, resource, metric string, value float64) error {
	for _, p := range []Period{Short, Long} {
		if err := a.Series(table, resource, metric, p).Update(ctx, value); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets the in-memory windows of resource and deletes its current
// rows. History rows are kept.
func (a *Aggregator) Reset(ctx context.Context, resource string) error {
	a.mu.Lock()
	for key := range a.series {
		if key.resource == resource {
			delete(a.series, key)
		}
	}
	a.mu.Unlock()

	table, _, _ := strings.Cut(resource, "-")
	counters := a.router.For(resource, store.Counters)
	keys, err := counters.GetKeys(ctx, table)
	if err != nil {
		return errors.New().Wrap(ErrStoreAccess, err)
	}
	prefix := resource + "_"
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := counters.DeleteEntry(ctx, table, key); err != nil {
			return errors.New().Wrap(ErrStoreAccess, err)
		}
	}
	return nil
}
