// Package alarm raises, clears and archives operator-visible alarms. Current
// alarms live in the STATE namespace, cleared ones are moved to HISTORY and
// expire after a week.
package alarm

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"codeberg.org/mutker/otnpmon/internal/store"
	"codeberg.org/mutker/otnpmon/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	TableCurrent = "CURALARM"
	TableHistory = "HISALARM"

	HistoryTTL = 7 * 24 * time.Hour
)

// Persisted field names.
const (
	FieldTimeCreated   = "time-created"
	FieldID            = "id"
	FieldResource      = "resource"
	FieldText          = "text"
	FieldTypeID        = "type-id"
	FieldSeverity      = "severity"
	FieldServiceAffect = "service-affect"
	FieldTimeCleared   = "time-cleared"
)

// Record is one current alarm.
type Record struct {
	ID            string
	Resource      string
	TypeID        string
	Severity      Severity
	ServiceAffect bool
	Text          string
	TimeCreated   int64
}

// Key returns the current-alarm key of typeID on resource.
func Key(resource, typeID string) string {
	return resource + "#" + typeID
}

// splitKey is the inverse of Key.
func splitKey(key string) (resource, typeID string, ok bool) {
	i := strings.LastIndexByte(key, '#')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

type Config struct {
	Router    *store.Router
	Clock     clock.Clock
	Metrics   metrics.Collector
	Publisher telemetry.Publisher
	Logger    zerolog.Logger
}

// Engine is safe for use by both control loops; the store is the only
// shared state.
type Engine struct {
	router    *store.Router
	clock     clock.Clock
	metrics   metrics.Collector
	publisher telemetry.Publisher
	log       zerolog.Logger
}

func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = telemetry.Noop()
	}
	return &Engine{
		router:    cfg.Router,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
	}
}

func wrap(err error) error {
	return errors.New().Wrap(ErrStoreAccess, err)
}

// Create raises typeID on resource unless it is already current. Unknown
// type ids are logged and ignored.
func (e *Engine) Create(ctx context.Context, resource, typeID string) error {
	def, ok := Lookup(typeID)
	if !ok {
		e.log.Warn().Str("resource", resource).Str("type_id", typeID).Msg("Unknown alarm type")
		return nil
	}

	id := Key(resource, typeID)
	current := e.router.For(resource, store.State)

	exists, err := current.Exists(ctx, TableCurrent, id)
	if err != nil {
		return wrap(err)
	}
	if exists {
		return nil
	}

	created := e.clock.Now().UnixNano()
	if err := current.Set(ctx, TableCurrent, id, store.Fields{
		FieldTimeCreated:   strconv.FormatInt(created, 10),
		FieldID:            id,
		FieldResource:      resource,
		FieldText:          def.Text,
		FieldTypeID:        typeID,
		FieldSeverity:      def.Severity.String(),
		FieldServiceAffect: strconv.FormatBool(def.ServiceAffect),
	}); err != nil {
		return wrap(err)
	}

	e.log.Warn().Str("alarm", id).Str("severity", def.Severity.String()).Msg("Alarm created")
	e.metrics.AlarmCreated(typeID, def.Severity.String())
	e.publish(ctx, telemetry.Event{
		Kind:          telemetry.AlarmCreated,
		ID:            id,
		Resource:      resource,
		TypeID:        typeID,
		Severity:      def.Severity.String(),
		ServiceAffect: def.ServiceAffect,
		Text:          def.Text,
		TimeCreated:   created,
	})

	return nil
}

// Clear moves typeID on resource to history. No-op when it is not current.
func (e *Engine) Clear(ctx context.Context, resource, typeID string) error {
	return e.archive(ctx, resource, Key(resource, typeID))
}

// CreateAndClearOthers archives every other current alarm of resource whose
// type id contains pattern (all of them when pattern is empty), then raises
// typeID.
func (e *Engine) CreateAndClearOthers(ctx context.Context, resource, typeID, pattern string) error {
	if _, ok := Lookup(typeID); !ok {
		e.log.Warn().Str("resource", resource).Str("type_id", typeID).Msg("Unknown alarm type")
		return nil
	}

	id := Key(resource, typeID)
	keys, err := e.keysOf(ctx, resource, pattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key == id {
			continue
		}
		if err := e.archive(ctx, resource, key); err != nil {
			return err
		}
	}

	return e.Create(ctx, resource, typeID)
}

// ClearBy archives every current alarm of resource whose type id contains
// pattern; an empty pattern clears them all.
func (e *Engine) ClearBy(ctx context.Context, resource, pattern string) error {
	keys, err := e.keysOf(ctx, resource, pattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := e.archive(ctx, resource, key); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll archives every current alarm of resource.
func (e *Engine) ClearAll(ctx context.Context, resource string) error {
	return e.ClearBy(ctx, resource, "")
}

// Exists reports whether typeID is current on resource.
func (e *Engine) Exists(ctx context.Context, resource, typeID string) (bool, error) {
	exists, err := e.router.For(resource, store.State).Exists(ctx, TableCurrent, Key(resource, typeID))
	if err != nil {
		return false, wrap(err)
	}
	return exists, nil
}

// ExistsByType reports whether any current alarm anywhere in the chassis
// has a type id containing typeID. The host partition is searched first,
// then every line-card slot.
func (e *Engine) ExistsByType(ctx context.Context, typeID string) (bool, error) {
	for _, partition := range e.router.Partitions() {
		keys, err := e.router.Partition(partition, store.State).GetKeys(ctx, TableCurrent)
		if err != nil {
			return false, wrap(err)
		}
		found := lo.ContainsBy(keys, func(key string) bool {
			_, t, ok := splitKey(key)
			return ok && strings.Contains(t, typeID)
		})
		if found {
			return true, nil
		}
	}
	return false, nil
}

// ExistsBySeverity reports whether any current alarm anywhere in the chassis
// has the given severity.
func (e *Engine) ExistsBySeverity(ctx context.Context, severity Severity) (bool, error) {
	want := severity.String()
	for _, partition := range e.router.Partitions() {
		client := e.router.Partition(partition, store.State)
		keys, err := client.GetKeys(ctx, TableCurrent)
		if err != nil {
			return false, wrap(err)
		}
		for _, key := range keys {
			value, ok, err := client.GetField(ctx, TableCurrent, key, FieldSeverity)
			if err != nil {
				return false, wrap(err)
			}
			if ok && value == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// Current lists the current alarms of resource ordered by key.
func (e *Engine) Current(ctx context.Context, resource string) ([]Record, error) {
	client := e.router.For(resource, store.State)
	keys, err := e.keysOf(ctx, resource, "")
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		fields, ok, err := client.GetEntry(ctx, TableCurrent, key)
		if err != nil {
			return nil, wrap(err)
		}
		if !ok {
			continue
		}
		records = append(records, recordFrom(fields))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func recordFrom(fields store.Fields) Record {
	severity, _ := ParseSeverity(fields[FieldSeverity])
	created, _ := strconv.ParseInt(fields[FieldTimeCreated], 10, 64)
	serviceAffect, _ := strconv.ParseBool(fields[FieldServiceAffect])
	return Record{
		ID:            fields[FieldID],
		Resource:      fields[FieldResource],
		TypeID:        fields[FieldTypeID],
		Severity:      severity,
		ServiceAffect: serviceAffect,
		Text:          fields[FieldText],
		TimeCreated:   created,
	}
}

// keysOf returns the current alarm keys owned by resource whose type id
// contains pattern.
func (e *Engine) keysOf(ctx context.Context, resource, pattern string) ([]string, error) {
	keys, err := e.router.For(resource, store.State).GetKeys(ctx, TableCurrent)
	if err != nil {
		return nil, wrap(err)
	}
	return lo.Filter(keys, func(key string, _ int) bool {
		r, t, ok := splitKey(key)
		return ok && r == resource && strings.Contains(t, pattern)
	}), nil
}

func (e *Engine) archive(ctx context.Context, resource, id string) error {
	current := e.router.For(resource, store.State)
	fields, ok, err := current.GetEntry(ctx, TableCurrent, id)
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return nil
	}
	if err := current.DeleteEntry(ctx, TableCurrent, id); err != nil {
		return wrap(err)
	}

	created := fields[FieldTimeCreated]
	if created == "" {
		created = "NA"
	}
	cleared := e.clock.Now().UnixNano()
	fields[FieldTimeCleared] = strconv.FormatInt(cleared, 10)

	history := e.router.For(resource, store.History)
	historyKey := id + "_" + created
	if err := history.Set(ctx, TableHistory, historyKey, fields); err != nil {
		return wrap(err)
	}
	if err := history.Expire(ctx, TableHistory, historyKey, HistoryTTL); err != nil {
		return wrap(err)
	}

	record := recordFrom(fields)
	e.log.Info().Str("alarm", id).Msg("Alarm cleared")
	e.metrics.AlarmCleared(record.TypeID, fields[FieldSeverity])
	e.publish(ctx, telemetry.Event{
		Kind:          telemetry.AlarmCleared,
		ID:            id,
		Resource:      resource,
		TypeID:        record.TypeID,
		Severity:      fields[FieldSeverity],
		ServiceAffect: record.ServiceAffect,
		Text:          record.Text,
		TimeCreated:   record.TimeCreated,
		TimeCleared:   cleared,
	})

	return nil
}

func (e *Engine) publish(ctx context.Context, event telemetry.Event) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.log.Debug().Err(err).Str("alarm", event.ID).Msg("Failed to publish alarm event")
	}
}
