package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteConfig configures the persistent backend.
type SQLiteConfig struct {
	Path string
	// PurgeInterval enables the background sweep of expired records when
	// positive. Expired records are invisible to readers either way.
	PurgeInterval time.Duration
	Clock         clock.Clock
	Logger        zerolog.Logger
}

type sqliteStore struct {
	db           *sql.DB
	clock        clock.Clock
	logger       zerolog.Logger
	mu           sync.Mutex
	purgeTicker  *time.Ticker
	shutdownChan chan struct{}
	purgeDone    chan struct{}
}

// NewSQLite opens (creating if needed) the store database at cfg.Path.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (Store, error) {
	errFactory := errors.New()

	if cfg.Path == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Path,
			Error: err.Error(),
		})
	}

	dsn := cfg.Path + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// every loop shares one writer
	db.SetMaxOpenConns(1)

	backupDir := filepath.Join(filepath.Dir(cfg.Path), "backups")
	if err := ValidateAndUpdateSchema(ctx, db, backupDir, cfg.Logger); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	cfg.Logger.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Dur("purge_interval", cfg.PurgeInterval).
		Msg("Store initialized")

	s := &sqliteStore{
		db:           db,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		shutdownChan: make(chan struct{}),
		purgeDone:    make(chan struct{}),
	}

	if cfg.PurgeInterval > 0 {
		s.purgeTicker = time.NewTicker(cfg.PurgeInterval)
		go s.purger()
	} else {
		close(s.purgeDone)
	}

	return s, nil
}

func (s *sqliteStore) Client(partition int, ns Namespace) Client {
	return &sqliteClient{store: s, partition: partition, namespace: ns}
}

func (s *sqliteStore) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purge(ctx)
}

func (s *sqliteStore) purge(ctx context.Context) (int, error) {
	errFactory := errors.New()
	now := s.clock.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.QueryRowContext(ctx, countExpiredSQL, now).Scan(&count); err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	if count == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, purgeEntriesSQL, now); err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	if _, err := tx.ExecContext(ctx, purgeExpirationsSQL, now); err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	return count, nil
}

func (s *sqliteStore) purger() {
	defer close(s.purgeDone)

	for {
		select {
		case <-s.purgeTicker.C:
			purged, err := s.Purge(context.Background())
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to purge expired records")
				continue
			}
			if purged > 0 {
				s.logger.Debug().Int("records", purged).Msg("Purged expired records")
			}
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *sqliteStore) Close() error {
	close(s.shutdownChan)
	if s.purgeTicker != nil {
		s.purgeTicker.Stop()
	}
	<-s.purgeDone

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.logger.Info().Msg("Store closed gracefully")

	return nil
}

type sqliteClient struct {
	store     *sqliteStore
	partition int
	namespace Namespace
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *sqliteClient) keyArgs(table, key string) []any {
	return []any{c.partition, int(c.namespace), table, key}
}

// reap deletes the record when its TTL has passed and reports whether it did.
// The caller holds the store lock.
func (c *sqliteClient) reap(ctx context.Context, q querier, table, key string) (bool, error) {
	var expiresAt int64
	err := q.QueryRowContext(ctx, selectExpirySQL, c.keyArgs(table, key)...).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if expiresAt > c.store.clock.Now().UnixNano() {
		return false, nil
	}
	if _, err := q.ExecContext(ctx, deleteEntrySQL, c.keyArgs(table, key)...); err != nil {
		return false, err
	}
	if _, err := q.ExecContext(ctx, deleteExpirySQL, c.keyArgs(table, key)...); err != nil {
		return false, err
	}
	return true, nil
}

func (c *sqliteClient) GetEntry(ctx context.Context, table, key string) (Fields, bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	errFactory := errors.New()
	if reaped, err := c.reap(ctx, c.store.db, table, key); err != nil {
		return nil, false, errFactory.Wrap(ErrStorageAccess, err)
	} else if reaped {
		return nil, false, nil
	}

	rows, err := c.store.db.QueryContext(ctx, selectEntrySQL, c.keyArgs(table, key)...)
	if err != nil {
		return nil, false, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	fields := make(Fields)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, false, errFactory.Wrap(ErrStorageAccess, err)
		}
		fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, false, errFactory.Wrap(ErrStorageAccess, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	return fields, true, nil
}

func (c *sqliteClient) Exists(ctx context.Context, table, key string) (bool, error) {
	_, ok, err := c.GetEntry(ctx, table, key)
	return ok, err
}

func (c *sqliteClient) GetKeys(ctx context.Context, table string) ([]string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	errFactory := errors.New()
	rows, err := c.store.db.QueryContext(ctx, selectKeysSQL,
		c.partition, int(c.namespace), table, c.store.clock.Now().UnixNano())
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return keys, nil
}

func (c *sqliteClient) GetField(ctx context.Context, table, key, field string) (string, bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	errFactory := errors.New()
	if reaped, err := c.reap(ctx, c.store.db, table, key); err != nil {
		return "", false, errFactory.Wrap(ErrStorageAccess, err)
	} else if reaped {
		return "", false, nil
	}

	var value string
	err := c.store.db.QueryRowContext(ctx, selectFieldSQL,
		append(c.keyArgs(table, key), field)...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errFactory.Wrap(ErrStorageAccess, err)
	}

	return value, true, nil
}

func (c *sqliteClient) Set(ctx context.Context, table, key string, fields Fields) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	errFactory := errors.New()
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := c.reap(ctx, tx, table, key); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertFieldSQL)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	defer stmt.Close()

	for field, value := range fields {
		if _, err := stmt.ExecContext(ctx, append(c.keyArgs(table, key), field, value)...); err != nil {
			return errFactory.WithData(ErrStorageAccess, struct {
				Table string
				Key   string
				Field string
				Error string
			}{
				Table: table,
				Key:   key,
				Field: field,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (c *sqliteClient) SetField(ctx context.Context, table, key, field, value string) error {
	return c.Set(ctx, table, key, Fields{field: value})
}

func (c *sqliteClient) DeleteEntry(ctx context.Context, table, key string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	errFactory := errors.New()
	if _, err := c.store.db.ExecContext(ctx, deleteEntrySQL, c.keyArgs(table, key)...); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if _, err := c.store.db.ExecContext(ctx, deleteExpirySQL, c.keyArgs(table, key)...); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (c *sqliteClient) Expire(ctx context.Context, table, key string, ttl time.Duration) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	errFactory := errors.New()
	if reaped, err := c.reap(ctx, c.store.db, table, key); err != nil || reaped {
		if err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
		return nil
	}

	var exists bool
	if err := c.store.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM entries WHERE partition = ? AND namespace = ? AND tbl = ? AND key = ?)`,
		c.keyArgs(table, key)...).Scan(&exists); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if !exists {
		return nil
	}

	deadline := c.store.clock.Now().Add(ttl).UnixNano()
	if _, err := c.store.db.ExecContext(ctx, upsertExpirySQL,
		append(c.keyArgs(table, key), deadline)...); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}
