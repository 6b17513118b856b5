package store

import (
	"context"
	"database/sql"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"github.com/rs/zerolog"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS entries (
	       partition  INTEGER NOT NULL CHECK (typeof(partition) = 'integer'),
	       namespace  INTEGER NOT NULL CHECK (namespace BETWEEN 0 AND 3),
	       tbl        TEXT NOT NULL,
	       key        TEXT NOT NULL,
	       field      TEXT NOT NULL,
	       value      TEXT NOT NULL,
	       PRIMARY KEY (partition, namespace, tbl, key, field)
	   );
	   CREATE TABLE IF NOT EXISTS expirations (
	       partition  INTEGER NOT NULL,
	       namespace  INTEGER NOT NULL,
	       tbl        TEXT NOT NULL,
	       key        TEXT NOT NULL,
	       expires_at INTEGER NOT NULL,
	       PRIMARY KEY (partition, namespace, tbl, key)
	   );
	   CREATE INDEX IF NOT EXISTS expirations_deadline ON expirations (expires_at);`

	upsertFieldSQL = `
    INSERT INTO entries (partition, namespace, tbl, key, field, value)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (partition, namespace, tbl, key, field) DO UPDATE SET
        value = excluded.value`

	selectEntrySQL = `
    SELECT field, value FROM entries
    WHERE partition = ? AND namespace = ? AND tbl = ? AND key = ?`

	selectFieldSQL = `
    SELECT value FROM entries
    WHERE partition = ? AND namespace = ? AND tbl = ? AND key = ? AND field = ?`

	selectKeysSQL = `
    SELECT DISTINCT e.key FROM entries e
    LEFT JOIN expirations x
        ON x.partition = e.partition AND x.namespace = e.namespace
        AND x.tbl = e.tbl AND x.key = e.key
    WHERE e.partition = ? AND e.namespace = ? AND e.tbl = ?
        AND (x.expires_at IS NULL OR x.expires_at > ?)
    ORDER BY e.key`

	selectExpirySQL = `
    SELECT expires_at FROM expirations
    WHERE partition = ? AND namespace = ? AND tbl = ? AND key = ?`

	upsertExpirySQL = `
    INSERT INTO expirations (partition, namespace, tbl, key, expires_at)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT (partition, namespace, tbl, key) DO UPDATE SET
        expires_at = excluded.expires_at`

	deleteEntrySQL = `
    DELETE FROM entries
    WHERE partition = ? AND namespace = ? AND tbl = ? AND key = ?`

	deleteExpirySQL = `
    DELETE FROM expirations
    WHERE partition = ? AND namespace = ? AND tbl = ? AND key = ?`

	purgeEntriesSQL = `
    DELETE FROM entries WHERE EXISTS (
        SELECT 1 FROM expirations x
        WHERE x.partition = entries.partition AND x.namespace = entries.namespace
            AND x.tbl = entries.tbl AND x.key = entries.key AND x.expires_at <= ?)`

	purgeExpirationsSQL = `DELETE FROM expirations WHERE expires_at <= ?`

	countExpiredSQL = `SELECT COUNT(*) FROM expirations WHERE expires_at <= ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(ctx, db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
