package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the catalog schema version this build writes.
const SchemaVersion = 1

// System metadata keys owned by the store.
const (
	MetaSchemaVersion = "schema_version"
	MetaCreatedAt     = "created_at"
)

// ErrSchemaDowngrade indicates the catalog file was written by a newer build.
var ErrSchemaDowngrade = errors.New("catalog schema is newer than this build")

// migrations[v] upgrades a catalog from version v-1 to v.
var migrations = map[int]string{}

func (s *Store) initSchema(ctx context.Context) error {
	return s.withTx(ctx, func(sess *Session) error {
		stored, err := storedSchemaVersion(ctx, sess.tx)
		if err != nil {
			return err
		}
		if stored > SchemaVersion {
			return fmt.Errorf("%w: catalog has version %d, this build supports %d", ErrSchemaDowngrade, stored, SchemaVersion)
		}
		if _, err := sess.tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if stored == 0 {
			if err := sess.SetMetadata(ctx, MetaCreatedAt, formatTime(s.now())); err != nil {
				return err
			}
		}
		for v := stored + 1; stored > 0 && v <= SchemaVersion; v++ {
			if stmt, ok := migrations[v]; ok {
				if _, err := sess.tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migrate schema to %d: %w", v, err)
				}
			}
		}
		if stored != SchemaVersion {
			return sess.SetMetadata(ctx, MetaSchemaVersion, strconv.Itoa(SchemaVersion))
		}
		return nil
	})
}

func storedSchemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var tableExists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='system_metadata'",
	).Scan(&tableExists); err != nil {
		return 0, fmt.Errorf("check system_metadata table: %w", err)
	}
	if tableExists == 0 {
		return 0, nil
	}
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT value FROM system_metadata WHERE key = ?", MetaSchemaVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return version, nil
}
