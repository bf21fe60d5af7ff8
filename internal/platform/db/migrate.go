package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
)

//go:embed schema.sql
var schemaSQL string

const migrateLockKey = "clothstock:migrate:lock"

// ErrMigrationLocked is returned when another process holds the migration lock.
var ErrMigrationLocked = errors.New("platform/db: migration already running")

// Migrator applies the embedded schema. The optional locker keeps two instances from
// migrating at the same time.
type Migrator struct {
	db      DBTX
	locker  *redislock.Client
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewMigrator constructs a Migrator. locker may be nil.
func NewMigrator(db DBTX, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger) *Migrator {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, locker: locker, lockTTL: lockTTL, logger: logger}
}

// Schema returns the embedded DDL.
func Schema() string {
	return schemaSQL
}

// Apply executes the schema. Every statement is idempotent.
func (m *Migrator) Apply(ctx context.Context) error {
	if m.locker != nil {
		lock, err := m.locker.Obtain(ctx, migrateLockKey, m.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrMigrationLocked
		}
		if err != nil {
			return fmt.Errorf("platform/db: obtain migration lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				m.logger.Warn("release migration lock", slog.Any("error", err))
			}
		}()
	}

	start := time.Now()
	if _, err := m.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("platform/db: apply schema: %w", err)
	}
	m.logger.Info("schema applied", slog.Duration("elapsed", time.Since(start)))
	return nil
}
