package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func pgLogger() *slog.Logger {
	return slog.Default().With(
		"module", "postgres",
		"layer", "adapter",
	)
}

// Connect opens the Postgres pool through GORM and verifies it responds.
// Timestamps are normalized to UTC at the driver level so ledger rows
// compare cleanly regardless of gateway host timezone.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql pool: %w", err)
	}
	tunePool(sqlDB, maxConns)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	pgLogger().InfoContext(ctx, "postgres connected",
		"operation", "connect",
		"outcome", "success",
		"max_conns", maxConns,
	)
	return db, nil
}

// tunePool sizes the pool for a ledger whose transactions are short: a
// few row locks, never long scans. Idle connections are recycled so a
// failed-over primary does not keep stale sockets alive for an hour.
func tunePool(sqlDB *sql.DB, maxConns int) {
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)
}

// RunMigrations applies the embedded SQL files in lexical order. Shipping
// the schema inside the binary keeps code and tables from drifting apart
// at startup.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	tx := db.WithContext(ctx)
	for _, name := range names {
		raw, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := tx.Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", strings.TrimPrefix(name, "migrations/"), err)
		}
		pgLogger().InfoContext(ctx, "migration applied",
			"operation", "migrate",
			"outcome", "success",
			"migration", strings.TrimPrefix(name, "migrations/"),
		)
	}

	pgLogger().InfoContext(ctx, "postgres migrations completed",
		"operation", "migrate",
		"outcome", "success",
		"applied", len(names),
	)
	return nil
}
