package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	connectTimeout    = 5 * time.Second
	connMaxIdleTime   = 15 * time.Minute
	connMaxLifetime   = time.Hour
	migrationsAdvLock = 7215001
)

type schemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

func (schemaMigrationModel) TableName() string { return "settlement_schema_migrations" }

// Connect opens the settlement store and fails fast when Postgres is unreachable.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(int(maxConns))
		sqlDB.SetMaxIdleConns(max(1, int(maxConns)/2))
	}
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Default().InfoContext(ctx, "settlement store connected",
		"module", "postgres",
		"layer", "adapter",
		"operation", "connect",
		"outcome", "success",
		"max_conns", maxConns,
	)
	return db, nil
}

// RunMigrations applies embedded schema files that are not yet recorded in
// settlement_schema_migrations. A session advisory lock keeps concurrent API and
// worker boots from racing; each file commits together with its version row.
func RunMigrations(ctx context.Context, db *gorm.DB) ([]string, error) {
	pending, err := migrationNames()
	if err != nil {
		return nil, err
	}

	var applied []string
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", migrationsAdvLock).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer conn.Exec("SELECT pg_advisory_unlock(?)", migrationsAdvLock)

		if err := conn.Exec(`CREATE TABLE IF NOT EXISTS settlement_schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`).Error; err != nil {
			return fmt.Errorf("create migrations table: %w", err)
		}
		var done []string
		if err := conn.Model(&schemaMigrationModel{}).Pluck("version", &done).Error; err != nil {
			return fmt.Errorf("list applied migrations: %w", err)
		}

		for _, name := range pending {
			if slices.Contains(done, name) {
				continue
			}
			raw, err := migrationFS.ReadFile("migrations/" + name)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}
			if err := conn.Transaction(func(tx *gorm.DB) error {
				if err := tx.Exec(string(raw)).Error; err != nil {
					return err
				}
				return tx.Clauses(clause.OnConflict{DoNothing: true}).
					Create(&schemaMigrationModel{Version: name, AppliedAt: time.Now().UTC()}).Error
			}); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			applied = append(applied, name)
			slog.Default().InfoContext(ctx, "schema migration applied",
				"module", "postgres",
				"layer", "adapter",
				"operation", "apply_migration",
				"outcome", "success",
				"migration", name,
			)
		}
		return nil
	})
	return applied, err
}

func migrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
