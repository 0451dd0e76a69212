//go:build integration

// Package pgtest starts PostgreSQL containers carrying the event store schema for integration tests.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/eaf/backend/internal/infrastructure/migration"
	"github.com/eaf/backend/internal/infrastructure/persistence"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TestDB is a migrated database in its own container
type TestDB struct {
	DB        *gorm.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// New starts a PostgreSQL container, applies the embedded migrations and
// connects with GORM and the tenant guard. The test is skipped when no
// container runtime is available.
func New(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("eaf_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("eaf"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}

	tdb := &TestDB{Container: container, t: t}
	t.Cleanup(tdb.Close)

	tdb.DSN, err = container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	Migrate(t, tdb.DSN)

	level := gormlogger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = gormlogger.Info
	}
	db, err := persistence.Open(gormpostgres.Open(tdb.DSN), &config.DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 2},
		persistence.Options{LogLevel: level})
	require.NoError(t, err, "Failed to connect to database")
	tdb.DB = db.DB
	return tdb
}

// Migrate applies the embedded migrations over a lib/pq connection
func Migrate(t *testing.T, dsn string) {
	t.Helper()
	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	m, err := migration.NewEmbedded(sqlDB, nil)
	require.NoError(t, err, "Failed to create migrator")
	defer m.Close()
	require.NoError(t, m.Up(), "Failed to run migrations")
}

// Truncate empties the event store tables
func (tdb *TestDB) Truncate() {
	tdb.t.Helper()
	for _, table := range persistence.EventStoreTables() {
		err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", table)).Error
		require.NoError(tdb.t, err, "Failed to truncate %s", table)
	}
}

// Close closes the connection and terminates the container
func (tdb *TestDB) Close() {
	if tdb.DB != nil {
		if sqlDB, err := tdb.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if tdb.Container != nil {
		if err := tdb.Container.Terminate(context.Background()); err != nil {
			tdb.t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
}
