//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"dossier/internal/platform/config"
	"dossier/internal/platform/postgres"
)

// PostgresContainer wraps a migrated testcontainers Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the engine migrations.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dossier"),
		tcpostgres.WithUsername("dossier"),
		tcpostgres.WithPassword("dossier"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := postgres.Open(openCtx, config.Postgres{DSN: dsn, MaxOpenConns: 20})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres: %v", err)
	}

	if _, err := postgres.Migrate(db); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to migrate postgres: %v", err)
	}

	// Cleanup is left to Ryuk; the container is shared across suites.
	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// Truncate empties the engine tables between tests.
func (p *PostgresContainer) Truncate(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `TRUNCATE aggregates, evidence`)
	return err
}
