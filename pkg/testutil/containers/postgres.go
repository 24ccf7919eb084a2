//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance with both a pgx
// pool and a database/sql handle on it.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	Pool      *pgxpool.Pool
	DB        *sql.DB
}

// NewPostgresContainer starts a new PostgreSQL container.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("certstore"),
		tcpostgres.WithUsername("certstore"),
		tcpostgres.WithPassword("certstore"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open pgx pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open database/sql handle: %v", err)
	}

	return &PostgresContainer{
		Container: container,
		URL:       url,
		Pool:      pool,
		DB:        db,
	}
}

// TruncateTables empties the named tables. Tables that do not exist yet are
// skipped so suites can truncate before their first migration.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	var existing []string
	for _, table := range tables {
		var found bool
		err := p.Pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&found)
		if err != nil {
			return fmt.Errorf("look up table %s: %w", table, err)
		}
		if found {
			existing = append(existing, table)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	_, err := p.Pool.Exec(ctx, "TRUNCATE "+strings.Join(existing, ", ")+" CASCADE")
	return err
}
