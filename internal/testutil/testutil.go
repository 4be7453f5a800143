// Package testutil boots a disposable Postgres for the storage integration
// tests. Callers skip it under -short; see internal/storage/storage_test.go
// for the TestMain that owns the container's lifetime.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/tasklane/internal/storage"
	"github.com/ashita-ai/tasklane/migrations"
)

const (
	postgresImage = "pgvector/pgvector:pg17"
	postgresPort  = "5432/tcp"
	credential    = "tasklane"
	bootTimeout   = 60 * time.Second
)

// Postgres is a running database container and the DSN that reaches it.
type Postgres struct {
	DSN       string
	container testcontainers.Container
}

// StartPostgres runs the pgvector image and enables the vector extension,
// which must exist before storage.New registers its types on each connection.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     credential,
				"POSTGRES_PASSWORD": credential,
				"POSTGRES_DB":       credential,
			},
			// The entrypoint restarts the server once after init; the second
			// ready line is the one that stays up.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(postgresPort),
			).WithStartupTimeout(bootTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start postgres: %w", err)
	}
	pg := &Postgres{container: container}

	endpoint, err := container.PortEndpoint(ctx, postgresPort, "")
	if err != nil {
		pg.Terminate()
		return nil, fmt.Errorf("testutil: postgres endpoint: %w", err)
	}
	pg.DSN = fmt.Sprintf("postgres://%[1]s:%[1]s@%[2]s/%[1]s?sslmode=disable", credential, endpoint)

	if err := enableVector(ctx, pg.DSN); err != nil {
		pg.Terminate()
		return nil, err
	}
	return pg, nil
}

func enableVector(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("testutil: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("testutil: create vector extension: %w", err)
	}
	return nil
}

// MustStartPostgres is StartPostgres for TestMain. It exits the process
// when the container cannot be started.
func MustStartPostgres() *Postgres {
	pg, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return pg
}

// NewTestDB opens a storage.DB on the container with every migration applied.
func (p *Postgres) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, p.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: open storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: migrate: %w", err)
	}
	return db, nil
}

// Terminate removes the container.
func (p *Postgres) Terminate() {
	_ = p.container.Terminate(context.Background())
}

// TestLogger writes warnings and errors to stderr.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
