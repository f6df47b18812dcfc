package postgrescontainer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image       = "postgres:16-alpine"
	exposedPort = "5432/tcp"
	user        = "rakh"
	password    = "secret"
	dbName      = "rakh_test"
	startup     = 90 * time.Second
)

var (
	mu        sync.Mutex
	container testcontainers.Container
	addr      string
)

// Addr returns host:port for connecting to the test Postgres instance.
func Addr() string {
	mu.Lock()
	defer mu.Unlock()
	return addr
}

// DSN returns a lib/pq formatted connection string.
func DSN() string {
	return dsnFor(Addr())
}

func dsnFor(hostPort string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostPort, dbName)
}

// Setup launches the Postgres container if it isn't already running and waits
// until it answers queries.
func Setup() (err error) {
	mu.Lock()
	defer mu.Unlock()
	if container != nil {
		return nil
	}
	defer func() {
		// testcontainers panics when no Docker daemon is reachable.
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), startup)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{exposedPort},
			Env: map[string]string{
				"POSTGRES_USER":     user,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       dbName,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startup),
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return fmt.Errorf("resolve postgres endpoint: %w", err)
	}
	if err := waitForPostgres(ctx, dsnFor(endpoint)); err != nil {
		_ = testcontainers.TerminateContainer(c)
		return err
	}

	container, addr = c, endpoint
	return nil
}

// Teardown stops the container launched by Setup.
func Teardown() error {
	mu.Lock()
	defer mu.Unlock()
	if container == nil {
		return nil
	}
	err := testcontainers.TerminateContainer(container)
	container, addr = nil, ""
	return err
}

func waitForPostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	var lastErr error
	for {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres did not become ready: %w", lastErr)
		case <-time.After(200 * time.Millisecond):
		}
	}
}
