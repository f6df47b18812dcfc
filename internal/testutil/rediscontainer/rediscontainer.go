package rediscontainer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image       = "redis:7-alpine"
	exposedPort = "6379/tcp"
	startup     = 60 * time.Second
)

var (
	mu        sync.Mutex
	container testcontainers.Container
	addr      string
)

// Addr exposes the Redis host:port combination used by integration tests.
func Addr() string {
	mu.Lock()
	defer mu.Unlock()
	return addr
}

// Setup starts a disposable Redis container and waits until it accepts
// connections. Calling Setup again while the container runs is a no-op.
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
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(startup),
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("start redis container: %w", err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return fmt.Errorf("resolve redis endpoint: %w", err)
	}

	container, addr = c, endpoint
	return nil
}

// Teardown stops the container started by Setup.
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
