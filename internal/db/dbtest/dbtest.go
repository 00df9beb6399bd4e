// Package dbtest provides a migrated Postgres pool for repository tests.
package dbtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/laundry-tracking/internal/db"
)

const (
	postgresImage = "postgres:16-alpine"
	testPassword  = "laundry-test"
	testDatabase  = "laundry_test"
)

// NewPool connects to DB_DSN_TEST when set, otherwise starts a throwaway
// Postgres container through the local Docker daemon. The test is skipped
// when neither is available. Migrations are applied and tables truncated.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("DB_DSN_TEST")
	if dsn == "" {
		if testing.Short() {
			t.Skip("skipping postgres test in short mode")
		}
		dsn = startContainer(ctx, t)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("dbtest: invalid DSN: %v", err)
	}
	poolConfig.MaxConns = 5

	pool, err := waitForPool(ctx, poolConfig)
	if err != nil {
		t.Fatalf("dbtest: postgres never became ready: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.ApplyMigrations(pool, migrationsDir(), "disable"); err != nil {
		t.Fatalf("dbtest: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE laundry.order_timeline, laundry.orders`); err != nil {
		t.Fatalf("dbtest: failed to truncate tables: %v", err)
	}
	return pool
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		t.Skipf("docker daemon unavailable: %v", err)
	}

	reader, err := cli.ImagePull(ctx, postgresImage, image.PullOptions{})
	if err != nil {
		_ = cli.Close()
		t.Skipf("cannot pull %s: %v", postgresImage, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	port := nat.Port("5432/tcp")
	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:        postgresImage,
			Env:          []string{"POSTGRES_PASSWORD=" + testPassword, "POSTGRES_DB=" + testDatabase},
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}},
		},
		nil, nil, "")
	if err != nil {
		_ = cli.Close()
		t.Fatalf("dbtest: failed to create container: %v", err)
	}

	t.Cleanup(func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = cli.ContainerRemove(removeCtx, created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		_ = cli.Close()
	})

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		t.Fatalf("dbtest: failed to start container: %v", err)
	}

	inspect, err := cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		t.Fatalf("dbtest: failed to inspect container: %v", err)
	}
	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		t.Fatalf("dbtest: container exposes no port for %s", port)
	}

	return fmt.Sprintf("host=127.0.0.1 port=%s user=postgres password=%s dbname=%s sslmode=disable",
		bindings[0].HostPort, testPassword, testDatabase)
}

func waitForPool(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	var lastErr error
	for {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}
