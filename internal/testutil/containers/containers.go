//go:build integration

// Package containers starts throwaway infrastructure for integration
// tests via testcontainers. Gated behind the "integration" build tag so
// unit test runs never require Docker.
package containers

import (
	"context"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/shelfwise/books-api/pkg/clients/postgres"
)

// postgresImage pins the database version integration tests run against.
const postgresImage = "docker.io/postgres:16-alpine"

// StartPostgres runs a PostgreSQL container and returns a connected
// client. The container and client are torn down when the test finishes.
func StartPostgres(t *testing.T) *postgres.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("books_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("failed to terminate postgres container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	client, err := postgres.NewClient(ctx, postgres.Config{
		URI:      connStr,
		MaxConns: 5,
		MinConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to create postgres client: %v", err)
	}
	t.Cleanup(client.Close)

	return client
}
