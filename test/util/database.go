// Package util provides test utilities for database-backed tests.
package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/growthlab/askatlas/pkg/database"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupTestPool returns a migrated connection pool for integration tests.
// CI provides TEST_DATABASE_URL; local dev starts a shared Postgres
// testcontainer once per package. Tests are skipped when neither is
// available. Each test gets its own schema for isolation.
func SetupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		connStr = getOrCreateSharedDatabase(t)
	}

	schema := generateSchemaName(t)
	admin, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	admin.Close()

	scoped := connStr
	if containsQuery(scoped) {
		scoped += "&search_path=" + schema
	} else {
		scoped += "?search_path=" + schema
	}

	client, err := database.NewClient(ctx, database.Config{URL: scoped})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client.Pool()
}

func getOrCreateSharedDatabase(t *testing.T) string {
	t.Helper()
	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("askatlas_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		sharedConnStr, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("Postgres testcontainer unavailable: %v", containerErr)
	}
	return sharedConnStr
}

func generateSchemaName(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 4)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return "test_" + hex.EncodeToString(buf)
}

func containsQuery(connStr string) bool {
	for _, r := range connStr {
		if r == '?' {
			return true
		}
	}
	return false
}
