//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/repo/repotest"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("filestore_test"),
		tcpostgres.WithUsername("filestore_test"),
		tcpostgres.WithPassword("filestore_test"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://filestore_test:filestore_test@%s:%s/filestore_test?sslmode=disable", host, port.Port())
}

func TestPostgresRepository_Conformance(t *testing.T) {
	connString := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, connString, slog.Default()))
	// A second run is a no-op.
	require.NoError(t, Migrate(ctx, connString, slog.Default()))

	repotest.RunConformanceSuite(t, func(t *testing.T) filestore.MetadataStore {
		repo, err := Open(ctx, connString)
		require.NoError(t, err)
		_, err = repo.db.Exec(ctx, `TRUNCATE files`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}
