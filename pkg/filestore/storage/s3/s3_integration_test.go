//go:build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/storage/storetest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startLocalstack returns an S3 endpoint, either from LOCALSTACK_ENDPOINT or
// from a container started for the test.
func startLocalstack(t *testing.T) string {
	t.Helper()
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.0",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":       "s3",
				"DEFAULT_REGION": "us-east-1",
			},
			WaitingFor: wait.ForHTTP("/_localstack/health").
				WithPort("4566/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestS3Backend_Conformance(t *testing.T) {
	endpoint := startLocalstack(t)

	storetest.RunConformanceSuite(t, func(t *testing.T) filestore.BlobStore {
		backend, err := New(Config{
			Region:                 "us-east-1",
			Bucket:                 fmt.Sprintf("filestore-test-%d", time.Now().UnixNano()),
			AccessKeyID:            "test",
			SecretAccessKey:        "test",
			Endpoint:               endpoint,
			UsePathStyle:           true,
			TempDir:                t.TempDir(),
			CreateBucketIfNotExist: true,
		})
		require.NoError(t, err)
		return backend
	})
}
