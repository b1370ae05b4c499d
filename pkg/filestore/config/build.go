package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/tendant/simple-filestore/pkg/filestore"
	badgerrepo "github.com/tendant/simple-filestore/pkg/filestore/repo/badger"
	memoryrepo "github.com/tendant/simple-filestore/pkg/filestore/repo/memory"
	postgresrepo "github.com/tendant/simple-filestore/pkg/filestore/repo/postgres"
	sqliterepo "github.com/tendant/simple-filestore/pkg/filestore/repo/sqlite"
	fsstorage "github.com/tendant/simple-filestore/pkg/filestore/storage/fs"
	memorystorage "github.com/tendant/simple-filestore/pkg/filestore/storage/memory"
	s3storage "github.com/tendant/simple-filestore/pkg/filestore/storage/s3"
)

// BuildService constructs the file store described by the configuration.
// The returned MetadataStore must be closed by the caller once the service
// is no longer used. Extra sinks receive lifecycle events next to the
// logging sink.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, sinks ...filestore.EventSink) (filestore.Service, filestore.MetadataStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blobs, err := c.BuildBlobStore()
	if err != nil {
		return nil, nil, err
	}

	metadata, err := c.BuildMetadataStore(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	if c.EnableEventLogging {
		sinks = append(sinks, filestore.NewLoggingEventSink(logger))
	}

	opts := []filestore.Option{
		filestore.WithBlobStore(blobs),
		filestore.WithMetadataStore(metadata),
		filestore.WithLogger(logger),
	}
	if len(sinks) > 0 {
		opts = append(opts, filestore.WithEventSink(filestore.NewMultiEventSink(sinks...)))
	}
	if c.HashLocking {
		opts = append(opts, filestore.WithHashLocking())
	}

	svc, err := filestore.New(opts...)
	if err != nil {
		metadata.Close()
		return nil, nil, err
	}
	return svc, metadata, nil
}

// BuildMetadataStore opens the metadata backend named by MetadataURL. For
// Postgres the schema is migrated first when AutoMigrate is set.
func (c *ServerConfig) BuildMetadataStore(ctx context.Context, logger *slog.Logger) (filestore.MetadataStore, error) {
	kind, err := c.MetadataBackend()
	if err != nil {
		return nil, err
	}

	switch kind {
	case MetadataMemory:
		return memoryrepo.New(), nil
	case MetadataPostgres:
		if c.AutoMigrate {
			if err := postgresrepo.Migrate(ctx, c.MetadataURL, logger); err != nil {
				return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
			}
		}
		repo, err := postgresrepo.Open(ctx, c.MetadataURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres metadata store: %w", err)
		}
		return repo, nil
	case MetadataBadger:
		repo, err := badgerrepo.Open(badgerrepo.Config{
			Path:   localPath(c.MetadataURL, "badger://"),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger metadata store: %w", err)
		}
		return repo, nil
	case MetadataSQLite:
		repo, err := sqliterepo.Open(sqliterepo.Config{Path: localPath(c.MetadataURL, "sqlite://")})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite metadata store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s", kind)
	}
}

// BuildBlobStore creates the blob backend named by StorageURL.
func (c *ServerConfig) BuildBlobStore() (filestore.BlobStore, error) {
	kind, err := c.StorageBackend()
	if err != nil {
		return nil, err
	}
	algorithm, err := filestore.ParseHashAlgorithm(c.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	switch kind {
	case StorageMemory:
		return memorystorage.New(algorithm), nil
	case StorageFS:
		backend, err := fsstorage.New(fsstorage.Config{
			BaseDir:   localPath(c.StorageURL, "file://"),
			TempDir:   c.TempDir,
			Depth:     c.ShardDepth,
			Width:     c.ShardWidth,
			Algorithm: algorithm,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create file storage: %w", err)
		}
		return backend, nil
	case StorageS3:
		s3cfg, err := c.s3Config(algorithm)
		if err != nil {
			return nil, err
		}
		backend, err := s3storage.New(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 storage: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", kind)
	}
}

// s3Config reads s3://bucket?region=&endpoint=&prefix=&path_style=&create_bucket=&sse=
func (c *ServerConfig) s3Config(algorithm filestore.HashAlgorithm) (s3storage.Config, error) {
	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return s3storage.Config{}, fmt.Errorf("invalid storage URL: %w", err)
	}
	q := u.Query()

	cfg := s3storage.Config{
		Bucket:          u.Host,
		Region:          c.S3Region,
		Prefix:          strings.Trim(q.Get("prefix")+u.Path, "/"),
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
		Endpoint:        q.Get("endpoint"),
		Depth:           c.ShardDepth,
		Width:           c.ShardWidth,
		Algorithm:       algorithm,
		TempDir:         c.TempDir,
	}
	if region := q.Get("region"); region != "" {
		cfg.Region = region
	}
	if cfg.UsePathStyle, err = queryBool(q, "path_style"); err != nil {
		return cfg, err
	}
	if cfg.CreateBucketIfNotExist, err = queryBool(q, "create_bucket"); err != nil {
		return cfg, err
	}
	if sse := q.Get("sse"); sse != "" {
		cfg.EnableSSE = true
		cfg.SSEAlgorithm = sse
		cfg.SSEKMSKeyID = q.Get("kms_key_id")
	}
	return cfg, nil
}

func queryBool(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for storage URL parameter %s: %w", key, err)
	}
	return v, nil
}
