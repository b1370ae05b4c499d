package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

const backendName = "s3"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	Prefix          string // Optional key prefix
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// Key layout
	Depth     int                     // Number of shard segments (default: 3)
	Width     int                     // Hex characters per segment (default: 2)
	Algorithm filestore.HashAlgorithm // Content hash (default: sha256)

	// TempDir spools streamed uploads while they are hashed (default: os.TempDir())
	TempDir string

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the filestore.BlobStore interface
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	config   Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)
	backend := &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		config:   config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

func (c *Config) normalize() error {
	if c.Bucket == "" {
		return errors.New("bucket name is required")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Depth <= 0 {
		c.Depth = filestore.DefaultDepth
	}
	if c.Width <= 0 {
		c.Width = filestore.DefaultWidth
	}
	if c.EnableSSE && c.SSEAlgorithm != "AES256" && c.SSEAlgorithm != "aws:kms" {
		return fmt.Errorf("unsupported SSE algorithm %q", c.SSEAlgorithm)
	}
	algorithm, err := filestore.ParseHashAlgorithm(string(c.Algorithm))
	if err != nil {
		return err
	}
	c.Algorithm = algorithm
	c.Prefix = strings.Trim(c.Prefix, "/")
	return nil
}

// Key returns the object key of hash.
func (b *Backend) Key(hash string) string {
	segments := filestore.ShardSegments(hash, b.config.Depth, b.config.Width)
	parts := make([]string, 0, len(segments)+2)
	if b.config.Prefix != "" {
		parts = append(parts, b.config.Prefix)
	}
	parts = append(parts, segments...)
	parts = append(parts, hash)
	return path.Join(parts...)
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket in several ways
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.ErrorCode() == "BucketAlreadyExists" || apiErr.ErrorCode() == "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// Put stores content and returns its hash. Streams are spooled to a temp
// file first because the key is only known once every byte is hashed.
func (b *Backend) Put(ctx context.Context, content filestore.Content) (string, error) {
	switch c := content.(type) {
	case filestore.Buffer:
		hash := b.config.Algorithm.Sum(c)
		return hash, b.upload(ctx, hash, bytes.NewReader(c))
	case filestore.Stream:
		if c.R == nil {
			return "", fmt.Errorf("%w: nil stream", filestore.ErrValidation)
		}
		return b.putStream(ctx, c.R)
	default:
		return "", fmt.Errorf("%w: unsupported content %T", filestore.ErrValidation, content)
	}
}

func (b *Backend) putStream(ctx context.Context, r io.Reader) (string, error) {
	spool, err := os.CreateTemp(b.config.TempDir, "filestore-s3-*")
	if err != nil {
		return "", filestore.NewStorageError(backendName, "put", "", fmt.Errorf("failed to create spool file: %w", err))
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	h := b.config.Algorithm.New()
	if _, err := io.Copy(io.MultiWriter(spool, h), r); err != nil {
		return "", filestore.NewStorageError(backendName, "put", "", fmt.Errorf("failed to spool content: %w", err))
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", filestore.NewStorageError(backendName, "put", "", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	return hash, b.upload(ctx, hash, spool)
}

// upload writes body under the key of hash unless the object already exists.
// S3 writes are atomic per object, so readers never see a partial blob.
func (b *Backend) upload(ctx context.Context, hash string, body io.Reader) error {
	exists, err := b.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.Key(hash)),
		Body:   body,
	}
	if b.config.EnableSSE {
		switch b.config.SSEAlgorithm {
		case "AES256":
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.config.SSEKMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
			}
		}
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return filestore.NewStorageError(backendName, "put", hash, fmt.Errorf("failed to upload object: %w", err))
	}
	return nil
}

// Get returns the blob's bytes
func (b *Backend) Get(ctx context.Context, hash string) ([]byte, error) {
	rc, err := b.open(ctx, "get", hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, filestore.NewStorageError(backendName, "get", hash, fmt.Errorf("failed to read object: %w", err))
	}
	return data, nil
}

// GetStream opens the blob for reading
func (b *Backend) GetStream(ctx context.Context, hash string) (io.ReadCloser, error) {
	return b.open(ctx, "get_stream", hash)
}

func (b *Backend) open(ctx context.Context, op, hash string) (io.ReadCloser, error) {
	if err := b.config.Algorithm.Validate(hash); err != nil {
		return nil, &filestore.BlobError{Hash: hash, Op: op, Err: err}
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.Key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &filestore.BlobError{Hash: hash, Op: op, Err: filestore.ErrNotFound}
		}
		return nil, filestore.NewStorageError(backendName, op, hash, fmt.Errorf("failed to get object: %w", err))
	}
	return result.Body, nil
}

// Has reports whether the blob exists
func (b *Backend) Has(ctx context.Context, hash string) (bool, error) {
	if err := b.config.Algorithm.Validate(hash); err != nil {
		return false, &filestore.BlobError{Hash: hash, Op: "has", Err: err}
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.Key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, filestore.NewStorageError(backendName, "has", hash, fmt.Errorf("failed to get object metadata: %w", err))
	}
	return true, nil
}

// Delete removes the blob. S3 deletes are idempotent, so existence is
// checked first to report ErrNotFound.
func (b *Backend) Delete(ctx context.Context, hash string) error {
	exists, err := b.Has(ctx, hash)
	if err != nil {
		return err
	}
	if !exists {
		return &filestore.BlobError{Hash: hash, Op: "delete", Err: filestore.ErrNotFound}
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.Key(hash)),
	})
	if err != nil {
		return filestore.NewStorageError(backendName, "delete", hash, fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
