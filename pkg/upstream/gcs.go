package upstream

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ====================================================================================
// Interfaces abstracting the Google Cloud Storage client so the GCS snapshot
// source can be tested without a real bucket.
// ====================================================================================

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

// NewStorageClient creates a GCS client. It uses Application Default
// Credentials unless a credentials file is given.
func NewStorageClient(ctx context.Context, credentialsFile string, logger zerolog.Logger) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for GCS client.")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return client, nil
}

// GCSSourceConfig locates a snapshot object in a bucket.
type GCSSourceConfig struct {
	BucketName string `yaml:"bucket"`
	ObjectName string `yaml:"object"`
}

// GCSSource reads a full dataset from a GCS object. Objects ending in ".gz"
// are decompressed.
type GCSSource struct {
	client GCSClient
	config GCSSourceConfig
	logger zerolog.Logger
}

// NewGCSSource creates a snapshot source backed by a GCS object.
func NewGCSSource(client GCSClient, cfg GCSSourceConfig, logger zerolog.Logger) (*GCSSource, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if cfg.ObjectName == "" {
		return nil, errors.New("GCS object name is required")
	}
	return &GCSSource{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "GCSSnapshotSource").Logger(),
	}, nil
}

// FetchAll reads the whole object.
func (s *GCSSource) FetchAll(ctx context.Context) ([]byte, error) {
	r, err := s.client.Bucket(s.config.BucketName).Object(s.config.ObjectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, cacheerr.NotFound("upstream.gcs", fmt.Errorf("%s: %w", s, err))
		}
		return nil, cacheerr.Transport("upstream.gcs", 0, nil, fmt.Errorf("open %s: %w", s, err))
	}
	defer r.Close()

	var src io.Reader = r
	if strings.HasSuffix(s.config.ObjectName, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, cacheerr.Transport("upstream.gcs", 0, nil, fmt.Errorf("gunzip %s: %w", s, err))
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, cacheerr.Transport("upstream.gcs", 0, nil, fmt.Errorf("read %s: %w", s, err))
	}
	s.logger.Info().Str("object", s.String()).Int("bytes", len(data)).Msg("Read snapshot from GCS.")
	return data, nil
}

func (s *GCSSource) String() string {
	return "gs://" + s.config.BucketName + "/" + s.config.ObjectName
}
