package mediastore

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSMirror replicates media blobs to a Google Cloud Storage bucket.
// Authentication uses Application Default Credentials.
type GCSMirror struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSMirror initializes the client and verifies the bucket is reachable,
// failing fast on bad configuration.
func NewGCSMirror(ctx context.Context, bucket string, logger *zap.Logger) (*GCSMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close gcs client after attrs failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	return &GCSMirror{client: client, bucket: bucket, logger: logger}, nil
}

// Save uploads data to objectName in the configured bucket.
func (g *GCSMirror) Save(ctx context.Context, objectName string, data []byte) error {
	wc := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		if cerr := wc.Close(); cerr != nil {
			g.logger.Warn("close gcs writer after write failure", zap.Error(cerr))
		}
		return fmt.Errorf("write gcs object %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %s: %w", objectName, err)
	}
	return nil
}

// Close releases the client.
func (g *GCSMirror) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
