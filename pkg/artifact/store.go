// Package artifact stores JSON debug bundles outside the sanitized
// ai_tasks row, referenced back by Task.ArtifactKey.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"

	"tripplan-go/internal/config"
	"tripplan-go/pkg/log"
)

// Store puts/gets JSON-encoded debug bundles keyed by an opaque string.
type Store interface {
	Put(ctx context.Context, key string, bundle any) error
	Get(ctx context.Context, key string, out any) error
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore builds a Store backed by the shared MinIO client.
func NewMinIOStore(client *minio.Client, cfg config.MinIOConfig) Store {
	return &minioStore{client: client, bucket: cfg.BucketName}
}

func (s *minioStore) Put(ctx context.Context, key string, bundle any) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("artifact: failed to marshal bundle: %w", err)
	}
	objectName := objectPath(key)
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		log.Errorf("artifact: failed to store bundle %s: %v", key, err)
		return fmt.Errorf("artifact: failed to store bundle: %w", err)
	}
	return nil
}

func (s *minioStore) Get(ctx context.Context, key string, out any) error {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath(key), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("artifact: failed to fetch bundle: %w", err)
	}
	defer obj.Close()
	return json.NewDecoder(obj).Decode(out)
}

func objectPath(key string) string {
	return "task-artifacts/" + key + ".json"
}
