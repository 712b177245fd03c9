// Package archive copies flushed snapshots into S3-compatible object
// storage, one immutable object per flushed version. It is a best-effort
// sink behind the persistence writer, never read by the serving path.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"toolforge/api/internal/document"
)

type Archive struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// StoreSnapshot writes one snapshot object. Re-archiving the same version
// overwrites with identical content, so retried flushes are harmless.
func (a *Archive) StoreSnapshot(ctx context.Context, snap document.Snapshot) error {
	data, err := document.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("tools/%s/v%d.json", snap.DocumentID, snap.Version)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}
