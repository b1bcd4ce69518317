package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes an S3-compatible bucket for mirrored artifacts.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// S3Mirror uploads artifacts to an S3-compatible object store.
type S3Mirror struct {
	client *minio.Client
	bucket string
}

// NewS3Mirror connects to the object store and creates the bucket if needed.
func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &S3Mirror{client: client, bucket: cfg.Bucket}, nil
}

// Put implements Mirror.
func (m *S3Mirror) Put(ctx context.Context, name, localPath string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, name, localPath, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	return err
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
