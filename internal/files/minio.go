package files

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object stores files in an S3-compatible bucket via the MinIO client.
type Object struct {
	client *minio.Client
	bucket string
}

func NewObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Object{client: client, bucket: cfg.Bucket}, nil
}

func (o *Object) Save(ctx context.Context, r io.Reader, documentID, fileName, mimeType string) (SavedFile, error) {
	name := SanitizeFileName(fileName)
	key := fmt.Sprintf("%s/%s/%d-%s", time.Now().UTC().Format("2006/01"), documentID, time.Now().UnixNano(), name)

	info, err := o.client.PutObject(ctx, o.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return SavedFile{}, fmt.Errorf("put object: %w", err)
	}
	return SavedFile{
		Path:     key,
		FileName: name,
		Size:     info.Size,
		MimeType: mimeType,
	}, nil
}

func (o *Object) Open(ctx context.Context, storedPath string) (io.ReadCloser, int64, string, error) {
	stat, err := o.client.StatObject(ctx, o.bucket, storedPath, minio.StatObjectOptions{})
	if err != nil {
		return nil, 0, "", fmt.Errorf("stat object: %w", err)
	}
	obj, err := o.client.GetObject(ctx, o.bucket, storedPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, "", fmt.Errorf("get object: %w", err)
	}
	return obj, stat.Size, stat.ContentType, nil
}

func (o *Object) Delete(ctx context.Context, storedPath string) error {
	return o.client.RemoveObject(ctx, o.bucket, storedPath, minio.RemoveObjectOptions{})
}
