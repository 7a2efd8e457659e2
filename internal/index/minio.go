package index

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioSource enumerates an S3-compatible bucket: the first path segment
// of an object key is the collection, the remainder is the item key.
type MinioSource struct {
	client *minio.Client
	bucket string
}

// MinioConfig holds the connection settings for an S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioSource(cfg MinioConfig) (*MinioSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioSource{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioSource) Collections(ctx context.Context) ([]Collection, error) {
	counts := make(map[string]int)
	var order []string

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.bucket, object.Err)
		}
		collection, key, ok := strings.Cut(object.Key, "/")
		if !ok || !isMsgKey(key) {
			continue
		}
		if _, seen := counts[collection]; !seen {
			order = append(order, collection)
		}
		counts[collection]++
	}

	collections := make([]Collection, 0, len(order))
	for _, id := range order {
		collections = append(collections, Collection{ID: id, Count: counts[id]})
	}
	return collections, nil
}

func (s *MinioSource) Items(ctx context.Context, collection string) ([]ItemHandle, error) {
	if collection == "" || strings.Contains(collection, "/") {
		return nil, ErrUnknownCollection
	}

	var handles []ItemHandle
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    collection + "/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list collection %s: %w", collection, object.Err)
		}
		key := strings.TrimPrefix(object.Key, collection+"/")
		if !isMsgKey(key) {
			continue
		}
		handles = append(handles, ItemHandle{
			Collection: collection,
			Key:        key,
			ModTime:    object.LastModified,
		})
	}
	// An empty prefix is indistinguishable from a missing one in S3, so a
	// collection with no items reads as unknown.
	if len(handles) == 0 {
		return nil, ErrUnknownCollection
	}
	return handles, nil
}

func (s *MinioSource) Open(ctx context.Context, handle ItemHandle) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, handle.Collection+"/"+handle.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", handle.Collection, handle.Key, err)
	}
	return object, nil
}

func isMsgKey(key string) bool {
	return key != "" && !strings.Contains(key, "/") &&
		strings.HasSuffix(strings.ToLower(key), ".msg")
}
