// Package s3 provides a snapshot store backed by Amazon S3 or any
// S3-compatible object store (MinIO, Localstack).
//
// Each snapshot is one object; the object key mirrors the snapshot name, so
// the bucket contents stay human-readable and inspectable.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/getmanbill/fusion360-mcp/internal/fusion"
	"github.com/getmanbill/fusion360-mcp/pkg/snapshot"
)

// S3SnapshotStore implements snapshot.Store on top of an S3 bucket.
//
// Safe for concurrent use; concurrent saves of the same name are
// last-write-wins, which matches the Store contract.
type S3SnapshotStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// S3SnapshotStoreConfig contains configuration for the S3 snapshot store.
type S3SnapshotStoreConfig struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the S3 bucket name. Must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys, e.g.
	// "fusionmcp/snapshots/".
	KeyPrefix string
}

// NewS3SnapshotStore verifies bucket access and returns the store. The
// bucket must already exist; this function does not create it.
func NewS3SnapshotStore(ctx context.Context, cfg S3SnapshotStoreConfig) (*S3SnapshotStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3SnapshotStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3SnapshotStore) objectKey(name string) string {
	return s.keyPrefix + name + ".json"
}

func (s *S3SnapshotStore) Save(ctx context.Context, name string, design *fusion.Design) error {
	data, err := snapshot.Encode(design)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", name, err)
	}
	return nil
}

func (s *S3SnapshotStore) Load(ctx context.Context, name string) (*fusion.Design, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return snapshot.Decode(data)
}

func (s *S3SnapshotStore) List(ctx context.Context) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			key = strings.TrimPrefix(key, s.keyPrefix)
			key = strings.TrimSuffix(key, ".json")
			names = append(names, key)
		}
	}

	sort.Strings(names)
	return names, nil
}

// Close is a no-op; the S3 client holds no local resources.
func (s *S3SnapshotStore) Close() error {
	return nil
}
