package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/getmanbill/fusion360-mcp/internal/logger"
	"github.com/getmanbill/fusion360-mcp/pkg/snapshot"
	snapshotBadger "github.com/getmanbill/fusion360-mcp/pkg/snapshot/badger"
	snapshotMemory "github.com/getmanbill/fusion360-mcp/pkg/snapshot/memory"
	snapshotS3 "github.com/getmanbill/fusion360-mcp/pkg/snapshot/s3"
)

// BadgerStoreConfig is the decoded form of the snapshot.badger section.
type BadgerStoreConfig struct {
	// DBPath is the BadgerDB directory
	DBPath string `mapstructure:"db_path"`
}

// S3StoreConfig is the decoded form of the snapshot.s3 section.
type S3StoreConfig struct {
	// Bucket is the S3 bucket name (required)
	Bucket string `mapstructure:"bucket"`

	// Region is the AWS region (required)
	Region string `mapstructure:"region"`

	// KeyPrefix is an optional prefix for all object keys
	KeyPrefix string `mapstructure:"key_prefix"`

	// Endpoint is an optional custom endpoint for S3-compatible storage
	// (MinIO, Localstack)
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey are optional static credentials;
	// when unset the default AWS credential chain is used
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries is the request retry limit for transient S3 failures
	MaxRetries int `mapstructure:"max_retries"`
}

// CreateSnapshotStore creates a snapshot store based on configuration.
//
// The Snapshot.Type field selects the implementation; the matching
// type-specific map is decoded into that implementation's config.
func CreateSnapshotStore(ctx context.Context, cfg *Config) (snapshot.Store, error) {
	switch cfg.Snapshot.Type {
	case "memory":
		logger.Info("snapshot store: memory (no persistence)")
		return snapshotMemory.NewMemorySnapshotStore(), nil

	case "badger":
		var storeCfg BadgerStoreConfig
		if err := mapstructure.Decode(cfg.Snapshot.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("badger snapshot store: invalid configuration: %w", err)
		}

		store, err := snapshotBadger.NewBadgerSnapshotStore(ctx, snapshotBadger.BadgerSnapshotStoreConfig{
			DBPath: storeCfg.DBPath,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("snapshot store: badger at %s", storeCfg.DBPath)
		return store, nil

	case "s3":
		var storeCfg S3StoreConfig
		if err := mapstructure.Decode(cfg.Snapshot.S3, &storeCfg); err != nil {
			return nil, fmt.Errorf("S3 snapshot store: invalid configuration: %w", err)
		}
		return createS3SnapshotStore(ctx, storeCfg)

	default:
		return nil, fmt.Errorf("unknown snapshot store type: %s", cfg.Snapshot.Type)
	}
}

func createS3SnapshotStore(ctx context.Context, storeCfg S3StoreConfig) (snapshot.Store, error) {
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 snapshot store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 snapshot store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	if storeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility
		if storeCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := snapshotS3.NewS3SnapshotStore(ctx, snapshotS3.S3SnapshotStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 snapshot store: %w", err)
	}

	logger.Info("snapshot store: s3 bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}
