package runstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/imamik/shipyard/internal/config"
)

// Credentials for the s3 backend come from the environment only.
const (
	EnvS3AccessKey = "SHIPYARD_S3_ACCESS_KEY"
	EnvS3SecretKey = "SHIPYARD_S3_SECRET_KEY"
	EnvS3PathStyle = "SHIPYARD_S3_PATH_STYLE"
)

// Open creates the Store configured by cfg. The s3 backend checks that its
// bucket is reachable.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	switch cfg.Backend {
	case config.StoreFile, "":
		path := cfg.Path
		if path == "" {
			path = config.DefaultStorePath
		}
		return New(NewFileBackend(path)), nil

	case config.StoreS3:
		accessKey, secretKey := os.Getenv(EnvS3AccessKey), os.Getenv(EnvS3SecretKey)
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("%s and %s are required for the s3 backend", EnvS3AccessKey, EnvS3SecretKey)
		}
		pathStyle, _ := strconv.ParseBool(os.Getenv(EnvS3PathStyle))

		backend, err := NewS3Backend(ctx, S3Options{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			AccessKey: accessKey,
			SecretKey: secretKey,
			PathStyle: pathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err := backend.CheckBucket(ctx); err != nil {
			return nil, err
		}
		return New(backend), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
