// Package bootstrap opens the catalog database and object store a lakequery
// binary runs against.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	catalogpostgres "github.com/lakequery/lakequery/internal/catalog/postgres"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/storage"
	"github.com/lakequery/lakequery/internal/storage/awss3"
	s3store "github.com/lakequery/lakequery/internal/storage/s3"
)

func OpenCatalog(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
}

// OpenObjectStore builds the backend named by cfg.ObjectStore.Backend. The
// results bucket is the store's home bucket.
func OpenObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	store := cfg.ObjectStore
	switch store.Backend {
	case config.BackendMinio:
		minio, err := s3store.New(ctx, s3store.Config{
			Endpoint:         store.Endpoint,
			Region:           store.Region,
			Bucket:           store.ResultsBucket,
			AccessKeyID:      store.AccessKeyID,
			SecretAccessKey:  store.SecretAccessKey,
			UseSSL:           store.UseSSL,
			AutoCreateBucket: store.AutoCreateBucket,
			MaxRetries:       store.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return minio, nil
	case config.BackendAWS:
		aws, err := awss3.New(ctx, awss3.Config{
			Region:          store.Region,
			Endpoint:        store.Endpoint,
			Bucket:          store.ResultsBucket,
			AccessKeyID:     store.AccessKeyID,
			SecretAccessKey: store.SecretAccessKey,
			UsePathStyle:    store.UsePathStyle,
			MaxRetries:      store.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return aws, nil
	default:
		return nil, fmt.Errorf("unsupported object store backend %q", store.Backend)
	}
}
