package stores

import (
	"context"
	"workflow-preview/config"
	"workflow-preview/core"
	"workflow-preview/stores/aws"
	"workflow-preview/stores/filesystem"
	"workflow-preview/stores/memory"
	"workflow-preview/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Index is a union interface of the preview record stores.
type Index interface {
	core.PreviewIndex
	core.DeletionQueue
}

// GetObjectStore builds the object store selected by cfg.Mode.
func GetObjectStore(ctx context.Context, cfg config.StorageConfig) (core.ObjectStore, error) {
	var store core.ObjectStore

	storageField := logrus.Fields{
		"storageType": cfg.Mode,
		"keyPrefix":   cfg.KeyPrefix,
	}

	switch cfg.Mode {
	case config.StorageFilesystem:
		fsStore, err := filesystem.NewStore(cfg.LocalPath, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		storageField["basePath"] = fsStore.BasePath()
		store = fsStore
	case config.StorageS3:
		s3Store, err := aws.NewStore(ctx, aws.Options{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		storageField["bucketName"] = cfg.Bucket
		store = s3Store
	default:
		store = memory.NewObjectStore(cfg.PublicBaseURL)
		storageField["storageType"] = "in-memory"
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}

// GetIndex builds the preview index selected by cfg.Mode.
func GetIndex(cfg config.IndexConfig) (Index, error) {
	indexField := logrus.Fields{
		"indexType": cfg.Mode,
	}

	var index Index
	switch cfg.Mode {
	case config.IndexSQLite:
		sqliteStore, err := sqlite.NewStore(cfg.DataSourceName)
		if err != nil {
			return nil, err
		}
		indexField["dataSourceName"] = cfg.DataSourceName
		index = sqliteStore
	default:
		index = memory.NewIndex()
		indexField["indexType"] = "in-memory"
	}

	logrus.WithFields(indexField).Info("Use preview index")
	return index, nil
}
