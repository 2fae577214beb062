package stores

import (
	"context"
	"devsync-server/config"
	"devsync-server/core"
	"devsync-server/stores/aws"
	"devsync-server/stores/filesystem"
	"devsync-server/stores/memory"
	"devsync-server/stores/sqlite"
	"fmt"

	"github.com/sirupsen/logrus"
)

// GetStore builds the RoomStore selected by cfg.Type.
func GetStore(ctx context.Context, cfg config.Storage) (core.RoomStore, error) {
	var (
		store core.RoomStore
		err   error
	)

	storageField := logrus.Fields{
		"storageType": cfg.Type,
	}

	switch cfg.Type {
	case "filesystem":
		storageField["basePath"] = cfg.LocalPath
		store, err = filesystem.NewStore(cfg.LocalPath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3Bucket
		store, err = aws.NewStore(ctx, cfg.S3Bucket)
	case "memory", "":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
