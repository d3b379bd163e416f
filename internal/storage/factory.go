package storage

import (
	"context"
	"fmt"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/storage/badger"
	"github.com/AyanbekDos/smeta-2/internal/storage/gcs"
	"github.com/AyanbekDos/smeta-2/internal/storage/s3"
	"github.com/ternarybob/arbor"
)

// NewBlobStore creates the archive blob store selected by config.
// Missing credentials are not fatal: the returned store reports
// Configured() == false and archival is skipped.
func NewBlobStore(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.BlobStore, error) {
	switch config.Storage.Type {
	case "yandex":
		store, err := s3.NewBlobStorage(&config.Storage.Yandex, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Yandex storage not configured, archival disabled")
			return Disabled{}, nil
		}
		return store, nil
	case "gcs":
		store, err := gcs.NewBlobStorage(ctx, &config.Storage.GCS, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("GCS storage not configured, archival disabled")
			return Disabled{}, nil
		}
		return store, nil
	case "badger":
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		return badger.NewBlobStorage(db, logger), nil
	case "none", "":
		logger.Info().Msg("Archive storage disabled")
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Storage.Type)
	}
}

// Disabled is the blob store used when archival is turned off.
// Reads find nothing and writes are dropped.
type Disabled struct{}

func (Disabled) Configured() bool { return false }

func (Disabled) Put(context.Context, string, []byte, string) error { return nil }

func (Disabled) PutEncoded(context.Context, string, []byte, string, string) error { return nil }

func (Disabled) Get(_ context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", interfaces.ErrBlobNotFound, key)
}

func (Disabled) Exists(context.Context, string) (bool, error) { return false, nil }

func (Disabled) List(context.Context, string) ([]string, error) { return nil, nil }

func (Disabled) Delete(context.Context, string) error { return nil }

func (Disabled) Close() error { return nil }
