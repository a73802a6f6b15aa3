package core

import (
	"context"
	"fmt"

	blob "entitycore/internal/infra/blob/core"
	blobfs "entitycore/internal/infra/blob/fs"
	blobmemory "entitycore/internal/infra/blob/memory"
	blobs3 "entitycore/internal/infra/blob/s3"
	"entitycore/internal/infra/persistence/memory"
	"entitycore/internal/infra/persistence/postgres"
	"entitycore/internal/infra/persistence/sqlite"

	"github.com/caarlos0/env/v11"
)

// StorageDriver identifies a concrete snapshot repository implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig is the environment surface of OpenRepository.
type StorageConfig struct {
	Driver      string `env:"ENTITYCORE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"ENTITYCORE_SQLITE_PATH"`
	PostgresDSN string `env:"ENTITYCORE_POSTGRES_DSN"`
}

// OpenRepository selects a snapshot repository from the environment.
// Defaults to sqlite when unset.
//
//	ENTITYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ENTITYCORE_SQLITE_PATH: path to the sqlite file (default ./entitycore.db)
//	ENTITYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenRepository() (Repository, error) {
	cfg, err := env.ParseAs[StorageConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse storage config: %w", err)
	}
	return openRepository(cfg)
}

func openRepository(cfg StorageConfig) (Repository, error) {
	switch StorageDriver(cfg.Driver) {
	case StorageMemory:
		return memory.NewRepository(), nil
	case StorageSQLite:
		return sqlite.NewRepository(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewRepository(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// ArchiveConfig is the environment surface of OpenArchive.
type ArchiveConfig struct {
	Driver string `env:"ENTITYCORE_BLOB_DRIVER"`
	FSRoot string `env:"ENTITYCORE_BLOB_FS_ROOT"`
}

// OpenArchive selects a snapshot archive store from the environment. An
// empty driver returns nil with no error: archiving stays off unless
// configured.
//
//	ENTITYCORE_BLOB_DRIVER: fs|memory|s3 (default off)
//	ENTITYCORE_BLOB_FS_ROOT: root directory for driver=fs (default ./blobdata)
//	ENTITYCORE_BLOB_S3_BUCKET and friends: see the s3 backend
func OpenArchive(ctx context.Context) (blob.Store, error) {
	cfg, err := env.ParseAs[ArchiveConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse archive config: %w", err)
	}
	return openArchive(ctx, cfg)
}

func openArchive(ctx context.Context, cfg ArchiveConfig) (blob.Store, error) {
	switch blob.Driver(cfg.Driver) {
	case "":
		return nil, nil
	case blob.DriverMemory:
		return blobmemory.New(), nil
	case blob.DriverFilesystem:
		return blobfs.New(cfg.FSRoot)
	case blob.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
