package core

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	blob "entitycore/internal/infra/blob/core"
	"entitycore/internal/infra/persistence/memory"
	"entitycore/internal/infra/persistence/postgres"
	"entitycore/internal/infra/persistence/sqlite"
)

// withEnv sets (or unsets, for "") one variable for the duration of fn and
// restores the prior state afterwards.
func withEnv(key, value string, fn func()) {
	orig, had := os.LookupEnv(key)
	if value == "" {
		_ = os.Unsetenv(key)
	} else {
		_ = os.Setenv(key, value)
	}
	defer func() {
		if had {
			_ = os.Setenv(key, orig)
		} else {
			_ = os.Unsetenv(key)
		}
	}()
	fn()
}

func TestOpenRepositoryDefaultSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.db")
	withEnv("ENTITYCORE_STORAGE_DRIVER", "", func() {
		withEnv("ENTITYCORE_SQLITE_PATH", path, func() {
			repo, err := OpenRepository()
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			store, ok := repo.(*sqlite.Repository)
			if !ok {
				t.Fatalf("default repository = %T, want *sqlite.Repository", repo)
			}
			defer store.Close()
			if store.Path() != path {
				t.Fatalf("sqlite path = %q, want %q", store.Path(), path)
			}
		})
	})
}

func TestOpenRepositoryMemory(t *testing.T) {
	withEnv("ENTITYCORE_STORAGE_DRIVER", "memory", func() {
		repo, err := OpenRepository()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, ok := repo.(*memory.Repository); !ok {
			t.Fatalf("repository = %T, want *memory.Repository", repo)
		}
	})
}

func TestOpenRepositoryPostgresPassesDSN(t *testing.T) {
	var gotDSN string
	restore := postgres.OverrideSQLOpen(func(driverName, dataSourceName string) (*sql.DB, error) {
		gotDSN = dataSourceName
		return nil, errors.New("dial refused")
	})
	defer restore()

	withEnv("ENTITYCORE_STORAGE_DRIVER", "postgres", func() {
		withEnv("ENTITYCORE_POSTGRES_DSN", "postgres://stub/entitycore", func() {
			_, err := OpenRepository()
			if err == nil {
				t.Fatalf("expected the stubbed open to fail")
			}
			if !strings.Contains(err.Error(), "open postgres") {
				t.Fatalf("error %v does not come from the postgres backend", err)
			}
		})
	})
	if gotDSN != "postgres://stub/entitycore" {
		t.Fatalf("dsn = %q, want the configured one", gotDSN)
	}
}

func TestOpenRepositoryUnknownDriver(t *testing.T) {
	withEnv("ENTITYCORE_STORAGE_DRIVER", "gibberish", func() {
		repo, err := OpenRepository()
		if err == nil || repo != nil {
			t.Fatalf("unknown driver: repo=%v err=%v", repo, err)
		}
		if !strings.Contains(err.Error(), "unknown storage driver gibberish") {
			t.Fatalf("error %v does not name the driver", err)
		}
	})
}

func TestOpenArchiveVariants(t *testing.T) {
	ctx := context.Background()

	withEnv("ENTITYCORE_BLOB_DRIVER", "", func() {
		store, err := OpenArchive(ctx)
		if err != nil || store != nil {
			t.Fatalf("unset driver: store=%v err=%v, want archiving off", store, err)
		}
	})

	withEnv("ENTITYCORE_BLOB_DRIVER", "memory", func() {
		store, err := OpenArchive(ctx)
		if err != nil {
			t.Fatalf("memory archive: %v", err)
		}
		if store.Driver() != blob.DriverMemory {
			t.Fatalf("driver = %q, want %q", store.Driver(), blob.DriverMemory)
		}
	})

	withEnv("ENTITYCORE_BLOB_DRIVER", "fs", func() {
		withEnv("ENTITYCORE_BLOB_FS_ROOT", t.TempDir(), func() {
			store, err := OpenArchive(ctx)
			if err != nil {
				t.Fatalf("fs archive: %v", err)
			}
			if store.Driver() != blob.DriverFilesystem {
				t.Fatalf("driver = %q, want %q", store.Driver(), blob.DriverFilesystem)
			}
		})
	})

	withEnv("ENTITYCORE_BLOB_DRIVER", "s3", func() {
		withEnv("ENTITYCORE_BLOB_S3_BUCKET", "", func() {
			_, err := OpenArchive(ctx)
			if err == nil || !strings.Contains(err.Error(), "ENTITYCORE_BLOB_S3_BUCKET") {
				t.Fatalf("s3 without bucket: %v, want the missing variable named", err)
			}
		})
	})

	withEnv("ENTITYCORE_BLOB_DRIVER", "tape", func() {
		_, err := OpenArchive(ctx)
		if err == nil || !strings.Contains(err.Error(), "unknown blob driver tape") {
			t.Fatalf("unknown blob driver: %v", err)
		}
	})
}
