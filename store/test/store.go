package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hrygo/mirrord/internal/profile"
	"github.com/hrygo/mirrord/store"
	"github.com/hrygo/mirrord/store/db"
)

// NewTestingStore opens a migrated store for the driver named by DRIVER
// (sqlite by default). PostgreSQL runs need POSTGRES_TEST_DSN.
func NewTestingStore(ctx context.Context, t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	p := getTestingProfile(t)
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	ts := store.New(driver, p, opts...)
	if err := ts.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		_ = ts.Close()
	})
	return ts
}

func getTestingProfile(t *testing.T) *profile.Profile {
	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: getDriverFromEnv(),
	}
	switch p.Driver {
	case "sqlite":
		p.DSN = filepath.Join(dir, "mirrord_test.db")
	case "postgres":
		p.DSN = os.Getenv("POSTGRES_TEST_DSN")
		if p.DSN == "" {
			t.Skip("POSTGRES_TEST_DSN not set")
		}
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}

// uniqueIdentity keeps tests independent when they share a postgres database.
func uniqueIdentity(t *testing.T) string {
	return fmt.Sprintf("%s-%d@example.com", t.Name(), time.Now().UnixNano())
}
