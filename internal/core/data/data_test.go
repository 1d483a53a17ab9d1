package data

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core"
)

// Creates a database for testing. For the sake of simplicity, this only uses the
// SQLite engine and creates a new database on every invocation since it is relatively
// cheap to do so (especially given the low number of tests). If this ever becomes
// prohibitive due to performance, this approach will need to be reevaluated.
func setUpDatabase(t *testing.T) *gorm.DB {
	testDBFile := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(testDBFile))
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}

	if err = Migrate(db); err != nil {
		t.Fatalf("error auto migrating db: %s", err)
	}
	return db
}

func TestOpen(t *testing.T) {
	cfg := &core.Config{ConfigDir: t.TempDir()}
	cfg.Database.Engine = "SQLite"
	cfg.Database.Filename = "mcos.db"

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	if !db.Migrator().HasTable(&Persona{}) {
		t.Error("expected the persona table to be migrated")
	}
	if err := Close(db); err != nil {
		t.Errorf("Close() returned an unexpected error: %v", err)
	}

	cfg.Database.Engine = "mongodb"
	if _, err := Open(cfg); err == nil {
		t.Error("expected an error for an unsupported engine")
	}
}
