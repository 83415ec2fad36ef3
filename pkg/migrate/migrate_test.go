package migrate

import (
	"testing"
	"testing/fstest"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: ":memory:"}), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

var testFS = fstest.MapFS{
	"m/001_create_notes.up.sql":   {Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)")},
	"m/001_create_notes.down.sql": {Data: []byte("DROP TABLE notes")},
	"m/002_notes_body.up.sql":     {Data: []byte("CREATE INDEX idx_notes_body ON notes (body)")},
	"m/002_notes_body.down.sql":   {Data: []byte("DROP INDEX idx_notes_body")},
	"m/README.md":                 {Data: []byte("ignored")},
}

func TestFSProvider(t *testing.T) {
	migrations, err := NewFSProvider(testFS, "m").GetMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	for _, m := range migrations {
		if m.Up == "" || m.Down == "" {
			t.Errorf("migration %d incomplete: %+v", m.Version, m)
		}
		if m.Version == 1 && m.Name != "create notes" {
			t.Errorf("name = %q", m.Name)
		}
	}

	broken := fstest.MapFS{"m/003_only_down.down.sql": {Data: []byte("SELECT 1")}}
	if _, err := NewFSProvider(broken, "m").GetMigrations(); err == nil {
		t.Error("expected an error for a migration without up file")
	}
}

func TestMigrateUpAndDown(t *testing.T) {
	db := openDB(t)
	m := NewMigrator(db, NewFSProvider(testFS, "m"), "")

	applied, err := m.MigrateUp()
	if err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if v, _ := m.CurrentVersion(); v != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", v)
	}
	if applied, err := m.MigrateUp(); err != nil || applied != 0 {
		t.Errorf("second MigrateUp() = %d, %v", applied, err)
	}

	if err := m.MigrateDown(1); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if v, _ := m.CurrentVersion(); v != 1 {
		t.Errorf("CurrentVersion() after rollback = %d, want 1", v)
	}
	pending, err := m.Pending()
	if err != nil || len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("Pending() = %v, %v", pending, err)
	}
	if err := m.MigrateDown(1); err == nil {
		t.Error("expected an error rolling back to the current version")
	}
}

func TestMigrateUpFailureKeepsVersion(t *testing.T) {
	db := openDB(t)
	fsys := fstest.MapFS{
		"m/001_ok.up.sql":  {Data: []byte("CREATE TABLE a (id INTEGER)")},
		"m/002_bad.up.sql": {Data: []byte("CREATE TABLE")},
	}
	m := NewMigrator(db, NewFSProvider(fsys, "m"), "versions")
	applied, err := m.MigrateUp()
	if err == nil {
		t.Fatal("expected an error")
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if v, _ := m.CurrentVersion(); v != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", v)
	}
}
