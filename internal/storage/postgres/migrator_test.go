package postgres

import (
	"testing"
	"testing/fstest"
)

func TestParseMigrationFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base    string
		version int64
		name    string
		up      bool
		wantErr bool
	}{
		{base: "0001_create_orders.up.sql", version: 1, name: "create_orders", up: true},
		{base: "0002_outbox_and_timeline.down.sql", version: 2, name: "outbox_and_timeline", up: false},
		{base: "0001_create_orders.sql", wantErr: true},
		{base: "readme.txt", wantErr: true},
		{base: "noversion.up.sql", wantErr: true},
		{base: "abc_orders.up.sql", wantErr: true},
	}

	for _, tt := range tests {
		version, name, up, err := parseMigrationFilename(tt.base)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got none", tt.base)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.base, err)
			continue
		}
		if version != tt.version || name != tt.name || up != tt.up {
			t.Errorf("%s: got version=%d name=%s up=%v", tt.base, version, name, up)
		}
	}
}

func TestLoadMigrations_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_a;"),
		},
		"sql/migrations/0002_more.up.sql": {
			Data: []byte("CREATE TABLE test_b (id INT);"),
		},
		"sql/migrations/0002_more.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_b;"),
		},
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrations_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for missing down migration")
	}
}

func TestLoadMigrations_InconsistentNames(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
		"sql/migrations/0001_other.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_a;"),
		},
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for inconsistent migration names")
	}
}

func TestLoadMigrations_EmptyFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test;"),
		},
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for empty migration file body")
	}
}

func TestLoadMigrations_EmbeddedSchema(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations must load: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
}
