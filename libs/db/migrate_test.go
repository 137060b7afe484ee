package db

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_history.sql": {Data: []byte("CREATE TABLE b (id int);")},
		"0001_init.sql":    {Data: []byte("CREATE TABLE a (id int);")},
		"README.md":        {Data: []byte("docs")},
		"seed.sql":         {Data: []byte("-- no version")},
		"x_bad.sql":        {Data: []byte("-- not numeric")},
	}
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected order: %+v", migrations)
	}
	if migrations[0].SQL != "CREATE TABLE a (id int);" {
		t.Fatalf("unexpected SQL: %q", migrations[0].SQL)
	}
}
