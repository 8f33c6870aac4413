package postgres

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrations_ArePaired(t *testing.T) {
	t.Parallel()

	source, err := iofs.New(migrationsFS, "sql/migrations")
	if err != nil {
		t.Fatalf("open embedded migrations: %v", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}

	count := 0
	for {
		count++
		up, _, err := source.ReadUp(version)
		if err != nil {
			t.Fatalf("read up %d: %v", version, err)
		}
		_ = up.Close()
		down, _, err := source.ReadDown(version)
		if err != nil {
			t.Fatalf("read down %d: %v", version, err)
		}
		_ = down.Close()

		next, err := source.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			t.Fatalf("next after %d: %v", version, err)
		}
		version = next
	}

	if count != 2 {
		t.Fatalf("expected 2 migrations, got %d", count)
	}
}
