package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eargollo/dif/internal/db"
)

func TestOpenCreatesParentDirAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "hashes.db")

	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	// Running twice must be a no-op.
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations (second run): %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	var name string
	err = database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'hashes'`).Scan(&name)
	if err != nil {
		t.Fatalf("hashes table missing: %v", err)
	}
}

func TestHashesTableAllowsRepeatedPaths(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "hashes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer database.Close()
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := database.Exec(`INSERT INTO hashes (path, hash) VALUES (?, ?)`, "/a.jpg", []byte{byte(i)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM hashes WHERE path = ?`, "/a.jpg").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows for /a.jpg: got %d, want 2", n)
	}
}
