// Package testutil provides shared test helpers for stores and sources.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/starford/taskloader/internal/source"
	"github.com/starford/taskloader/internal/store"
)

// TestSQLite creates a temporary SQLite store that is automatically cleaned up.
func TestSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "taskloader-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := store.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestRedis creates a Redis store backed by an in-process miniredis server.
func TestRedis(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedis(client, "test:")
	t.Cleanup(func() { s.Close() })
	return s, mr
}

// TestDir writes files into a temporary directory and returns a Dir source over it.
func TestDir(t *testing.T, files map[string]string) (string, *source.Dir) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		WriteFile(t, root, name, content)
	}
	d, err := source.NewDir(root, ".md")
	if err != nil {
		t.Fatal(err)
	}
	return root, d
}

// WriteFile writes content to root/name, creating parent directories.
func WriteFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
