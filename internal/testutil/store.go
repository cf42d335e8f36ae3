// Package testutil provides shared fixtures for meshtrace tests: temporary
// observation stores and device manifest databases.
package testutil

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/roach88/meshtrace/internal/bundle"
	"github.com/roach88/meshtrace/internal/store"
)

// Table is the observation table created by NewStore.
const Table = "obs"

// StorePath returns a fresh sqlite database path inside a test temp dir.
func StorePath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "shared.db")
}

// NewStore opens a sqlite store at StorePath, creates Table and seeds it with
// rows. The store is closed when the test ends.
func NewStore(t testing.TB, rows ...bundle.Observation) *store.Store {
	t.Helper()
	return NewStoreAt(t, StorePath(t), rows...)
}

// NewStoreAt is NewStore for a caller-chosen path, so the same database can
// later be opened through a config file.
func NewStoreAt(t testing.TB, path string, rows ...bundle.Observation) *store.Store {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{Driver: store.DialectSQLite, Path: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.CreateTable(ctx, Table); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if len(rows) > 0 {
		if _, err := s.InsertObservations(ctx, Table, rows); err != nil {
			t.Fatalf("seed observations: %v", err)
		}
	}
	return s
}

// Obs builds an observation of size bytes. A negative ms leaves the insert
// time unset.
func Obs(tablet, fileID, name string, size, ms int64, origin bool) bundle.Observation {
	o := bundle.Observation{
		TabletID: tablet,
		FileID:   fileID,
		FileName: name,
		FileSize: size,
		Origin:   origin,
	}
	if ms >= 0 {
		o.FileInsertTime = bundle.InsertTime(ms)
	}
	return o
}

// ManifestRow is one row of a device manifest table. An empty Author is
// stored as NULL.
type ManifestRow struct {
	ID         string
	Name       string
	Author     string
	InsertTime int64
	Size       int64
}

// WriteManifest creates dir/rhizome.db with a manifests table holding rows
// and returns its path. dir must be absolute.
func WriteManifest(t testing.TB, dir string, rows ...ManifestRow) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create manifest dir: %v", err)
	}
	path := filepath.Join(dir, "rhizome.db")

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=rwc"}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE manifests (
		id TEXT PRIMARY KEY, version INTEGER, inserttime INTEGER,
		filesize INTEGER, author TEXT, name TEXT
	)`); err != nil {
		t.Fatalf("create manifests table: %v", err)
	}

	for _, r := range rows {
		var author any
		if r.Author != "" {
			author = r.Author
		}
		if _, err := db.Exec(`INSERT INTO manifests (id, version, inserttime, filesize, author, name)
			VALUES (?, 1, ?, ?, ?, ?)`, r.ID, r.InsertTime, r.Size, author, r.Name); err != nil {
			t.Fatalf("insert manifest row %s: %v", r.ID, err)
		}
	}
	return path
}
