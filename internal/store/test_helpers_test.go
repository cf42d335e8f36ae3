package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/meshtrace/internal/bundle"
)

const testTable = "obs"

// createTestStore creates a sqlite store in a temp dir with the observation
// table already created.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s := openTestStore(t)
	if err := s.CreateTable(context.Background(), testTable); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
	return s
}

// openTestStore opens an empty sqlite store without creating any table.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), Config{Driver: DialectSQLite, Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// obs builds an observation with minimal required fields.
// A negative ms leaves the insert time unset.
func obs(tablet, fileID, name string, ms int64, origin bool) bundle.Observation {
	o := bundle.Observation{
		TabletID: tablet,
		FileID:   fileID,
		FileName: name,
		FileSize: 100,
		Origin:   origin,
	}
	if ms >= 0 {
		o.FileInsertTime = bundle.InsertTime(ms)
	}
	return o
}

// seed inserts observations into the test table.
func seed(t *testing.T, s *Store, rows ...bundle.Observation) {
	t.Helper()
	if _, err := s.InsertObservations(context.Background(), testTable, rows); err != nil {
		t.Fatalf("InsertObservations() failed: %v", err)
	}
}
