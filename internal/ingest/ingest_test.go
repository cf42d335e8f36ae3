package ingest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/runid"
	"github.com/roach88/meshtrace/internal/testutil"
)

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	// "é" written decomposed, read back composed
	path := testutil.WriteManifest(t, dir,
		testutil.ManifestRow{ID: "F1", Name: "cafe\u0301.instance.sam.magdaa", Author: "SID1", InsertTime: 1000, Size: 42},
		testutil.ManifestRow{ID: "F2", Name: "plain", InsertTime: 0, Size: 7},
	)

	rows, err := ReadManifest(context.Background(), path, "tab-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]int{}
	for i, r := range rows {
		byID[r.FileID] = i
		assert.Equal(t, "tab-1", r.TabletID)
		assert.False(t, r.Origin)
	}

	f1 := rows[byID["F1"]]
	assert.Equal(t, "caf\u00e9.instance.sam.magdaa", f1.FileName)
	assert.Equal(t, "SID1", f1.FileAuthorSID.String)
	assert.Equal(t, int64(1000), f1.FileInsertTime.Int64)
	assert.Equal(t, int64(42), f1.FileSize)

	f2 := rows[byID["F2"]]
	assert.False(t, f2.FileAuthorSID.Valid)
	assert.False(t, f2.HasInsertTime())
}

func TestReadManifest_MissingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE other (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = ReadManifest(context.Background(), path, "tab-1")
	assert.True(t, fault.Is(err, fault.KindConnectivity), "got %v", err)
}

func TestBatchImport(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	testutil.WriteManifest(t, filepath.Join(root, "tab-b"),
		testutil.ManifestRow{ID: "F1", Name: "a", InsertTime: 2000, Size: 10},
	)
	testutil.WriteManifest(t, filepath.Join(root, "tab-a"),
		testutil.ManifestRow{ID: "F1", Name: "a", InsertTime: 1000, Size: 10},
		testutil.ManifestRow{ID: "F2", Name: "b", InsertTime: 1500, Size: 20},
	)
	testutil.WriteManifest(t, filepath.Join(root, ".trash"),
		testutil.ManifestRow{ID: "F9", Name: "z", InsertTime: 1, Size: 1},
	)

	s := testutil.NewStore(t)
	im := New(s, testutil.Table, WithRunIDs(runid.NewFixedGenerator("run-1")))

	result, err := im.BatchImport(ctx, root)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, int64(3), result.Total)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "tab-a", result.Files[0].TabletID)
	assert.Equal(t, int64(2), result.Files[0].Inserted)
	assert.Equal(t, "tab-b", result.Files[1].TabletID)
	assert.Equal(t, int64(1), result.Files[1].Inserted)

	n, err := s.CountRows(ctx, testutil.Table)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	f1, err := s.Observations(ctx, testutil.Table, "F1")
	require.NoError(t, err)
	require.Len(t, f1, 2)
	assert.Equal(t, "tab-a", f1[0].TabletID)
	assert.Equal(t, "tab-b", f1[1].TabletID)
}

func TestBatchImport_TabletDirWithURICharacters(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	testutil.WriteManifest(t, filepath.Join(root, "tab?1#%2"),
		testutil.ManifestRow{ID: "F1", Name: "a", InsertTime: 1000, Size: 10},
	)

	s := testutil.NewStore(t)
	result, err := New(s, testutil.Table).BatchImport(ctx, root)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "tab?1#%2", result.Files[0].TabletID)
	assert.Equal(t, int64(1), result.Total)
}

func TestBatchImport_NoManifests(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	im := New(testutil.NewStore(t), testutil.Table)
	_, err := im.BatchImport(context.Background(), root)
	assert.True(t, fault.Is(err, fault.KindNoInput), "got %v", err)
}

func TestBatchImport_MissingRoot(t *testing.T) {
	im := New(testutil.NewStore(t), testutil.Table)
	_, err := im.BatchImport(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.True(t, fault.Is(err, fault.KindNoInput), "got %v", err)
}

func TestBatchImport_MissingTable(t *testing.T) {
	root := t.TempDir()
	testutil.WriteManifest(t, filepath.Join(root, "tab-a"), testutil.ManifestRow{ID: "F1", Name: "a", Size: 1})

	im := New(testutil.NewStore(t), "nope")
	_, err := im.BatchImport(context.Background(), root)
	assert.True(t, fault.Is(err, fault.KindNotFound), "got %v", err)
}
