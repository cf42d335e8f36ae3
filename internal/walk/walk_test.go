package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meshtrace/internal/testutil"
)

func writeTree(t *testing.T, fs afero.Fs, files ...string) {
	t.Helper()
	for _, f := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(f), 0755))
		require.NoError(t, afero.WriteFile(fs, f, []byte("x"), 0644))
	}
}

func TestFiles_SkipsHidden(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs,
		"/survey/t01/forms/a.xml",
		"/survey/t01/forms/.b.xml",
		"/survey/.git/config",
		"/survey/t02/forms/c.xml",
	)

	files, err := New(fs, nil).Collect("/survey")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/survey/t01/forms/a.xml",
		"/survey/t02/forms/c.xml",
	}, files)
}

func TestFiles_Deterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs,
		"/d/z/1", "/d/a/2", "/d/m/deep/er/3",
	)

	w := New(fs, nil)
	first, err := w.Collect("/d")
	require.NoError(t, err)
	second, err := w.Collect("/d")
	require.NoError(t, err)

	assert.Equal(t, []string{"/d/a/2", "/d/m/deep/er/3", "/d/z/1"}, first)
	assert.Equal(t, first, second)
}

func TestFiles_StopsEarly(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/d/1", "/d/2", "/d/3")

	var seen []string
	for path, err := range New(fs, nil).Files("/d") {
		require.NoError(t, err)
		seen = append(seen, path)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"/d/1", "/d/2"}, seen)
}

func TestFiles_MissingRoot(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := New(fs, nil).Collect("/nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoot)
	assert.Contains(t, err.Error(), "/nope")
}

func TestFiles_RootIsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/file")

	_, err := New(fs, nil).Collect("/file")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoot)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestFiles_UnreadableSubdirectory(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeTree(t, mem,
		"/survey/t01/forms/a.xml",
		"/survey/t02/forms/b.xml",
	)
	fs := testutil.DeniedFs{Fs: mem, Dir: "/survey/t02"}

	var got []string
	var walkErr error
	for path, err := range New(fs, nil).Files("/survey") {
		if err != nil {
			walkErr = err
			break
		}
		got = append(got, path)
	}

	assert.Equal(t, []string{"/survey/t01/forms/a.xml"}, got)
	require.Error(t, walkErr)
	assert.ErrorIs(t, walkErr, os.ErrPermission)
	assert.NotErrorIs(t, walkErr, ErrRoot)
}

func TestPredicates(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs,
		"/data/t01/rhizome.db",
		"/data/t01/notes.txt",
		"/data/t02/survey/a.xml",
	)

	dbs, err := New(fs, Named("rhizome.db")).Collect("/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/t01/rhizome.db"}, dbs)

	xml, err := New(fs, WithExt("xml")).Collect("/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/t02/survey/a.xml"}, xml)

	all, err := New(fs, WithExt("")).Collect("/data")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden(".DS_Store"))
	assert.False(t, IsHidden("."))
	assert.False(t, IsHidden(".."))
	assert.False(t, IsHidden("survey.xml"))
}
