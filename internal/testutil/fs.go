package testutil

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DeniedFs wraps an afero.Fs and refuses to open Dir, as an unreadable
// directory would. Stat still succeeds, so walks reach Dir and fail inside it.
type DeniedFs struct {
	afero.Fs
	Dir string
}

// Open returns a permission error for Dir.
func (d DeniedFs) Open(name string) (afero.File, error) {
	if filepath.Clean(name) == filepath.Clean(d.Dir) {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return d.Fs.Open(name)
}
