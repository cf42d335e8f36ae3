// Package walk enumerates dataset files under a directory tree.
//
// A Walker is a lazy, restartable producer: every call to Files starts a fresh
// traversal, and the traversal only advances as far as the consumer reads.
// Directory entries are visited in lexical order, so two walks of an unchanged
// tree yield the same sequence.
package walk

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Predicate selects files by path and info.
type Predicate func(path string, info os.FileInfo) bool

// Walker produces the paths of files matching a predicate under a root.
type Walker struct {
	fs   afero.Fs
	keep Predicate
}

// errStop ends a walk early when the consumer stops reading.
var errStop = errors.New("walk stopped")

// ErrRoot marks errors caused by a root that is missing or not a directory,
// as opposed to I/O failures inside the tree.
var ErrRoot = errors.New("unusable walk root")

// New creates a Walker over fs. Hidden files and directories are always
// skipped; keep further narrows the visible files (nil keeps every file).
func New(fs afero.Fs, keep Predicate) *Walker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Walker{fs: fs, keep: keep}
}

// Files yields matching file paths under root. A walk error is yielded once
// with an empty path and ends the sequence.
func (w *Walker) Files(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, err := w.fs.Stat(root)
		if err != nil {
			yield("", fmt.Errorf("%w: stat %s: %w", ErrRoot, root, err))
			return
		}
		if !info.IsDir() {
			yield("", fmt.Errorf("%w: not a directory: %s", ErrRoot, root))
			return
		}

		err = afero.Walk(w.fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path != root && IsHidden(info.Name()) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if w.keep != nil && !w.keep(path, info) {
				return nil
			}
			if !yield(path, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield("", fmt.Errorf("walk %s: %w", root, err))
		}
	}
}

// Collect materializes a walk into a slice.
func (w *Walker) Collect(root string) ([]string, error) {
	var files []string
	for path, err := range w.Files(root) {
		if err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, nil
}

// IsHidden reports whether a file name is hidden by the dot-file convention.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// WithExt keeps files whose extension equals ext. An empty ext keeps everything.
func WithExt(ext string) Predicate {
	if ext == "" {
		return nil
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return func(path string, _ os.FileInfo) bool {
		return filepath.Ext(path) == ext
	}
}

// Named keeps files whose base name equals name.
func Named(name string) Predicate {
	return func(_ string, info os.FileInfo) bool {
		return info.Name() == name
	}
}
