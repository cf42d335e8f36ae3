// Package reconcile marks origin observations from survey records and purges
// bundles whose origin cannot be identified.
//
// A survey file is written on the tablet that created a bundle, at
// <root>/<tablet_id>/<subdir>/<name>. The bundle the tablet shared has the
// device-local name <name><suffix>, so (tablet_id, name+suffix) identifies
// the origin row in the observation table.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/runid"
	"github.com/roach88/meshtrace/internal/store"
	"github.com/roach88/meshtrace/internal/walk"
)

// DefaultSuffix is appended to a survey file name to form the bundle file name.
const DefaultSuffix = ".instance.sam.magdaa"

// PurgedGroup records the rows removed for one orphan bundle.
type PurgedGroup struct {
	FileID string `json:"file_id"`
	Rows   int64  `json:"rows"`
}

// Result summarizes a reconciliation run.
type Result struct {
	RunID         string          `json:"run_id"`
	SurveyFiles   int             `json:"survey_files"`
	Marked        int             `json:"marked"`
	AlreadyMarked int             `json:"already_marked"`
	Warnings      []fault.Warning `json:"warnings"`
	Purged        []PurgedGroup   `json:"purged"`
}

// PurgedRows returns the total number of rows deleted.
func (r *Result) PurgedRows() int64 {
	var n int64
	for _, g := range r.Purged {
		n += g.Rows
	}
	return n
}

// Options tune how survey files map to bundle rows.
type Options struct {
	// Suffix is appended to the survey base name. Empty means DefaultSuffix.
	Suffix string

	// Ext restricts survey files to one extension. Empty keeps every visible file.
	Ext string
}

// Reconciler marks origins and purges orphan bundles in one table.
type Reconciler struct {
	store  *store.Store
	table  string
	fs     afero.Fs
	opts   Options
	logger *slog.Logger
	runIDs runid.Generator
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithFs sets the filesystem survey files are read from. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Reconciler) {
		r.fs = fs
	}
}

// WithOptions sets the survey matching options.
func WithOptions(opts Options) Option {
	return func(r *Reconciler) {
		r.opts = opts
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithRunIDs sets the run id generator. The default generates UUIDv7 ids.
func WithRunIDs(gen runid.Generator) Option {
	return func(r *Reconciler) {
		r.runIDs = gen
	}
}

// New creates a Reconciler for table.
func New(s *store.Store, table string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  s,
		table:  table,
		fs:     afero.NewOsFs(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runIDs: runid.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.opts.Suffix == "" {
		r.opts.Suffix = DefaultSuffix
	}
	return r
}

// Reconcile marks the origin row of every survey file under surveyRoot, then
// deletes every bundle that is left without an origin row.
//
// Survey files without a matching row produce a partial_match warning and are
// skipped. More than one matching row aborts the run with
// fault.KindConsistency; marks committed before that point are kept. An
// empty survey tree returns fault.KindNoInput before the store is touched.
//
// Running Reconcile again over the same survey tree and store marks nothing
// new and purges nothing.
func (r *Reconciler) Reconcile(ctx context.Context, surveyRoot string) (*Result, error) {
	if err := r.store.RequireTable(ctx, r.table); err != nil {
		return nil, err
	}

	walker := walk.New(r.fs, walk.WithExt(r.opts.Ext))
	result := &Result{RunID: r.runIDs.Generate(), Warnings: []fault.Warning{}, Purged: []PurgedGroup{}}
	logger := r.logger.With("run_id", result.RunID, "table", r.table)

	for path, err := range walker.Files(surveyRoot) {
		if errors.Is(err, walk.ErrRoot) {
			return nil, fault.Wrap(fault.KindNoInput, "reconcile", "unable to gather a list of survey files", err)
		}
		if err != nil {
			return result, fault.Wrap(fault.KindConnectivity, "reconcile", "unable to read the survey tree", err)
		}
		result.SurveyFiles++

		tablet, fileName := MatchKey(path, r.opts.Suffix)
		outcome, err := r.store.MarkOrigin(ctx, r.table, tablet, fileName)
		if err != nil {
			return result, fmt.Errorf("reconcile %s: %w", path, err)
		}

		logger.Debug("survey file matched", "path", path, "tablet_id", tablet, "file_name", fileName, "outcome", outcome)
		switch outcome {
		case store.MarkUpdated:
			result.Marked++
		case store.MarkAlreadyOrigin:
			result.AlreadyMarked++
		default:
			w := fault.Warning{
				Kind:    fault.WarnPartialMatch,
				Path:    path,
				Message: fmt.Sprintf("found file not in rhizome (tablet %q, file %q)", tablet, fileName),
			}
			logger.Warn("survey file has no matching bundle", "path", path, "tablet_id", tablet, "file_name", fileName)
			result.Warnings = append(result.Warnings, w)
		}
	}

	if result.SurveyFiles == 0 {
		return nil, fault.Newf(fault.KindNoInput, "reconcile", "unable to locate any survey files under %s", surveyRoot)
	}

	if err := r.purge(ctx, logger, result); err != nil {
		return result, err
	}

	logger.Info("reconciliation complete",
		"survey_files", result.SurveyFiles,
		"marked", result.Marked,
		"already_marked", result.AlreadyMarked,
		"warnings", len(result.Warnings),
		"purged_groups", len(result.Purged),
	)
	return result, nil
}

// purge deletes every bundle without an origin row, one group at a time.
func (r *Reconciler) purge(ctx context.Context, logger *slog.Logger, result *Result) error {
	orphans, err := r.store.OrphanFileIDs(ctx, r.table)
	if err != nil {
		return fmt.Errorf("reconcile: list orphans: %w", err)
	}

	for _, fileID := range orphans {
		n, err := r.store.DeleteFileID(ctx, r.table, fileID)
		if err != nil {
			return fmt.Errorf("reconcile: purge %s: %w", fileID, err)
		}
		if n == 0 {
			logger.Warn("unable to delete erroneous bundle", "file_id", fileID)
			continue
		}
		logger.Info("deleted erroneous bundle", "file_id", fileID, "rows", n)
		result.Purged = append(result.Purged, PurgedGroup{FileID: fileID, Rows: n})
	}
	return nil
}

// MatchKey derives the (tablet_id, file_name) pair identifying the origin row
// of a survey file: the tablet id is the name of the file's grandparent
// directory and the file name is the base name plus suffix, NFC-normalised.
func MatchKey(path, suffix string) (tabletID, fileName string) {
	dir := filepath.Dir(path)
	tabletID = norm.NFC.String(filepath.Base(filepath.Dir(dir)))
	fileName = norm.NFC.String(filepath.Base(path) + suffix)
	return tabletID, fileName
}
