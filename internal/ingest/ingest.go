// Package ingest imports device manifests into the shared observation table.
//
// Every tablet in a deployment keeps its received bundles in a local
// rhizome.db. A dataset directory holds one subdirectory per tablet, named by
// tablet id, containing that tablet's rhizome.db. BatchImport walks the
// dataset, reads each manifest table read-only and appends one observation
// per manifest row.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/roach88/meshtrace/internal/bundle"
	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/runid"
	"github.com/roach88/meshtrace/internal/store"
	"github.com/roach88/meshtrace/internal/walk"
)

// ManifestFile is the name of a device's bundle database.
const ManifestFile = "rhizome.db"

const manifestQuery = `SELECT id, name, author, inserttime, filesize FROM manifests`

// FileResult reports the rows imported from one manifest database.
type FileResult struct {
	Path     string `json:"path"`
	TabletID string `json:"tablet_id"`
	Inserted int64  `json:"inserted"`
}

// Result summarizes a batch import.
type Result struct {
	RunID string       `json:"run_id"`
	Files []FileResult `json:"files"`
	Total int64        `json:"total"`
}

// Importer copies manifest rows into a store table.
type Importer struct {
	store  *store.Store
	table  string
	walker *walk.Walker
	logger *slog.Logger
	runIDs runid.Generator
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) {
		im.logger = logger
	}
}

// WithRunIDs sets the run id generator. The default generates UUIDv7 ids.
func WithRunIDs(gen runid.Generator) Option {
	return func(im *Importer) {
		im.runIDs = gen
	}
}

// New creates an Importer writing into table.
//
// Manifest databases are opened by path through the sqlite driver, so the
// dataset is always walked on the OS filesystem.
func New(s *store.Store, table string, opts ...Option) *Importer {
	im := &Importer{
		store:  s,
		table:  table,
		walker: walk.New(nil, walk.Named(ManifestFile)),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runIDs: runid.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// BatchImport imports every visible rhizome.db under root.
//
// The tablet id of a manifest is the name of its parent directory. Files are
// processed in lexical path order. Returns fault.KindNoInput if no manifest
// database is found and fault.KindNotFound if the table does not exist. A
// failure part way leaves earlier files imported.
func (im *Importer) BatchImport(ctx context.Context, root string) (*Result, error) {
	if err := im.store.RequireTable(ctx, im.table); err != nil {
		return nil, err
	}

	paths, err := im.walker.Collect(root)
	if errors.Is(err, walk.ErrRoot) {
		return nil, fault.Wrap(fault.KindNoInput, "ingest", "unable to gather a list of rhizome databases", err)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindConnectivity, "ingest", "unable to read the dataset tree", err)
	}
	if len(paths) == 0 {
		return nil, fault.Newf(fault.KindNoInput, "ingest", "unable to locate any %s files under %s", ManifestFile, root)
	}

	result := &Result{RunID: im.runIDs.Generate(), Files: make([]FileResult, 0, len(paths))}
	logger := im.logger.With("run_id", result.RunID)

	for _, path := range paths {
		tablet := filepath.Base(filepath.Dir(path))
		logger.Info("importing manifest", "path", path, "tablet_id", tablet)

		n, err := im.ImportFile(ctx, path, tablet)
		if err != nil {
			return result, fmt.Errorf("import %s: %w", path, err)
		}

		logger.Info("manifest imported", "path", path, "inserted", n)
		result.Files = append(result.Files, FileResult{Path: path, TabletID: tablet, Inserted: n})
		result.Total += n
	}

	logger.Info("batch import complete", "files", len(result.Files), "total", result.Total)
	return result, nil
}

// ImportFile imports the manifest rows of one rhizome.db attributed to tabletID
// and returns the number of rows inserted.
func (im *Importer) ImportFile(ctx context.Context, path, tabletID string) (int64, error) {
	rows, err := ReadManifest(ctx, path, tabletID)
	if err != nil {
		return 0, err
	}
	return im.store.InsertObservations(ctx, im.table, rows)
}

// ReadManifest reads the manifests table of a rhizome.db.
//
// The database is opened read-only. File names are NFC-normalised so they
// compare equal to names derived from survey files. An empty author is
// recorded as absent, as is an insert time of zero or less.
func ReadManifest(ctx context.Context, path, tabletID string) ([]bundle.Observation, error) {
	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConnectivity, "ingest", "unable to resolve rhizome database path", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fault.Wrap(fault.KindConnectivity, "ingest", "unable to open rhizome database", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, manifestQuery)
	if err != nil {
		return nil, fault.Wrap(fault.KindConnectivity, "ingest", "unable to query the rhizome database", err)
	}
	defer rows.Close()

	var out []bundle.Observation
	for rows.Next() {
		var (
			id, name   string
			author     sql.NullString
			insertTime sql.NullInt64
			size       sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &author, &insertTime, &size); err != nil {
			return nil, fmt.Errorf("scan manifest row: %w", err)
		}

		o := bundle.Observation{
			TabletID: tabletID,
			FileID:   id,
			FileName: norm.NFC.String(name),
			FileSize: size.Int64,
		}
		if author.Valid {
			o.FileAuthorSID = bundle.AuthorSID(author.String)
		}
		if insertTime.Valid && insertTime.Int64 > 0 {
			o.FileInsertTime = bundle.InsertTime(insertTime.Int64)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifest rows: %w", err)
	}
	return out, nil
}

// readOnlyDSN builds a read-only sqlite URI for path. The path is escaped, so
// directory names containing '?', '#' or '%' survive.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}
