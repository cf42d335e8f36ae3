// Package stats computes aggregate figures over an observation table.
//
// Compute runs a fixed battery of queries inside one read transaction so
// every figure describes the same state of the table. The replication series
// streams a running copy count per bundle for external charting.
package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/meshtrace/internal/store"
)

// DefaultReferenceTablet is the tablet id of the deployment's collection device.
const DefaultReferenceTablet = "laptop"

// Metric keys in computation order.
const (
	KeyUniqueFiles         = "unique_files"
	KeyBundles             = "bundles"
	KeyUniqueDataSize      = "unique_data_size"
	KeyTotalDataSize       = "total_data_size"
	KeyAverageFileSize     = "average_file_size"
	KeyAverageBundles      = "average_bundles_per_device"
	KeyWithoutResilient    = "files_without_resilient_copies"
	KeyWithResilient       = "files_with_resilient_copies"
	KeyMaxResilientCopies  = "max_resilient_copies"
	KeyMinResilientCopies  = "min_resilient_copies"
	KeyMaxPropagationDelay = "max_propagation_delay"
	KeyMinPropagationDelay = "min_propagation_delay"
	KeyAbsentFromReference = "files_absent_from_reference"
)

// metricDef describes one query of the battery. Queries use %[1]s for the
// table name and ? placeholders.
type metricDef struct {
	key   string
	label string
	unit  Unit
	float bool
	query string
	args  func(e *Engine) []any
}

// delaySubquery yields, per bundle with a timestamped origin, the time from
// the earliest origin insert to the earliest non-origin insert at a different
// time. One row per file id, whatever the number of origin rows.
const delaySubquery = `
	SELECT c.file_id, MIN(c.file_insert_time) - MIN(o.file_insert_time) AS delay
	FROM %[1]s c
	JOIN (
		SELECT file_id, MIN(file_insert_time) AS file_insert_time FROM %[1]s
		WHERE origin = ? AND file_insert_time IS NOT NULL
		GROUP BY file_id
	) o ON o.file_id = c.file_id
	WHERE c.origin = ?
		AND c.file_insert_time IS NOT NULL
		AND c.file_insert_time <> o.file_insert_time
	GROUP BY c.file_id`

func originArgs(*Engine) []any { return []any{store.OriginYes, store.OriginNo} }

var battery = []metricDef{
	{
		key:   KeyUniqueFiles,
		label: "Total unique files on the mesh",
		query: `SELECT COUNT(DISTINCT file_id) FROM %[1]s`,
	},
	{
		key:   KeyBundles,
		label: "Total bundles on the mesh",
		query: `SELECT COUNT(*) FROM %[1]s`,
	},
	{
		key:   KeyUniqueDataSize,
		label: "Total unique data size on the mesh",
		unit:  UnitBytes,
		query: `SELECT SUM(size) FROM (SELECT file_id, MIN(file_size) AS size FROM %[1]s GROUP BY file_id) u`,
	},
	{
		key:   KeyTotalDataSize,
		label: "Total data size (including duplicates) on the mesh",
		unit:  UnitBytes,
		query: `SELECT SUM(file_size) FROM %[1]s`,
	},
	{
		key:   KeyAverageFileSize,
		label: "Average file size",
		unit:  UnitBytes,
		float: true,
		query: `SELECT AVG(size) FROM (SELECT file_id, MIN(file_size) AS size FROM %[1]s GROUP BY file_id) u`,
	},
	{
		key:   KeyAverageBundles,
		label: "Average number of bundles per device",
		unit:  UnitRatio,
		float: true,
		query: `SELECT AVG(n) FROM (SELECT tablet_id, COUNT(*) AS n FROM %[1]s GROUP BY tablet_id) d`,
	},
	{
		key:   KeyWithoutResilient,
		label: "Total number of files without resilient copies",
		query: `SELECT COUNT(*) FROM (SELECT file_id FROM %[1]s GROUP BY file_id HAVING COUNT(*) = 1) g`,
	},
	{
		key:   KeyWithResilient,
		label: "Total number of files with resilient copies",
		query: `SELECT COUNT(*) FROM (SELECT file_id FROM %[1]s GROUP BY file_id HAVING COUNT(*) > 1) g`,
	},
	{
		key:   KeyMaxResilientCopies,
		label: "Maximum resilient copy count",
		query: `SELECT MAX(n) FROM (SELECT file_id, COUNT(*) AS n FROM %[1]s GROUP BY file_id HAVING COUNT(*) > 1) g`,
	},
	{
		key:   KeyMinResilientCopies,
		label: "Minimum resilient copy count",
		query: `SELECT MIN(n) FROM (SELECT file_id, COUNT(*) AS n FROM %[1]s GROUP BY file_id HAVING COUNT(*) > 1) g`,
	},
	{
		key:   KeyMaxPropagationDelay,
		label: "Approximate maximum time delay before first resilient copy",
		unit:  UnitMillis,
		query: `SELECT MAX(delay) FROM (` + delaySubquery + `) d`,
		args:  originArgs,
	},
	{
		key:   KeyMinPropagationDelay,
		label: "Approximate minimum time delay before first resilient copy",
		unit:  UnitMillis,
		query: `SELECT MIN(delay) FROM (` + delaySubquery + `) d WHERE delay > 0`,
		args:  originArgs,
	},
	{
		key:   KeyAbsentFromReference,
		label: "Total number of files not on the reference device",
		query: `SELECT COUNT(DISTINCT file_id) FROM %[1]s
			WHERE file_id NOT IN (SELECT file_id FROM %[1]s WHERE tablet_id = ?)`,
		args: func(e *Engine) []any { return []any{e.reference} },
	},
}

// Engine computes statistics over one table.
type Engine struct {
	store     *store.Store
	table     string
	reference string
	logger    *slog.Logger
}

// NewEngine creates an Engine. An empty reference uses
// DefaultReferenceTablet and a nil logger discards output.
func NewEngine(s *store.Store, table, reference string, logger *slog.Logger) *Engine {
	if reference == "" {
		reference = DefaultReferenceTablet
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{store: s, table: table, reference: reference, logger: logger}
}

// Compute runs the battery in order against one snapshot. Any failing query
// aborts the report.
func (e *Engine) Compute(ctx context.Context) (*Report, error) {
	if err := e.store.RequireTable(ctx, e.table); err != nil {
		return nil, err
	}

	sn, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer sn.Close()

	report := &Report{Table: e.table, Metrics: make([]Metric, 0, len(battery))}
	for _, def := range battery {
		m, err := e.compute(ctx, sn, def)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", def.key, err)
		}
		e.logger.Debug("metric computed", "key", m.Key, "valid", m.Valid, "value", m.Value)
		report.Metrics = append(report.Metrics, m)
	}
	return report, nil
}

func (e *Engine) compute(ctx context.Context, sn *store.Snapshot, def metricDef) (Metric, error) {
	label := def.label
	if def.key == KeyAbsentFromReference {
		label = fmt.Sprintf("Total number of files not on %s", e.reference)
	}
	m := Metric{Key: def.key, Label: label, Unit: def.unit}

	var args []any
	if def.args != nil {
		args = def.args(e)
	}
	query := store.Q(def.query, e.table)

	if def.float {
		v, err := sn.Float(ctx, query, args...)
		if err != nil {
			return m, err
		}
		m.Value, m.Valid = v.Float64, v.Valid
		return m, nil
	}

	v, err := sn.Int(ctx, query, args...)
	if err != nil {
		return m, err
	}
	m.Value, m.Valid = float64(v.Int64), v.Valid
	return m, nil
}
