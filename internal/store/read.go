package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/meshtrace/internal/bundle"
	"github.com/roach88/meshtrace/internal/fault"
)

const observationColumns = `id, tablet_id, file_id, file_name, file_author_sid, file_insert_time, file_size, origin`

// OrphanFileIDs returns the distinct file ids that have no origin row,
// ordered ascending.
//
// Returns an empty slice (not nil) when every bundle has an origin.
func (s *Store) OrphanFileIDs(ctx context.Context, table string) ([]string, error) {
	if err := CheckTableName(table); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, Q(`
		SELECT DISTINCT file_id FROM %[1]s
		WHERE file_id NOT IN (SELECT file_id FROM %[1]s WHERE origin = ?)
		ORDER BY file_id ASC
	`, table), OriginYes)
	if err != nil {
		return nil, fmt.Errorf("query orphan file ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan file id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan file ids: %w", err)
	}
	return ids, nil
}

// MostReplicatedFileID returns the file id with the most observations.
// Ties are broken by file id ascending. Returns fault.KindNotFound for an
// empty table.
func (s *Store) MostReplicatedFileID(ctx context.Context, table string) (string, error) {
	if err := CheckTableName(table); err != nil {
		return "", err
	}

	var fileID string
	var count int64
	err := s.queryRow(ctx, Q(`
		SELECT file_id, COUNT(*) AS copies FROM %[1]s
		GROUP BY file_id
		ORDER BY copies DESC, file_id ASC
		LIMIT 1
	`, table)).Scan(&fileID, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fault.Newf(fault.KindNotFound, "store", "table %q holds no observations", table)
	}
	if err != nil {
		return "", fmt.Errorf("query most replicated file: %w", err)
	}
	return fileID, nil
}

// OriginObservation returns the origin row of a bundle. When several rows are
// flagged, the earliest timestamped one wins (rows without a timestamp sort
// last), then the lowest id. Returns fault.KindNotFound if no origin exists.
func (s *Store) OriginObservation(ctx context.Context, table, fileID string) (bundle.Observation, error) {
	if err := CheckTableName(table); err != nil {
		return bundle.Observation{}, err
	}

	row := s.queryRow(ctx, Q(`
		SELECT `+observationColumns+` FROM %[1]s
		WHERE file_id = ? AND origin = ?
		ORDER BY CASE WHEN file_insert_time IS NULL THEN 1 ELSE 0 END, file_insert_time ASC, id ASC
		LIMIT 1
	`, table), fileID, OriginYes)

	obs, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bundle.Observation{}, fault.Newf(fault.KindNotFound, "store", "bundle %q has no origin row", fileID)
	}
	if err != nil {
		return bundle.Observation{}, fmt.Errorf("query origin of %s: %w", fileID, err)
	}
	return obs, nil
}

// ResilientCopies returns the non-origin observations of a bundle that carry
// an insert time, ordered by (file_insert_time, tablet_id, id) ascending.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ResilientCopies(ctx context.Context, table, fileID string) ([]bundle.Observation, error) {
	if err := CheckTableName(table); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, Q(`
		SELECT `+observationColumns+` FROM %[1]s
		WHERE file_id = ? AND origin = ? AND file_insert_time IS NOT NULL
		ORDER BY file_insert_time ASC, tablet_id ASC, id ASC
	`, table), fileID, OriginNo)
	if err != nil {
		return nil, fmt.Errorf("query resilient copies: %w", err)
	}
	defer rows.Close()

	copies := []bundle.Observation{}
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resilient copies: %w", err)
	}
	return copies, nil
}

// Observations returns every row of a bundle ordered by id.
func (s *Store) Observations(ctx context.Context, table, fileID string) ([]bundle.Observation, error) {
	if err := CheckTableName(table); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, Q(`
		SELECT `+observationColumns+` FROM %[1]s
		WHERE file_id = ?
		ORDER BY id ASC
	`, table), fileID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	all := []bundle.Observation{}
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return all, nil
}

// TimestampedObservations yields every row with an insert time ordered by
// (file_id, file_insert_time, id). The sequence streams from an open cursor:
// it is single-pass, and the cursor is closed when iteration ends or the
// consumer stops early. A query error is yielded once and ends the sequence.
func (s *Store) TimestampedObservations(ctx context.Context, table string) iter.Seq2[bundle.Observation, error] {
	return func(yield func(bundle.Observation, error) bool) {
		if err := CheckTableName(table); err != nil {
			yield(bundle.Observation{}, err)
			return
		}

		rows, err := s.query(ctx, Q(`
			SELECT `+observationColumns+` FROM %[1]s
			WHERE file_insert_time IS NOT NULL
			ORDER BY file_id ASC, file_insert_time ASC, id ASC
		`, table))
		if err != nil {
			yield(bundle.Observation{}, fmt.Errorf("query timestamped observations: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			obs, err := scanObservation(rows)
			if err != nil {
				yield(bundle.Observation{}, err)
				return
			}
			if !yield(obs, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(bundle.Observation{}, fmt.Errorf("iterate timestamped observations: %w", err))
		}
	}
}

// CountRows returns the number of rows in table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if err := CheckTableName(table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.queryRow(ctx, Q(`SELECT COUNT(*) FROM %[1]s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanObservation scans the observationColumns projection.
func scanObservation(r rowScanner) (bundle.Observation, error) {
	var obs bundle.Observation
	var origin string

	if err := r.Scan(
		&obs.ID, &obs.TabletID, &obs.FileID, &obs.FileName,
		&obs.FileAuthorSID, &obs.FileInsertTime, &obs.FileSize, &origin,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return obs, err
		}
		return obs, fmt.Errorf("scan observation: %w", err)
	}

	obs.Origin = origin == OriginYes
	return obs, nil
}
