package store

import (
	"context"
	"fmt"

	"github.com/roach88/meshtrace/internal/bundle"
	"github.com/roach88/meshtrace/internal/fault"
)

// MarkOutcome describes what MarkOrigin did.
type MarkOutcome int

const (
	// MarkNoMatch means no row has the given (tablet_id, file_name).
	MarkNoMatch MarkOutcome = iota
	// MarkUpdated means the single matching row was flagged as origin.
	MarkUpdated
	// MarkAlreadyOrigin means the single matching row was already flagged.
	MarkAlreadyOrigin
)

func (o MarkOutcome) String() string {
	switch o {
	case MarkUpdated:
		return "updated"
	case MarkAlreadyOrigin:
		return "already_origin"
	default:
		return "no_match"
	}
}

// InsertObservations inserts a batch of observations in one transaction and
// returns the number of rows written. IDs on the input are ignored.
func (s *Store) InsertObservations(ctx context.Context, table string, obs []bundle.Observation) (int64, error) {
	if err := CheckTableName(table); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert observations: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(Q(`
		INSERT INTO %[1]s
		(tablet_id, file_id, file_name, file_author_sid, file_insert_time, file_size, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table)))
	if err != nil {
		return 0, fmt.Errorf("insert observations: prepare: %w", err)
	}
	defer stmt.Close()

	var count int64
	for _, o := range obs {
		origin := OriginNo
		if o.Origin {
			origin = OriginYes
		}
		if _, err := stmt.ExecContext(ctx,
			o.TabletID,
			o.FileID,
			o.FileName,
			o.FileAuthorSID,
			o.FileInsertTime,
			o.FileSize,
			origin,
		); err != nil {
			return count, fmt.Errorf("insert observation %s/%s: %w", o.TabletID, o.FileName, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert observations: commit: %w", err)
	}
	return count, nil
}

// MarkOrigin flags the unique row identified by (tabletID, fileName) as origin.
//
// The lookup and the update run in one transaction. More than one matching
// row violates the table's uniqueness assumption and is reported as
// fault.KindConsistency without modifying anything.
func (s *Store) MarkOrigin(ctx context.Context, table, tabletID, fileName string) (MarkOutcome, error) {
	if err := CheckTableName(table); err != nil {
		return MarkNoMatch, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MarkNoMatch, fmt.Errorf("mark origin: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx, s.dialect.rebind(Q(`
		SELECT id, origin FROM %[1]s
		WHERE tablet_id = ? AND file_name = ?
		ORDER BY id ASC
	`, table)), tabletID, fileName)
	if err != nil {
		return MarkNoMatch, fmt.Errorf("mark origin: select: %w", err)
	}

	type match struct {
		id     int64
		origin string
	}
	var matches []match
	for rows.Next() {
		var m match
		if err := rows.Scan(&m.id, &m.origin); err != nil {
			rows.Close()
			return MarkNoMatch, fmt.Errorf("mark origin: scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return MarkNoMatch, fmt.Errorf("mark origin: iterate: %w", err)
	}
	rows.Close()

	switch {
	case len(matches) == 0:
		return MarkNoMatch, nil
	case len(matches) > 1:
		return MarkNoMatch, fault.Newf(fault.KindConsistency, "store.mark_origin",
			"%d rows match tablet %q file %q", len(matches), tabletID, fileName)
	case matches[0].origin == OriginYes:
		return MarkAlreadyOrigin, nil
	}

	result, err := tx.ExecContext(ctx, s.dialect.rebind(Q(`
		UPDATE %[1]s SET origin = ? WHERE id = ?
	`, table)), OriginYes, matches[0].id)
	if err != nil {
		return MarkNoMatch, fmt.Errorf("mark origin: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return MarkNoMatch, fmt.Errorf("mark origin: rows affected: %w", err)
	}
	if affected != 1 {
		return MarkNoMatch, fault.Newf(fault.KindConsistency, "store.mark_origin",
			"update affected %d rows for tablet %q file %q", affected, tabletID, fileName)
	}

	if err := tx.Commit(); err != nil {
		return MarkNoMatch, fmt.Errorf("mark origin: commit: %w", err)
	}
	return MarkUpdated, nil
}

// DeleteFileID removes every row of a bundle and returns the number deleted.
func (s *Store) DeleteFileID(ctx context.Context, table, fileID string) (int64, error) {
	if err := CheckTableName(table); err != nil {
		return 0, err
	}

	result, err := s.exec(ctx, Q(`DELETE FROM %[1]s WHERE file_id = ?`, table), fileID)
	if err != nil {
		return 0, fmt.Errorf("delete file %s: %w", fileID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete file %s: rows affected: %w", fileID, err)
	}
	return n, nil
}
