package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Snapshot is a read transaction used to compute several aggregates against
// one consistent view of the store. Release it with Close.
type Snapshot struct {
	tx      *sql.Tx
	dialect Dialect
}

// Snapshot begins a read transaction.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	return &Snapshot{tx: tx, dialect: s.dialect}, nil
}

// Close ends the snapshot. Nothing is ever written through a snapshot, so the
// transaction is rolled back. Safe to call more than once.
func (sn *Snapshot) Close() error {
	if sn == nil || sn.tx == nil {
		return nil
	}
	err := sn.tx.Rollback()
	sn.tx = nil
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Int runs a single-value integer query. An aggregate over no rows yields an
// invalid NullInt64, as does a query returning no row at all.
func (sn *Snapshot) Int(ctx context.Context, query string, args ...any) (sql.NullInt64, error) {
	var v sql.NullInt64
	err := sn.tx.QueryRowContext(ctx, sn.dialect.rebind(query), args...).Scan(&v)
	if err == sql.ErrNoRows {
		return sql.NullInt64{}, nil
	}
	if err != nil {
		return sql.NullInt64{}, err
	}
	return v, nil
}

// Float runs a single-value floating point query with the same NULL handling as Int.
func (sn *Snapshot) Float(ctx context.Context, query string, args ...any) (sql.NullFloat64, error) {
	var v sql.NullFloat64
	err := sn.tx.QueryRowContext(ctx, sn.dialect.rebind(query), args...).Scan(&v)
	if err == sql.ErrNoRows {
		return sql.NullFloat64{}, nil
	}
	if err != nil {
		return sql.NullFloat64{}, err
	}
	return v, nil
}
