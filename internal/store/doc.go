// Package store provides the shared bundle-observation table used by every
// meshtrace component.
//
// One table holds one row per (tablet, bundle) sighting. Rows are inserted
// by the importer, flagged as origin (or purged) by the reconciler, and only
// read afterwards.
//
// # Dialects
//
//   - sqlite3: github.com/mattn/go-sqlite3, a single database file
//   - postgres: github.com/lib/pq, built from host/database/user/password
//
// All queries are written with ? placeholders and rebound for postgres.
// Table names are caller-supplied and must match ValidTableName before they
// are interpolated into SQL.
//
// # Connection Model
//
//   - The pool is capped at one open connection; every component runs as a
//     sequential batch job against it
//   - Close releases the connection and is safe to call more than once
//   - Multi-row reads are fully drained (or the cursor closed) before the
//     next statement runs
//
// # Origin Column
//
// origin is stored as CHAR(1) 'Y'/'N' so the same DDL and predicates work in
// both dialects; Observation.Origin exposes it as a bool.
package store
