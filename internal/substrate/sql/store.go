// Package sql is the generic, dialect-parameterized property-graph
// substrate (C2) over database/sql, grounded on the teacher's
// internal/storage/dolt package: the same driver pair (go-sql-driver/mysql
// for dolt sql-server/MySQL, dolthub/driver for an embedded Dolt database)
// and an otel span around Begin. It does no retrying of its own.
//
// Unlike dolt.DoltStore, this package knows nothing about issues, labels,
// or any bd-specific schema: it stores exactly the property-graph shape
// internal/substrate defines (vertices, edges, and their string-keyed
// properties), in four tables common to both dialects.
package sql

import (
	"context"
	"database/sql"
	"fmt"

	// Both dialects register themselves as database/sql drivers on import,
	// the same way the teacher's dolt package imports go-sql-driver/mysql
	// purely for its driver registration side effect.
	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"

	"go.opentelemetry.io/otel/codes"

	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/telemetry"
)

// Dialect names which database/sql driver a DSN targets.
type Dialect string

const (
	DialectMySQL Dialect = "mysql"
	DialectDolt  Dialect = "dolt"
)

// Store is a SQL-backed property-graph substrate.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn using the driver named by dialect and ensures the
// graph schema exists. dsn is passed through to database/sql.Open
// unmodified — for DialectDolt this is an embedded database directory
// path (per dolthub/driver's own DSN convention), for DialectMySQL a
// standard go-sql-driver/mysql DSN (user:pass@tcp(host:port)/db).
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql: ping %s: %w", dialect, err)
	}
	st := &Store{db: db, dialect: dialect}
	if err := st.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ensureSchema creates the four graph tables if they do not already
// exist. Both MySQL and Dolt accept the same CREATE TABLE IF NOT EXISTS
// syntax, so there is no per-dialect branch here.
func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tg_vertices (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS tg_vertex_properties (
			vertex_id VARCHAR(64) NOT NULL,
			prop_key VARCHAR(64) NOT NULL,
			prop_value TEXT,
			PRIMARY KEY (vertex_id, prop_key),
			KEY idx_tg_vertex_properties_lookup (prop_key, prop_value(191))
		)`,
		`CREATE TABLE IF NOT EXISTS tg_edges (
			id VARCHAR(64) PRIMARY KEY,
			from_id VARCHAR(64) NOT NULL,
			to_id VARCHAR(64) NOT NULL,
			label VARCHAR(64) NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			KEY idx_tg_edges_from (from_id, label),
			KEY idx_tg_edges_to (to_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS tg_edge_properties (
			edge_id VARCHAR(64) NOT NULL,
			prop_key VARCHAR(64) NOT NULL,
			prop_value TEXT,
			PRIMARY KEY (edge_id, prop_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sql: ensure schema: %w", err)
		}
	}
	return nil
}

// Begin opens a session. Read sessions use a read-only *sql.Tx where the
// driver supports it; write/batch sessions use a default read-write one.
func (s *Store) Begin(ctx context.Context, kind substrate.TxKind) (substrate.Session, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "sql.Begin")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: kind.ReadOnly()})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("sql: begin: %w", err)
	}
	return &session{tx: tx, kind: kind}, nil
}

var _ substrate.Store = (*Store)(nil)
