// Package substrate is the thin facade (C2) over the property-graph
// storage engine. It is deliberately small: add a vertex, add an edge,
// set a property, traverse by property, look a vertex up by its raw id,
// and bracket a unit of work with begin/commit/rollback.
//
// The substrate itself — the actual storage engine backing these calls —
// is an external collaborator (spec.md §1 Non-goals). This package only
// defines the contract and ships two concrete engines: an in-memory one
// (internal/substrate/memory, always available, backs the "IN_MEMORY"
// engine.url) and a SQL-backed one (internal/substrate/sql, for MySQL or
// Dolt DSNs).
package substrate

import (
	"context"
	"errors"
)

// VertexID is an opaque raw identifier minted by the substrate. It is
// distinct from a Concept's ID property (kinds.PropID): every vertex also
// carries its VertexID as a string-valued ID property, because some
// substrates (per spec §4.1) only expose real ids after a flush.
type VertexID string

// Vertex is a snapshot of a substrate vertex's properties at read time.
type Vertex struct {
	ID         VertexID
	Properties map[string]string
}

// Property returns a vertex property, mirroring map's comma-ok idiom.
func (v *Vertex) Property(key string) (string, bool) {
	if v == nil {
		return "", false
	}
	val, ok := v.Properties[key]
	return val, ok
}

// Edge is a snapshot of a substrate edge's properties at read time.
type Edge struct {
	ID         VertexID
	From, To   VertexID
	Label      string
	Properties map[string]string
}

func (e *Edge) Property(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	val, ok := e.Properties[key]
	return val, ok
}

// TxKind is the transaction mode a session was opened with (spec §4.5 open).
type TxKind int

const (
	Read TxKind = iota
	Write
	Batch
)

func (k TxKind) ReadOnly() bool { return k == Read }

// VertexIterator is a lazy, finite sequence of vertices. It is restartable
// only by re-issuing the traversal that produced it (spec §9 design notes);
// there is no rewind.
type VertexIterator interface {
	// Next advances the iterator. It returns (nil, false, nil) when
	// exhausted, and a non-nil error if the underlying substrate call
	// failed.
	Next(ctx context.Context) (*Vertex, bool, error)
}

// EdgeIterator is the edge analogue of VertexIterator.
type EdgeIterator interface {
	Next(ctx context.Context) (*Edge, bool, error)
}

// Errors returned by substrate implementations. Callers translate these
// into the closed error kinds of spec.md §7 (SubstrateFailure, ReadOnly,
// DuplicateConcept); the substrate package itself knows nothing about the
// semantic model layered above it.
var (
	ErrReadOnly     = errors.New("substrate: mutation attempted on read-only session")
	ErrNotFound     = errors.New("substrate: vertex or edge not found")
	ErrSessionDone  = errors.New("substrate: session already committed or rolled back")
	ErrNotUnique    = errors.New("substrate: uniqueness constraint violated")
)

// Store opens sessions against a concrete property-graph engine.
type Store interface {
	// Begin opens a new session bound to the given transaction kind. The
	// caller owns the session and must Commit or Rollback it exactly once.
	Begin(ctx context.Context, kind TxKind) (Session, error)

	// Close releases any resources held by the store itself (connection
	// pools, file handles). It does not affect open sessions.
	Close() error
}

// Session is one substrate-level unit of work: a single-threaded, isolated
// view of the graph that either commits all of its writes or none of them.
//
// Every AddVertex immediately receives a string ID property equal to its
// VertexID (spec §4.1), because some substrates only expose ids after a
// flush — callers must not assume VertexID and the ID property diverge.
type Session interface {
	// ReadOnly reports whether this session rejects mutating calls.
	ReadOnly() bool

	AddVertex(ctx context.Context, kind string) (VertexID, error)
	AddEdge(ctx context.Context, from, to VertexID, label string) (VertexID, error)
	SetProperty(ctx context.Context, vertex VertexID, key, value string) error
	SetEdgeProperty(ctx context.Context, edge VertexID, key, value string) error
	DeleteVertex(ctx context.Context, vertex VertexID) error
	DeleteEdge(ctx context.Context, edge VertexID) error

	VertexByRawID(ctx context.Context, id VertexID) (*Vertex, error)
	VerticesByProperty(ctx context.Context, key, value string) (VertexIterator, error)

	// OutEdges/InEdges traverse edges incident to vertex, optionally
	// filtered to a single label (empty string means "any label").
	OutEdges(ctx context.Context, vertex VertexID, label string) (EdgeIterator, error)
	InEdges(ctx context.Context, vertex VertexID, label string) (EdgeIterator, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithSession brackets fn with Begin/Commit, rolling back automatically if
// fn returns an error or panics. This is the scoped-acquire idiom called
// for by spec §9's design notes, generalized so every caller (graphtx,
// reconcile) shares one implementation of "commit on success, rollback on
// anything else".
func WithSession(ctx context.Context, store Store, kind TxKind, fn func(Session) error) (retErr error) {
	sess, err := store.Begin(ctx, kind)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if r := recover(); r != nil {
			_ = sess.Rollback(ctx)
			panic(r)
		}
		if !committed {
			_ = sess.Rollback(ctx)
		}
	}()

	if err := fn(sess); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
