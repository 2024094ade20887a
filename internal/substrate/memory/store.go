// Package memory is the default, always-available substrate engine. It
// answers the "IN_MEMORY" engine.url (spec.md §6) and backs every unit
// test in the engine that doesn't specifically target the SQL substrate.
//
// Isolation is provided by a single RWMutex held for the lifetime of each
// session: write/batch sessions take the write lock at Begin and release
// it at Commit/Rollback, read sessions take the read lock. This is a
// stronger guarantee than the engine requires (spec §5 promises only
// per-transaction atomicity, not serializability) but is the simplest
// correct choice for a reference/test engine, mirroring the teacher's
// ephemeral store's single mutex-guarded *sql.DB (internal/storage/ephemeral/store.go).
//
// Atomicity is backed by a per-session undo log: every mutating call
// pushes a closure that reverses it, and Rollback replays that log back
// to front before releasing the lock. A session that only reads, or that
// fails before its first write, rolls back for free with an empty log.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/typegraph/typegraph/internal/substrate"
)

type vertexRecord struct {
	id         substrate.VertexID
	kind       string
	properties map[string]string
	deleted    bool
}

type edgeRecord struct {
	id         substrate.VertexID
	from, to   substrate.VertexID
	label      string
	properties map[string]string
	deleted    bool
}

// Store is an in-memory property graph.
type Store struct {
	mu sync.RWMutex

	vertices map[substrate.VertexID]*vertexRecord
	edges    map[substrate.VertexID]*edgeRecord

	// byProperty indexes vertices for VerticesByProperty: key -> value -> set of vertex ids.
	byProperty map[string]map[string]map[substrate.VertexID]bool

	// outEdges/inEdges index edges by endpoint for traversal.
	outEdges map[substrate.VertexID][]substrate.VertexID
	inEdges  map[substrate.VertexID][]substrate.VertexID
}

// New creates an empty in-memory substrate.
func New() *Store {
	return &Store{
		vertices:   make(map[substrate.VertexID]*vertexRecord),
		edges:      make(map[substrate.VertexID]*edgeRecord),
		byProperty: make(map[string]map[string]map[substrate.VertexID]bool),
		outEdges:   make(map[substrate.VertexID][]substrate.VertexID),
		inEdges:    make(map[substrate.VertexID][]substrate.VertexID),
	}
}

func (s *Store) Close() error { return nil }

// Begin opens a session. Read sessions take the store's read lock (so
// many readers may proceed concurrently); write and batch sessions take
// the write lock and hold it exclusively until Commit or Rollback.
func (s *Store) Begin(_ context.Context, kind substrate.TxKind) (substrate.Session, error) {
	if kind.ReadOnly() {
		s.mu.RLock()
	} else {
		s.mu.Lock()
	}
	return &session{store: s, kind: kind}, nil
}

type session struct {
	store *Store
	kind  substrate.TxKind
	done  bool

	// undo is the session's write log: one closure per mutation, pushed in
	// the order the mutation was applied. Rollback replays it back to
	// front, which is sufficient to restore Store's maps to their
	// pre-session state even though undo entries for the same key
	// interleave with entries for other keys — each key's own entries
	// still appear in the reversed stack in last-applied-first order.
	undo []func()
}

func (s *session) ReadOnly() bool { return s.kind.ReadOnly() }

func (s *session) unlock() {
	if s.kind.ReadOnly() {
		s.store.mu.RUnlock()
	} else {
		s.store.mu.Unlock()
	}
}

// record appends an undo step. Read sessions never mutate, so callers only
// ever invoke this from the write-path methods below.
func (s *session) record(undo func()) {
	s.undo = append(s.undo, undo)
}

func (s *session) Commit(_ context.Context) error {
	if s.done {
		return substrate.ErrSessionDone
	}
	s.done = true
	s.undo = nil
	s.unlock()
	return nil
}

// Rollback replays the session's undo log back to front, discarding every
// vertex, edge, and property mutation the session applied, then releases
// the lock. A session that never mutated (read sessions, or a write
// session that errored before its first write) has an empty undo log and
// Rollback degenerates to just unlocking.
func (s *session) Rollback(_ context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = nil
	s.unlock()
	return nil
}

func (s *session) requireWritable() error {
	if s.done {
		return substrate.ErrSessionDone
	}
	if s.kind.ReadOnly() {
		return substrate.ErrReadOnly
	}
	return nil
}

func (s *session) AddVertex(_ context.Context, kind string) (substrate.VertexID, error) {
	if err := s.requireWritable(); err != nil {
		return "", err
	}
	id := substrate.VertexID(uuid.NewString())
	rec := &vertexRecord{
		id:         id,
		kind:       kind,
		properties: map[string]string{"ID": string(id), "BASE_KIND": kind},
	}
	s.store.vertices[id] = rec
	s.store.indexProperty(id, "ID", string(id))
	s.store.indexProperty(id, "BASE_KIND", kind)
	s.record(func() {
		s.store.unindexProperty(id, "ID", string(id))
		s.store.unindexProperty(id, "BASE_KIND", kind)
		delete(s.store.vertices, id)
	})
	return id, nil
}

func (s *session) AddEdge(_ context.Context, from, to substrate.VertexID, label string) (substrate.VertexID, error) {
	if err := s.requireWritable(); err != nil {
		return "", err
	}
	if _, ok := s.store.vertices[from]; !ok {
		return "", fmt.Errorf("%w: edge source %s", substrate.ErrNotFound, from)
	}
	if _, ok := s.store.vertices[to]; !ok {
		return "", fmt.Errorf("%w: edge target %s", substrate.ErrNotFound, to)
	}
	id := substrate.VertexID(uuid.NewString())
	rec := &edgeRecord{id: id, from: from, to: to, label: label, properties: map[string]string{"ID": string(id)}}
	s.store.edges[id] = rec
	s.store.outEdges[from] = append(s.store.outEdges[from], id)
	s.store.inEdges[to] = append(s.store.inEdges[to], id)
	s.record(func() {
		s.store.outEdges[from] = removeEdgeID(s.store.outEdges[from], id)
		s.store.inEdges[to] = removeEdgeID(s.store.inEdges[to], id)
		delete(s.store.edges, id)
	})
	return id, nil
}

// removeEdgeID undoes an AddEdge append. Rollback always replays undo
// steps back to front, so by the time this runs id is the last entry
// appended to ids that is still present; the fast path trims it in place.
func removeEdgeID(ids []substrate.VertexID, id substrate.VertexID) []substrate.VertexID {
	if n := len(ids); n > 0 && ids[n-1] == id {
		return ids[:n-1]
	}
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (s *session) SetProperty(_ context.Context, vertex substrate.VertexID, key, value string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	rec, ok := s.store.vertices[vertex]
	if !ok || rec.deleted {
		return fmt.Errorf("%w: vertex %s", substrate.ErrNotFound, vertex)
	}
	// last-writer-wins: drop the old index entry before overwriting.
	old, had := rec.properties[key]
	if had {
		s.store.unindexProperty(vertex, key, old)
	}
	rec.properties[key] = value
	s.store.indexProperty(vertex, key, value)
	s.record(func() {
		s.store.unindexProperty(vertex, key, value)
		if had {
			rec.properties[key] = old
			s.store.indexProperty(vertex, key, old)
		} else {
			delete(rec.properties, key)
		}
	})
	return nil
}

func (s *session) SetEdgeProperty(_ context.Context, edge substrate.VertexID, key, value string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	rec, ok := s.store.edges[edge]
	if !ok || rec.deleted {
		return fmt.Errorf("%w: edge %s", substrate.ErrNotFound, edge)
	}
	old, had := rec.properties[key]
	rec.properties[key] = value
	s.record(func() {
		if had {
			rec.properties[key] = old
		} else {
			delete(rec.properties, key)
		}
	})
	return nil
}

func (s *session) DeleteVertex(_ context.Context, vertex substrate.VertexID) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	rec, ok := s.store.vertices[vertex]
	if !ok || rec.deleted {
		return nil
	}
	for k, v := range rec.properties {
		s.store.unindexProperty(vertex, k, v)
	}
	rec.deleted = true
	s.record(func() {
		rec.deleted = false
		for k, v := range rec.properties {
			s.store.indexProperty(vertex, k, v)
		}
	})
	return nil
}

func (s *session) DeleteEdge(_ context.Context, edge substrate.VertexID) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	rec, ok := s.store.edges[edge]
	if !ok || rec.deleted {
		return nil
	}
	rec.deleted = true
	s.record(func() { rec.deleted = false })
	return nil
}

func (s *session) VertexByRawID(_ context.Context, id substrate.VertexID) (*substrate.Vertex, error) {
	rec, ok := s.store.vertices[id]
	if !ok || rec.deleted {
		return nil, substrate.ErrNotFound
	}
	return toVertex(rec), nil
}

func (s *session) VerticesByProperty(_ context.Context, key, value string) (substrate.VertexIterator, error) {
	ids := s.store.byProperty[key][value]
	out := make([]*substrate.Vertex, 0, len(ids))
	for id := range ids {
		if rec, ok := s.store.vertices[id]; ok && !rec.deleted {
			out = append(out, toVertex(rec))
		}
	}
	return &vertexSlice{items: out}, nil
}

func (s *session) OutEdges(_ context.Context, vertex substrate.VertexID, label string) (substrate.EdgeIterator, error) {
	return s.store.edgesFor(s.store.outEdges[vertex], label), nil
}

func (s *session) InEdges(_ context.Context, vertex substrate.VertexID, label string) (substrate.EdgeIterator, error) {
	return s.store.edgesFor(s.store.inEdges[vertex], label), nil
}

func (st *Store) edgesFor(ids []substrate.VertexID, label string) substrate.EdgeIterator {
	out := make([]*substrate.Edge, 0, len(ids))
	for _, id := range ids {
		rec, ok := st.edges[id]
		if !ok || rec.deleted {
			continue
		}
		if label != "" && rec.label != label {
			continue
		}
		out = append(out, toEdge(rec))
	}
	return &edgeSlice{items: out}
}

func (st *Store) indexProperty(id substrate.VertexID, key, value string) {
	byValue, ok := st.byProperty[key]
	if !ok {
		byValue = make(map[string]map[substrate.VertexID]bool)
		st.byProperty[key] = byValue
	}
	ids, ok := byValue[value]
	if !ok {
		ids = make(map[substrate.VertexID]bool)
		byValue[value] = ids
	}
	ids[id] = true
}

func (st *Store) unindexProperty(id substrate.VertexID, key, value string) {
	if ids, ok := st.byProperty[key][value]; ok {
		delete(ids, id)
	}
}

func toVertex(rec *vertexRecord) *substrate.Vertex {
	props := make(map[string]string, len(rec.properties))
	for k, v := range rec.properties {
		props[k] = v
	}
	return &substrate.Vertex{ID: rec.id, Properties: props}
}

func toEdge(rec *edgeRecord) *substrate.Edge {
	props := make(map[string]string, len(rec.properties))
	for k, v := range rec.properties {
		props[k] = v
	}
	return &substrate.Edge{ID: rec.id, From: rec.from, To: rec.to, Label: rec.label, Properties: props}
}

type vertexSlice struct {
	items []*substrate.Vertex
	pos   int
}

func (v *vertexSlice) Next(_ context.Context) (*substrate.Vertex, bool, error) {
	if v.pos >= len(v.items) {
		return nil, false, nil
	}
	item := v.items[v.pos]
	v.pos++
	return item, true, nil
}

type edgeSlice struct {
	items []*substrate.Edge
	pos   int
}

func (e *edgeSlice) Next(_ context.Context) (*substrate.Edge, bool, error) {
	if e.pos >= len(e.items) {
		return nil, false, nil
	}
	item := e.items[e.pos]
	e.pos++
	return item, true, nil
}

var _ substrate.Store = (*Store)(nil)
