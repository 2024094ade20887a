package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/typegraph/typegraph/internal/substrate"
)

type session struct {
	tx   *sql.Tx
	kind substrate.TxKind
	done bool
}

func (s *session) ReadOnly() bool { return s.kind.ReadOnly() }

func (s *session) requireWritable() error {
	if s.done {
		return substrate.ErrSessionDone
	}
	if s.kind.ReadOnly() {
		return substrate.ErrReadOnly
	}
	return nil
}

func (s *session) AddVertex(ctx context.Context, kind string) (substrate.VertexID, error) {
	if err := s.requireWritable(); err != nil {
		return "", err
	}
	id := substrate.VertexID(uuid.NewString())
	if _, err := s.tx.ExecContext(ctx, `INSERT INTO tg_vertices (id, kind) VALUES (?, ?)`, string(id), kind); err != nil {
		return "", fmt.Errorf("sql: insert vertex: %w", err)
	}
	if err := s.setVertexProperty(ctx, id, "ID", string(id)); err != nil {
		return "", err
	}
	if err := s.setVertexProperty(ctx, id, "BASE_KIND", kind); err != nil {
		return "", err
	}
	return id, nil
}

func (s *session) AddEdge(ctx context.Context, from, to substrate.VertexID, label string) (substrate.VertexID, error) {
	if err := s.requireWritable(); err != nil {
		return "", err
	}
	var exists int
	if err := s.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tg_vertices WHERE id IN (?, ?) AND deleted = FALSE`, string(from), string(to)).Scan(&exists); err != nil {
		return "", fmt.Errorf("sql: check edge endpoints: %w", err)
	}
	if exists < 2 {
		return "", fmt.Errorf("%w: edge endpoint missing", substrate.ErrNotFound)
	}
	id := substrate.VertexID(uuid.NewString())
	if _, err := s.tx.ExecContext(ctx, `INSERT INTO tg_edges (id, from_id, to_id, label) VALUES (?, ?, ?, ?)`, string(id), string(from), string(to), label); err != nil {
		return "", fmt.Errorf("sql: insert edge: %w", err)
	}
	return id, nil
}

func (s *session) setVertexProperty(ctx context.Context, vertex substrate.VertexID, key, value string) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO tg_vertex_properties (vertex_id, prop_key, prop_value) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE prop_value = VALUES(prop_value)`,
		string(vertex), key, value)
	if err != nil {
		return fmt.Errorf("sql: upsert vertex property: %w", err)
	}
	return nil
}

func (s *session) SetProperty(ctx context.Context, vertex substrate.VertexID, key, value string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	return s.setVertexProperty(ctx, vertex, key, value)
}

func (s *session) SetEdgeProperty(ctx context.Context, edge substrate.VertexID, key, value string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO tg_edge_properties (edge_id, prop_key, prop_value) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE prop_value = VALUES(prop_value)`,
		string(edge), key, value)
	if err != nil {
		return fmt.Errorf("sql: upsert edge property: %w", err)
	}
	return nil
}

func (s *session) DeleteVertex(ctx context.Context, vertex substrate.VertexID) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `UPDATE tg_vertices SET deleted = TRUE WHERE id = ?`, string(vertex))
	if err != nil {
		return fmt.Errorf("sql: delete vertex: %w", err)
	}
	return nil
}

func (s *session) DeleteEdge(ctx context.Context, edge substrate.VertexID) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `UPDATE tg_edges SET deleted = TRUE WHERE id = ?`, string(edge))
	if err != nil {
		return fmt.Errorf("sql: delete edge: %w", err)
	}
	return nil
}

func (s *session) VertexByRawID(ctx context.Context, id substrate.VertexID) (*substrate.Vertex, error) {
	var deleted bool
	if err := s.tx.QueryRowContext(ctx, `SELECT deleted FROM tg_vertices WHERE id = ?`, string(id)).Scan(&deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, substrate.ErrNotFound
		}
		return nil, fmt.Errorf("sql: select vertex: %w", err)
	}
	if deleted {
		return nil, substrate.ErrNotFound
	}
	props, err := s.loadVertexProperties(ctx, id)
	if err != nil {
		return nil, err
	}
	return &substrate.Vertex{ID: id, Properties: props}, nil
}

func (s *session) loadVertexProperties(ctx context.Context, id substrate.VertexID) (map[string]string, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT prop_key, prop_value FROM tg_vertex_properties WHERE vertex_id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sql: select vertex properties: %w", err)
	}
	defer rows.Close()
	props := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sql: scan vertex property: %w", err)
		}
		props[k] = v
	}
	return props, rows.Err()
}

func (s *session) VerticesByProperty(ctx context.Context, key, value string) (substrate.VertexIterator, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT v.id FROM tg_vertices v
		JOIN tg_vertex_properties p ON p.vertex_id = v.id
		WHERE v.deleted = FALSE AND p.prop_key = ? AND p.prop_value = ?`, key, value)
	if err != nil {
		return nil, fmt.Errorf("sql: select vertices by property: %w", err)
	}
	defer rows.Close()

	var ids []substrate.VertexID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sql: scan vertex id: %w", err)
		}
		ids = append(ids, substrate.VertexID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*substrate.Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := s.VertexByRawID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return &vertexIterator{items: out}, nil
}

func (s *session) edgesFor(ctx context.Context, column, vertex, label string) (substrate.EdgeIterator, error) {
	query := fmt.Sprintf(`SELECT id, from_id, to_id, label FROM tg_edges WHERE %s = ? AND deleted = FALSE`, column)
	args := []any{vertex}
	if label != "" {
		query += ` AND label = ?`
		args = append(args, label)
	}
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sql: select edges: %w", err)
	}
	defer rows.Close()

	var out []*substrate.Edge
	for rows.Next() {
		var id, from, to, lbl string
		if err := rows.Scan(&id, &from, &to, &lbl); err != nil {
			return nil, fmt.Errorf("sql: scan edge: %w", err)
		}
		props, err := s.loadEdgeProperties(ctx, substrate.VertexID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, &substrate.Edge{
			ID: substrate.VertexID(id), From: substrate.VertexID(from), To: substrate.VertexID(to),
			Label: lbl, Properties: props,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &edgeIterator{items: out}, nil
}

func (s *session) loadEdgeProperties(ctx context.Context, id substrate.VertexID) (map[string]string, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT prop_key, prop_value FROM tg_edge_properties WHERE edge_id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sql: select edge properties: %w", err)
	}
	defer rows.Close()
	props := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sql: scan edge property: %w", err)
		}
		props[k] = v
	}
	return props, rows.Err()
}

func (s *session) OutEdges(ctx context.Context, vertex substrate.VertexID, label string) (substrate.EdgeIterator, error) {
	return s.edgesFor(ctx, "from_id", string(vertex), label)
}

func (s *session) InEdges(ctx context.Context, vertex substrate.VertexID, label string) (substrate.EdgeIterator, error) {
	return s.edgesFor(ctx, "to_id", string(vertex), label)
}

func (s *session) Commit(_ context.Context) error {
	if s.done {
		return substrate.ErrSessionDone
	}
	s.done = true
	return s.tx.Commit()
}

func (s *session) Rollback(_ context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}

var _ substrate.Session = (*session)(nil)

type vertexIterator struct {
	items []*substrate.Vertex
	pos   int
}

func (v *vertexIterator) Next(_ context.Context) (*substrate.Vertex, bool, error) {
	if v.pos >= len(v.items) {
		return nil, false, nil
	}
	item := v.items[v.pos]
	v.pos++
	return item, true, nil
}

type edgeIterator struct {
	items []*substrate.Edge
	pos   int
}

func (e *edgeIterator) Next(_ context.Context) (*substrate.Edge, bool, error) {
	if e.pos >= len(e.items) {
		return nil, false, nil
	}
	item := e.items[e.pos]
	e.pos++
	return item, true, nil
}
