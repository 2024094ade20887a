package concept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/substrate"
)

func vertex(id string, props map[string]string) *substrate.Vertex {
	return &substrate.Vertex{ID: substrate.VertexID(id), Properties: props}
}

func TestFromVertexType(t *testing.T) {
	v := vertex("t1", map[string]string{
		kinds.PropBaseKind:      string(kinds.KindEntityType),
		kinds.PropTypeLabel:     "person",
		kinds.PropTypeID:        "3",
		kinds.PropIsAbstract:    "false",
		kinds.PropIsImplicit:    "false",
		kinds.PropInstanceCount: "42",
	})
	c, err := FromVertex(v)
	require.NoError(t, err)
	typ, ok := c.(*Type)
	require.True(t, ok)
	assert.Equal(t, "person", typ.Label)
	assert.Equal(t, int64(3), typ.TypeID)
	assert.Equal(t, int64(42), typ.InstanceCount)
	assert.False(t, typ.IsAbstract)
	assert.Equal(t, kinds.KindEntityType, typ.BaseKind())
}

func TestFromVertexResourceTypeCarriesDatatype(t *testing.T) {
	v := vertex("rt1", map[string]string{
		kinds.PropBaseKind:  string(kinds.KindResourceType),
		kinds.PropTypeLabel: "age",
		kinds.PropTypeID:    "9",
		kinds.PropDataType:  string(kinds.DatatypeLong),
	})
	c, err := FromVertex(v)
	require.NoError(t, err)
	typ := c.(*Type)
	assert.Equal(t, kinds.DatatypeLong, typ.Datatype)
}

func TestFromVertexInstance(t *testing.T) {
	v := vertex("e1", map[string]string{
		kinds.PropBaseKind:  string(kinds.KindEntity),
		kinds.PropTypeLabel: "person",
		kinds.PropTypeID:    "3",
	})
	c, err := FromVertex(v)
	require.NoError(t, err)
	inst, ok := c.(*Instance)
	require.True(t, ok)
	assert.Equal(t, "person", inst.DirectTypeLabel)
	assert.Equal(t, int64(3), inst.DirectTypeID)
}

func TestFromVertexResourceInstanceCarriesValue(t *testing.T) {
	v := vertex("r1", map[string]string{
		kinds.PropBaseKind:  string(kinds.KindResource),
		kinds.PropTypeLabel: "age",
		kinds.PropTypeID:    "9",
		kinds.PropDataType:  string(kinds.DatatypeLong),
		kinds.PropValueLong: "27",
	})
	c, err := FromVertex(v)
	require.NoError(t, err)
	inst := c.(*Instance)
	assert.Equal(t, "27", inst.Value)
	assert.Equal(t, kinds.DatatypeLong, inst.Datatype)
}

func TestFromVertexCastingAndShard(t *testing.T) {
	casting := vertex("c1", map[string]string{
		kinds.PropBaseKind: string(kinds.KindCasting),
		kinds.PropIndex:    "abc123",
	})
	c, err := FromVertex(casting)
	require.NoError(t, err)
	assert.Equal(t, "abc123", c.(*Casting).Index)

	shard := vertex("s1", map[string]string{
		kinds.PropBaseKind:  string(kinds.KindShard),
		kinds.PropTypeLabel: "person",
	})
	s, err := FromVertex(shard)
	require.NoError(t, err)
	assert.Equal(t, "person", s.(*Shard).TypeLabel)
}

func TestFromVertexMissingBaseKind(t *testing.T) {
	v := vertex("bad", map[string]string{})
	_, err := FromVertex(v)
	require.Error(t, err)
	var corrupt *ErrCorruptGraph
	require.ErrorAs(t, err, &corrupt)
}

func TestFromVertexUnknownBaseKind(t *testing.T) {
	v := vertex("bad", map[string]string{kinds.PropBaseKind: "NOT_A_KIND"})
	_, err := FromVertex(v)
	require.Error(t, err)
}

func TestTypeCloneIsIndependent(t *testing.T) {
	t1 := &Type{VID: "t1", Label: "person", InstanceCount: 1}
	clone := t1.Clone()
	clone.InstanceCount = 99
	clone.Label = "other"
	assert.Equal(t, int64(1), t1.InstanceCount)
	assert.Equal(t, "person", t1.Label)
}
