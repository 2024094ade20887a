// Package concept builds typed concept values (C3) from raw substrate
// vertices, and defines the Concept tagged union itself (spec §3, §9).
//
// The source pattern this replaces is open polymorphism over a concept
// class hierarchy (Type <: SchemaConcept, Entity <: Instance <: Thing,
// and so on, each a virtual-dispatch subclass). Go has no subclassing, so
// the redesign note in spec §9 is taken literally: one closed interface
// (Concept) implemented by exactly four concrete struct types, plus a
// factory that is total over the closed set of base kinds from
// internal/kinds. Casting and Shard implement Concept but are never
// constructed outside this module and internal/graphtx — the public API
// never returns one.
package concept

import (
	"fmt"
	"strconv"

	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/substrate"
)

// Concept is the capability trait shared by every variant: identity and
// base-kind discrimination. Callers type-switch on the concrete type (or
// use the Is* helpers below) to reach variant-specific fields.
type Concept interface {
	ID() substrate.VertexID
	BaseKind() kinds.BaseKind
}

// Type is the schema variant: EntityType, RelationType, ResourceType,
// RoleType, or RuleType (spec §3).
type Type struct {
	VID            substrate.VertexID
	Kind           kinds.BaseKind
	TypeID         int64
	Label          string
	IsAbstract     bool
	IsImplicit     bool
	InstanceCount  int64
	CurrentShardID substrate.VertexID
	// Datatype is only meaningful when Kind == kinds.KindResourceType.
	Datatype kinds.Datatype
}

func (t *Type) ID() substrate.VertexID   { return t.VID }
func (t *Type) BaseKind() kinds.BaseKind { return t.Kind }

// Clone returns a deep copy, used by internal/txlog and internal/ontology
// to hand out independent snapshots.
func (t *Type) Clone() *Type {
	clone := *t
	return &clone
}

// Instance is the Entity/Relation/Resource/Rule variant (spec §3). Resource
// instances additionally carry a Datatype and a raw string-encoded Value;
// internal/kinds.Datatype.ValueProperty names which vertex property holds it.
type Instance struct {
	VID             substrate.VertexID
	Kind            kinds.BaseKind
	DirectTypeLabel string
	DirectTypeID    int64
	Datatype        kinds.Datatype // KindResource only
	Value           string         // KindResource only, raw string encoding
}

func (i *Instance) ID() substrate.VertexID   { return i.VID }
func (i *Instance) BaseKind() kinds.BaseKind { return i.Kind }

// Casting is the internal bridging concept "instance I plays role R"
// (spec §3). Never exposed on the public graphtx API.
type Casting struct {
	VID   substrate.VertexID
	Index string // H(role-id, rolePlayer-id)
}

func (c *Casting) ID() substrate.VertexID   { return c.VID }
func (c *Casting) BaseKind() kinds.BaseKind { return kinds.KindCasting }

// Shard partitions the instances of one type (spec §3). Never exposed on
// the public graphtx API.
type Shard struct {
	VID       substrate.VertexID
	TypeLabel string
}

func (s *Shard) ID() substrate.VertexID   { return s.VID }
func (s *Shard) BaseKind() kinds.BaseKind { return kinds.KindShard }

// ErrCorruptGraph is returned when a vertex's BASE_KIND property is
// missing or outside the closed set in internal/kinds — the substrate
// has a vertex the engine doesn't know how to interpret.
type ErrCorruptGraph struct {
	VertexID substrate.VertexID
	BaseKind string
}

func (e *ErrCorruptGraph) Error() string {
	return fmt.Sprintf("concept: corrupt graph: vertex %s has unknown base kind %q", e.VertexID, e.BaseKind)
}

// FromVertex is the concept factory (C3): total over the closed set of
// base kinds in internal/kinds, it never returns (nil, nil).
func FromVertex(v *substrate.Vertex) (Concept, error) {
	raw, ok := v.Property(kinds.PropBaseKind)
	if !ok {
		return nil, &ErrCorruptGraph{VertexID: v.ID, BaseKind: ""}
	}
	bk := kinds.BaseKind(raw)
	if !bk.Valid() {
		return nil, &ErrCorruptGraph{VertexID: v.ID, BaseKind: raw}
	}

	switch {
	case bk.IsType():
		return typeFromVertex(v, bk), nil
	case bk.IsInstance():
		return instanceFromVertex(v, bk), nil
	case bk == kinds.KindCasting:
		index, _ := v.Property(kinds.PropIndex)
		return &Casting{VID: v.ID, Index: index}, nil
	case bk == kinds.KindShard:
		label, _ := v.Property(kinds.PropTypeLabel)
		return &Shard{VID: v.ID, TypeLabel: label}, nil
	default:
		// unreachable: bk.Valid() already covers every case above.
		return nil, &ErrCorruptGraph{VertexID: v.ID, BaseKind: raw}
	}
}

func typeFromVertex(v *substrate.Vertex, bk kinds.BaseKind) *Type {
	t := &Type{
		VID:   v.ID,
		Kind:  bk,
		Label: mustGet(v, kinds.PropTypeLabel),
	}
	t.TypeID = mustInt(v, kinds.PropTypeID)
	t.IsAbstract = mustBool(v, kinds.PropIsAbstract)
	t.IsImplicit = mustBool(v, kinds.PropIsImplicit)
	t.InstanceCount = mustInt(v, kinds.PropInstanceCount)
	if s, ok := v.Property(kinds.PropCurrentShard); ok {
		t.CurrentShardID = substrate.VertexID(s)
	}
	if bk == kinds.KindResourceType {
		dt, _ := v.Property(kinds.PropDataType)
		t.Datatype = kinds.Datatype(dt)
	}
	return t
}

func instanceFromVertex(v *substrate.Vertex, bk kinds.BaseKind) *Instance {
	inst := &Instance{
		VID:             v.ID,
		Kind:            bk,
		DirectTypeLabel: mustGet(v, kinds.PropTypeLabel),
		DirectTypeID:    mustInt(v, kinds.PropTypeID),
	}
	if bk == kinds.KindResource {
		dt, _ := v.Property(kinds.PropDataType)
		inst.Datatype = kinds.Datatype(dt)
		inst.Value, _ = v.Property(inst.Datatype.ValueProperty())
	}
	return inst
}

func mustGet(v *substrate.Vertex, key string) string {
	val, _ := v.Property(key)
	return val
}

func mustInt(v *substrate.Vertex, key string) int64 {
	val, ok := v.Property(key)
	if !ok || val == "" {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func mustBool(v *substrate.Vertex, key string) bool {
	val, _ := v.Property(key)
	return val == "true"
}
