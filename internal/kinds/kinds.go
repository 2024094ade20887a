// Package kinds is the fixed schema vocabulary shared by every other
// package in the engine: base concept kinds, substrate edge labels,
// reserved vertex/edge properties, and the seven bootstrap meta-types.
//
// Everything here is a closed set. Adding a new BaseKind or Label is a
// breaking change to the wire contract between the concept factory (C3)
// and the substrate adapter (C2), so the sets are deliberately small and
// exhaustive rather than open for extension.
package kinds

// BaseKind discriminates the variants of Concept (spec §3). It is stored
// verbatim on every vertex as the PropBaseKind property and is read back
// by the concept factory to decide which Go type to materialize.
type BaseKind string

const (
	KindEntityType   BaseKind = "ENTITY_TYPE"
	KindRelationType BaseKind = "RELATION_TYPE"
	KindResourceType BaseKind = "RESOURCE_TYPE"
	KindRoleType     BaseKind = "ROLE_TYPE"
	KindRuleType     BaseKind = "RULE_TYPE"

	KindEntity   BaseKind = "ENTITY"
	KindRelation BaseKind = "RELATION"
	KindResource BaseKind = "RESOURCE"
	KindRule     BaseKind = "RULE"

	KindCasting BaseKind = "CASTING"
	KindShard   BaseKind = "SHARD"
)

// IsType reports whether a BaseKind denotes a schema (Type) concept.
func (k BaseKind) IsType() bool {
	switch k {
	case KindEntityType, KindRelationType, KindResourceType, KindRoleType, KindRuleType:
		return true
	default:
		return false
	}
}

// IsInstance reports whether a BaseKind denotes an Instance concept.
func (k BaseKind) IsInstance() bool {
	switch k {
	case KindEntity, KindRelation, KindResource, KindRule:
		return true
	default:
		return false
	}
}

// Valid reports whether k is one of the closed set of base kinds. The
// concept factory (C3) must be total over this set; any vertex whose
// PropBaseKind property does not satisfy Valid is a corrupt-graph error.
func (k BaseKind) Valid() bool {
	switch k {
	case KindEntityType, KindRelationType, KindResourceType, KindRoleType, KindRuleType,
		KindEntity, KindRelation, KindResource, KindRule,
		KindCasting, KindShard:
		return true
	default:
		return false
	}
}

// Label names a directed edge kind in the substrate (spec §3 edge table).
type Label string

const (
	// LabelSub connects a type to its direct supertype.
	LabelSub Label = "SUB"
	// LabelShard connects a shard to the type it partitions.
	LabelShard Label = "SHARD"
	// LabelCasting connects a relation to one of its castings.
	LabelCasting Label = "CASTING"
	// LabelRolePlayer connects a casting to the instance playing the role.
	LabelRolePlayer Label = "ROLE_PLAYER"
	// LabelShortcut is the denormalised relation->player edge used by
	// query paths that don't want to walk through castings.
	LabelShortcut Label = "SHORTCUT"
	// LabelISA connects an instance to the shard of its direct type.
	LabelISA Label = "ISA"
)

// Reserved vertex property names (spec §6).
const (
	PropID            = "ID"
	PropBaseKind      = "BASE_KIND"
	PropTypeLabel     = "TYPE_LABEL"
	PropTypeID        = "TYPE_ID"
	PropInstanceCount = "INSTANCE_COUNT"
	PropIsAbstract    = "IS_ABSTRACT"
	PropIsShard       = "IS_SHARD"
	PropIsImplicit    = "IS_IMPLICIT"
	PropCurrentShard  = "CURRENT_SHARD"
	PropIndex         = "INDEX"
	PropDataType      = "DATA_TYPE"

	PropValueString  = "VALUE_STRING"
	PropValueLong    = "VALUE_LONG"
	PropValueDouble  = "VALUE_DOUBLE"
	PropValueBoolean = "VALUE_BOOLEAN"
	PropValueDate    = "VALUE_DATE"
)

// Reserved edge property names (spec §6).
const (
	EdgePropRoleTypeID     = "ROLE_TYPE_ID"
	EdgePropRelationTypeID = "RELATION_TYPE_ID"
)

// Datatype is the closed set of resource value types (spec §3).
type Datatype string

const (
	DatatypeString  Datatype = "STRING"
	DatatypeLong    Datatype = "LONG"
	DatatypeDouble  Datatype = "DOUBLE"
	DatatypeBoolean Datatype = "BOOLEAN"
	DatatypeDate    Datatype = "DATE"
)

// Valid reports whether d is one of the closed set of supported datatypes.
func (d Datatype) Valid() bool {
	switch d {
	case DatatypeString, DatatypeLong, DatatypeDouble, DatatypeBoolean, DatatypeDate:
		return true
	default:
		return false
	}
}

// ValueProperty returns the reserved vertex property that stores a value
// of this datatype.
func (d Datatype) ValueProperty() string {
	switch d {
	case DatatypeString:
		return PropValueString
	case DatatypeLong:
		return PropValueLong
	case DatatypeDouble:
		return PropValueDouble
	case DatatypeBoolean:
		return PropValueBoolean
	case DatatypeDate:
		return PropValueDate
	default:
		return ""
	}
}

// Meta-type labels: the seven bootstrap types that form the ontology
// root (GLOSSARY, scenario S1). They are immutable per invariant 9: no
// new supertypes, no datatype change, no deletion.
const (
	MetaConcept        = "concept"
	MetaEntityType      = "entity-type"
	MetaRelationType     = "relation-type"
	MetaResourceType    = "resource-type"
	MetaRoleType        = "role-type"
	MetaRuleType        = "rule-type"
	MetaInferenceRule   = "inference-rule"
	MetaConstraintRule  = "constraint-rule"
)

// MetaTypes lists every type persisted into a fresh keyspace (scenario
// S1): MetaConcept, the implicit root of SUB, followed by the seven
// meta-types. MetaConcept is not itself counted among the "seven", so the
// list has eight entries.
var MetaTypes = []string{
	MetaConcept,
	MetaEntityType,
	MetaRelationType,
	MetaResourceType,
	MetaRoleType,
	MetaRuleType,
	MetaInferenceRule,
	MetaConstraintRule,
}

// IsMeta reports whether label names one of the bootstrap meta-types.
func IsMeta(label string) bool {
	for _, m := range MetaTypes {
		if m == label {
			return true
		}
	}
	return false
}

// MetaTypeCounterKey is the property on the meta-concept vertex that holds
// the monotonic, dense type-id counter (spec §4.5 put_type).
const MetaTypeCounterKey = "NEXT_TYPE_ID"
