// Package txlog is the per-transaction scratch cache (C5): touched
// concepts, new relations keyed by fingerprint, and the modification sets
// a commit needs to validate and to build a commit log from (spec §4.4).
//
// Cloning from the ontology cache is lazy: the first reference to a
// cached type triggers CachedType to pull and clone it from C4; every
// later reference within the same transaction returns the same local
// pointer, so a mutation made through one lookup is visible to the next.
// Spec §4.4 describes this as a "clone map keyed by label" guarding
// against infinite recursion on cyclic/shared substructure; because
// concept.Type is a flat snapshot (it holds a type-id and label, never a
// pointer to another Type), there is no recursion to guard against here —
// the map still exists because it is what makes "first reference clones,
// later references share" true, which is the property spec §4.4 actually
// requires of the transaction log.
package txlog

import (
	"github.com/typegraph/typegraph/internal/concept"
	"github.com/typegraph/typegraph/internal/ontology"
	"github.com/typegraph/typegraph/internal/substrate"
)

// Log is one transaction's bookkeeping. It is never shared across
// goroutines: each session owns exactly one, bound to its own
// Transaction value (spec §9's "explicit Transaction value" redesign).
type Log struct {
	cache *ontology.Cache
	mode  ontology.Mode

	cachedTypes       map[string]*concept.Type // label -> clone, lazily populated from cache
	cachedConcepts    map[substrate.VertexID]concept.Concept
	newRelations      map[string]*concept.Instance // fingerprint -> relation
	modifiedCastings  map[substrate.VertexID]bool
	modifiedResources map[substrate.VertexID]bool
	modifiedRelations map[substrate.VertexID]bool
	instanceDeltas    map[string]int64 // type-label -> delta
}

// New seeds an empty log bound to cache. Seeding from C4 is lazy: nothing
// is cloned until CachedType is first called for a given label (spec
// §4.4/§4.5 "Seeds C5 from C4" describes binding the log to the cache, not
// eagerly copying its entire contents).
func New(cache *ontology.Cache, mode ontology.Mode) *Log {
	return &Log{
		cache:             cache,
		mode:              mode,
		cachedTypes:       make(map[string]*concept.Type),
		cachedConcepts:    make(map[substrate.VertexID]concept.Concept),
		newRelations:      make(map[string]*concept.Instance),
		modifiedCastings:  make(map[substrate.VertexID]bool),
		modifiedResources: make(map[substrate.VertexID]bool),
		modifiedRelations: make(map[substrate.VertexID]bool),
		instanceDeltas:    make(map[string]int64),
	}
}

// CachedType returns the transaction-local clone of label's type,
// fetching and cloning from the ontology cache on first reference. The
// second return value is false if neither the log nor the ontology cache
// has an entry for label.
func (l *Log) CachedType(label string) (*concept.Type, bool) {
	if t, ok := l.cachedTypes[label]; ok {
		return t, true
	}
	t, ok := l.cache.Get(label)
	if !ok {
		return nil, false
	}
	l.cachedTypes[label] = t
	return t, true
}

// PutType installs or overwrites the transaction-local clone for a type,
// used after put_type creates or mutates one.
func (l *Log) PutType(t *concept.Type) {
	l.cachedTypes[t.Label] = t
}

// TouchedTypes returns every type this transaction looked at or created,
// for promotion into C4 at commit.
func (l *Log) TouchedTypes() map[string]*concept.Type {
	return l.cachedTypes
}

// CachedConcept/PutConcept back get_concept's id->concept cache.
func (l *Log) CachedConcept(id substrate.VertexID) (concept.Concept, bool) {
	c, ok := l.cachedConcepts[id]
	return c, ok
}

func (l *Log) PutConcept(c concept.Concept) {
	l.cachedConcepts[c.ID()] = c
}

// PutNewRelation/RelationByFingerprint avoid building duplicate relations
// within one transaction (spec §4.4, invariant 5 "within one transaction").
func (l *Log) RelationByFingerprint(fp string) (*concept.Instance, bool) {
	r, ok := l.newRelations[fp]
	return r, ok
}

func (l *Log) PutNewRelation(fp string, r *concept.Instance) {
	l.newRelations[fp] = r
}

// MarkCasting/MarkResource/MarkRelation record that a concept was created
// or touched this transaction; the marked sets become the commit log
// (spec §4.5 commit, §6 commit-log payload) and the set C7 validates.
func (l *Log) MarkCasting(id substrate.VertexID)  { l.modifiedCastings[id] = true }
func (l *Log) MarkResource(id substrate.VertexID) { l.modifiedResources[id] = true }
func (l *Log) MarkRelation(id substrate.VertexID) { l.modifiedRelations[id] = true }

func (l *Log) ModifiedCastings() []substrate.VertexID  { return keys(l.modifiedCastings) }
func (l *Log) ModifiedResources() []substrate.VertexID { return keys(l.modifiedResources) }
func (l *Log) ModifiedRelations() []substrate.VertexID { return keys(l.modifiedRelations) }

// AddInstanceDelta accumulates a +1 (or -delete's -1, if the engine ever
// supports delete) against a type's pending instance-count change,
// consumed by Engine.updateTypeShards at commit (spec §4.5 shard creation).
func (l *Log) AddInstanceDelta(typeLabel string, delta int64) {
	l.instanceDeltas[typeLabel] += delta
}

func (l *Log) InstanceDeltas() map[string]int64 {
	return l.instanceDeltas
}

// Mode reports which ontology cache write-expiry this transaction uses
// when it promotes types at commit.
func (l *Log) Mode() ontology.Mode { return l.mode }

func keys(m map[substrate.VertexID]bool) []substrate.VertexID {
	out := make([]substrate.VertexID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
