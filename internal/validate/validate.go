// Package validate is the invariant checker (C7) run at the end of every
// write transaction, just before commit (spec §4.6, §8). It walks the
// modified set a txlog.Log accumulated and checks it against the
// invariants in spec §3 and the domain rules in spec §4.5, aggregating
// every failure instead of stopping at the first one — spec §4.6 calls
// this "total": a caller fixing one problem at a time should see the
// whole list, not one failure per commit attempt.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/typegraph/typegraph/internal/concept"
	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/txlog"
)

// Failure is one invariant violation. Invariant names the specific rule
// from spec §3/§4.5 (e.g. "invariant-2-type-has-shard",
// "relation-has-role-players"), not a
// generic "validation failed" string, so a caller triaging a batch load
// failure can filter by rule.
type Failure struct {
	Invariant string
	ConceptID substrate.VertexID
	Message   string
}

// Error aggregates every Failure found in one validation pass.
type Error struct {
	Failures []Failure
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("%s (%s): %s", f.Invariant, f.ConceptID, f.Message)
	}
	return fmt.Sprintf("validate: %d invariant failure(s): %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Checker validates the modified set of one transaction against the
// committed-but-not-yet-flushed state visible through sess.
type Checker struct {
	sess substrate.Session
	log  *txlog.Log
}

func New(sess substrate.Session, log *txlog.Log) *Checker {
	return &Checker{sess: sess, log: log}
}

// Validate runs every check and returns a non-nil *Error aggregating all
// failures found, or nil if the transaction's modified set is sound.
func (c *Checker) Validate(ctx context.Context) error {
	var failures []Failure
	add := func(invariant string, id substrate.VertexID, format string, args ...any) {
		failures = append(failures, Failure{Invariant: invariant, ConceptID: id, Message: fmt.Sprintf(format, args...)})
	}

	for _, t := range c.log.TouchedTypes() {
		c.checkTypeUniqueness(ctx, t, add)
		c.checkTypeHasShard(ctx, t, add)
	}

	for _, id := range c.log.ModifiedRelations() {
		c.checkRelation(ctx, id, add)
	}

	for _, id := range relationsFromLog(c.log) {
		c.checkRelationFingerprintUnique(ctx, id, add)
	}

	if len(failures) == 0 {
		return nil
	}
	return &Error{Failures: failures}
}

// relationsFromLog extracts the ids in the log's modified-relation set
// that also sit in its concept cache as instances. In a graphtx
// transaction these are the relations it created, since the casting
// protocol only runs for new relations.
func relationsFromLog(log *txlog.Log) []substrate.VertexID {
	out := make([]substrate.VertexID, 0)
	seen := make(map[substrate.VertexID]bool)
	for _, id := range log.ModifiedRelations() {
		if c, ok := log.CachedConcept(id); ok {
			if _, isInstance := c.(*concept.Instance); isInstance && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// checkTypeUniqueness enforces invariant 4: a type-label resolves to
// exactly one type vertex. Type-id uniqueness (invariant 3) is not checked.
func (c *Checker) checkTypeUniqueness(ctx context.Context, t *concept.Type, add func(string, substrate.VertexID, string, ...any)) {
	it, err := c.sess.VerticesByProperty(ctx, kinds.PropTypeLabel, t.Label)
	if err != nil {
		add("invariant-4-type-label-unique", t.VID, "lookup failed: %v", err)
		return
	}
	count := 0
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			add("invariant-4-type-label-unique", t.VID, "traversal failed: %v", err)
			return
		}
		if !ok {
			break
		}
		if bk, _ := v.Property(kinds.PropBaseKind); kinds.BaseKind(bk).IsType() {
			count++
		}
	}
	if count > 1 {
		add("invariant-4-type-label-unique", t.VID, "label %q resolves to %d type vertices", t.Label, count)
	}
}

// checkTypeHasShard enforces invariant 2: every non-meta type has at
// least one shard.
func (c *Checker) checkTypeHasShard(ctx context.Context, t *concept.Type, add func(string, substrate.VertexID, string, ...any)) {
	if kinds.IsMeta(t.Label) {
		return
	}
	it, err := c.sess.InEdges(ctx, t.VID, string(kinds.LabelShard))
	if err != nil {
		add("invariant-2-type-has-shard", t.VID, "shard lookup failed: %v", err)
		return
	}
	_, ok, err := it.Next(ctx)
	if err != nil {
		add("invariant-2-type-has-shard", t.VID, "shard traversal failed: %v", err)
		return
	}
	if !ok {
		add("invariant-2-type-has-shard", t.VID, "type %q has no shard", t.Label)
	}
}

// checkRelation enforces the domain rule that a relation has at least one
// role player (at least one outgoing CASTING edge). It does not check the
// roles themselves: graphtx.AddRelation rejects a role label that does not
// resolve to an existing ROLE_TYPE when the relation is built, and no
// check here ties a role to the relation type's own role list.
func (c *Checker) checkRelation(ctx context.Context, id substrate.VertexID, add func(string, substrate.VertexID, string, ...any)) {
	out, err := c.sess.OutEdges(ctx, id, string(kinds.LabelCasting))
	if err != nil {
		add("relation-has-role-players", id, "casting lookup failed: %v", err)
		return
	}
	count := 0
	for {
		_, ok, err := out.Next(ctx)
		if err != nil {
			add("relation-has-role-players", id, "casting traversal failed: %v", err)
			return
		}
		if !ok {
			break
		}
		count++
	}
	if count == 0 {
		add("relation-has-role-players", id, "relation has no role players")
	}
}

// checkRelationFingerprintUnique enforces invariant 5 for relations
// created by this transaction: a relation's (type, role-map) fingerprint
// resolves to exactly one RELATION vertex.
func (c *Checker) checkRelationFingerprintUnique(ctx context.Context, id substrate.VertexID, add func(string, substrate.VertexID, string, ...any)) {
	v, err := c.sess.VertexByRawID(ctx, id)
	if err != nil || v == nil {
		return
	}
	idx, ok := v.Property(kinds.PropIndex)
	if !ok {
		return
	}
	it, err := c.sess.VerticesByProperty(ctx, kinds.PropIndex, idx)
	if err != nil {
		add("invariant-5-relation-fingerprint-unique", id, "lookup failed: %v", err)
		return
	}
	count := 0
	for {
		cand, ok, err := it.Next(ctx)
		if err != nil {
			add("invariant-5-relation-fingerprint-unique", id, "traversal failed: %v", err)
			return
		}
		if !ok {
			break
		}
		if bk, _ := cand.Property(kinds.PropBaseKind); kinds.BaseKind(bk) == kinds.KindRelation {
			count++
		}
	}
	if count > 1 {
		add("invariant-5-relation-fingerprint-unique", id, "fingerprint %q resolves to %d relation vertices", idx, count)
	}
}
