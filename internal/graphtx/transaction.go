package graphtx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/typegraph/typegraph/internal/commitlog"
	"github.com/typegraph/typegraph/internal/concept"
	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/ontology"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/telemetry"
	"github.com/typegraph/typegraph/internal/txlog"
	"github.com/typegraph/typegraph/internal/validate"
)

// Transaction is the public graph-transaction API (C6), spec §4.5. Every
// mutating or reading operation on the graph goes through one of these.
// A Transaction is not safe for concurrent use by multiple goroutines —
// that is the caller's serialization boundary, same as a database/sql.Tx.
type Transaction struct {
	engine *Engine
	sess   substrate.Session
	log    *txlog.Log
	kind   substrate.TxKind

	mu     sync.Mutex
	closed bool
}

// ensureOpen and ensureWritable guard every public method; spec §7 lists
// GraphClosed/ReadOnly as propagating, never swallowed errors.
func (t *Transaction) ensureOpen() error {
	if t.closed {
		return newErr(KindGraphClosed, "transaction already committed, aborted, or closed", nil)
	}
	return nil
}

func (t *Transaction) ensureWritable() error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if t.sess.ReadOnly() {
		return newErr(KindReadOnly, "mutation attempted on a read-only transaction", nil)
	}
	return nil
}

// ensureLog is a defensive fallback for a Transaction constructed any way
// other than Engine.Open (there is none in this package, but a nil log
// would otherwise panic instead of erroring cleanly).
func (t *Transaction) ensureLog() {
	if t.log == nil {
		t.log = txlog.New(t.engine.cache, ontology.Interactive)
	}
}

// PutType is the idempotent type creator/retriever (spec §4.5). Calling it
// twice for the same label with matching kind (and, for resource types,
// matching datatype) returns the existing type both times; a mismatch is
// a TypeConflict. Meta-type labels can only be retrieved, never created or
// changed, by this call — mismatched kind/datatype on a meta label is
// MetaImmutable rather than TypeConflict.
func (t *Transaction) PutType(ctx context.Context, label string, kind kinds.BaseKind, datatype kinds.Datatype) (*concept.Type, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureWritable(); err != nil {
		return nil, err
	}
	t.ensureLog()

	existing, err := t.getTypeLocked(ctx, label, "")
	if err != nil {
		return nil, err
	}

	if kinds.IsMeta(label) {
		if existing == nil {
			return nil, newErr(KindMetaImmutable, "meta-type "+label+" has not been bootstrapped", nil)
		}
		if existing.Kind != kind || (kind == kinds.KindResourceType && existing.Datatype != datatype) {
			return nil, newErr(KindMetaImmutable, "meta-type "+label+" cannot be redefined", nil)
		}
		return existing, nil
	}

	if existing != nil {
		if existing.Kind != kind {
			return nil, newErr(KindTypeConflict, fmt.Sprintf("type %q already exists with kind %s, not %s", label, existing.Kind, kind), nil)
		}
		if kind == kinds.KindResourceType && existing.Datatype != datatype {
			return nil, newErr(KindTypeConflict, fmt.Sprintf("resource type %q already exists with datatype %s, not %s", label, existing.Datatype, datatype), nil)
		}
		return existing, nil
	}

	if kind == kinds.KindResourceType && !datatype.Valid() {
		return nil, newErr(KindInvalidDatatype, fmt.Sprintf("unsupported datatype %q", datatype), nil)
	}

	typeID, err := t.allocateTypeID(ctx)
	if err != nil {
		return nil, err
	}

	vid, err := t.sess.AddVertex(ctx, string(kind))
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "create type vertex", err)
	}
	if err := setTypeProperties(ctx, t.sess, vid, label, typeID, false, false); err != nil {
		return nil, newErr(KindSubstrateFailure, "set type properties", err)
	}
	if kind == kinds.KindResourceType {
		if err := t.sess.SetProperty(ctx, vid, kinds.PropDataType, string(datatype)); err != nil {
			return nil, newErr(KindSubstrateFailure, "set datatype", err)
		}
	}

	parentLabel := metaParentFor(kind)
	parent, err := t.getTypeLocked(ctx, parentLabel, "")
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, newErr(KindSubstrateFailure, "meta-type "+parentLabel+" missing; keyspace not bootstrapped", nil)
	}
	if _, err := t.sess.AddEdge(ctx, vid, parent.VID, string(kinds.LabelSub)); err != nil {
		return nil, newErr(KindSubstrateFailure, "link to meta-type", err)
	}

	shardID, err := t.sess.AddVertex(ctx, string(kinds.KindShard))
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "create initial shard", err)
	}
	if err := t.sess.SetProperty(ctx, shardID, kinds.PropTypeLabel, label); err != nil {
		return nil, newErr(KindSubstrateFailure, "set shard type label", err)
	}
	if _, err := t.sess.AddEdge(ctx, shardID, vid, string(kinds.LabelShard)); err != nil {
		return nil, newErr(KindSubstrateFailure, "link shard to type", err)
	}
	if err := t.sess.SetProperty(ctx, vid, kinds.PropCurrentShard, string(shardID)); err != nil {
		return nil, newErr(KindSubstrateFailure, "set current shard", err)
	}

	newType := &concept.Type{
		VID:            vid,
		Kind:           kind,
		TypeID:         typeID,
		Label:          label,
		CurrentShardID: shardID,
		Datatype:       datatype,
	}
	t.log.PutType(newType)
	return newType, nil
}

func metaParentFor(kind kinds.BaseKind) string {
	switch kind {
	case kinds.KindEntityType:
		return kinds.MetaEntityType
	case kinds.KindRelationType:
		return kinds.MetaRelationType
	case kinds.KindResourceType:
		return kinds.MetaResourceType
	case kinds.KindRoleType:
		return kinds.MetaRoleType
	case kinds.KindRuleType:
		return kinds.MetaRuleType
	default:
		return kinds.MetaConcept
	}
}

// allocateTypeID reads-modifies-writes the NEXT_TYPE_ID counter on the
// "concept" meta vertex. It is wrapped in a bounded retry with jitter
// (spec §9 Open Question: "what does the retry/backoff envelope for
// type-id allocation conflicts look like" — resolved here the same way
// the teacher's dolt/transaction.go RunInTransaction retries a conflicting
// commit: bounded exponential backoff, a handful of attempts, then give up
// and surface the failure rather than retry forever).
func (t *Transaction) allocateTypeID(ctx context.Context) (int64, error) {
	var id int64
	op := func() error {
		root, err := t.getTypeLocked(ctx, kinds.MetaConcept, "")
		if err != nil {
			return err
		}
		if root == nil {
			return newErr(KindSubstrateFailure, "keyspace not bootstrapped: no concept root", nil)
		}
		v, err := t.sess.VertexByRawID(ctx, root.VID)
		if err != nil {
			return newErr(KindSubstrateFailure, "read type-id counter", err)
		}
		raw, _ := v.Property(kinds.MetaTypeCounterKey)
		next, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return newErr(KindSubstrateFailure, "corrupt type-id counter", err)
		}
		if err := t.sess.SetProperty(ctx, root.VID, kinds.MetaTypeCounterKey, strconv.FormatInt(next+1, 10)); err != nil {
			return newErr(KindSubstrateFailure, "advance type-id counter", err)
		}
		id = next
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(op, bo); err != nil {
		return 0, err
	}
	return id, nil
}

// GetType resolves a type by label, optionally filtered to a specific
// BaseKind (spec §4.5). On a kind mismatch it returns (nil, nil) rather
// than an error — the caller asked "is there a RELATION_TYPE named X" and
// the honest answer is "no", not a fault.
func (t *Transaction) GetType(ctx context.Context, label string, wantKind kinds.BaseKind) (*concept.Type, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	t.ensureLog()
	return t.getTypeLocked(ctx, label, wantKind)
}

func (t *Transaction) getTypeLocked(ctx context.Context, label string, wantKind kinds.BaseKind) (*concept.Type, error) {
	if typ, ok := t.log.CachedType(label); ok {
		if wantKind != "" && typ.Kind != wantKind {
			return nil, nil
		}
		return typ, nil
	}
	typ, err := resolveTypeFromSubstrate(ctx, t.sess, label)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, nil
	}
	t.log.PutType(typ)
	if wantKind != "" && typ.Kind != wantKind {
		return nil, nil
	}
	return typ, nil
}

// GetConcept resolves a concept by its raw substrate id (spec §4.5). It
// returns (nil, nil) if no vertex exists with that id.
func (t *Transaction) GetConcept(ctx context.Context, id substrate.VertexID) (concept.Concept, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	t.ensureLog()

	if c, ok := t.log.CachedConcept(id); ok {
		return c, nil
	}
	v, err := t.sess.VertexByRawID(ctx, id)
	if err != nil {
		if errors.Is(err, substrate.ErrNotFound) {
			return nil, nil
		}
		return nil, newErr(KindSubstrateFailure, "resolve concept "+string(id), err)
	}
	if v == nil {
		return nil, nil
	}
	c, err := concept.FromVertex(v)
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "decode concept "+string(id), err)
	}
	t.log.PutConcept(c)
	return c, nil
}

// GetResourcesByValue resolves every resource instance currently holding
// value (spec §4.5 get_resources_by_value). Because resource dedup is
// applied post-commit rather than synchronously (invariant 7), this can
// legitimately return more than one concept for a brief window after two
// concurrent transactions both create "the same" resource; it is a set,
// not a unique lookup, so no DuplicateConcept is raised here — that
// ambiguity error is reserved for paths with a single-result contract
// (type/label resolution), per spec §9's Open Question on get_concept.
func (t *Transaction) GetResourcesByValue(ctx context.Context, value any) ([]*concept.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	t.ensureLog()

	dt, encoded, err := resolveValue(value)
	if err != nil {
		return nil, newErr(KindInvalidDatatype, err.Error(), err)
	}

	it, err := t.sess.VerticesByProperty(ctx, dt.ValueProperty(), encoded)
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "resolve resources by value", err)
	}
	var out []*concept.Instance
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "traverse resource value index", err)
		}
		if !ok {
			break
		}
		bk, _ := v.Property(kinds.PropBaseKind)
		if kinds.BaseKind(bk) != kinds.KindResource {
			continue
		}
		c, err := concept.FromVertex(v)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "decode resource", err)
		}
		inst := c.(*concept.Instance)
		t.log.PutConcept(inst)
		out = append(out, inst)
	}
	return out, nil
}

// resolveValue maps a Go value to the closed Datatype set and its
// canonical string encoding (spec §3 Datatype), or an error if v's
// runtime type isn't one of the five supported kinds.
func resolveValue(v any) (kinds.Datatype, string, error) {
	switch val := v.(type) {
	case string:
		return kinds.DatatypeString, val, nil
	case int:
		return kinds.DatatypeLong, strconv.FormatInt(int64(val), 10), nil
	case int32:
		return kinds.DatatypeLong, strconv.FormatInt(int64(val), 10), nil
	case int64:
		return kinds.DatatypeLong, strconv.FormatInt(val, 10), nil
	case float32:
		return kinds.DatatypeDouble, strconv.FormatFloat(float64(val), 'g', -1, 64), nil
	case float64:
		return kinds.DatatypeDouble, strconv.FormatFloat(val, 'g', -1, 64), nil
	case bool:
		return kinds.DatatypeBoolean, strconv.FormatBool(val), nil
	case time.Time:
		return kinds.DatatypeDate, val.UTC().Format(time.RFC3339), nil
	default:
		return "", "", fmt.Errorf("value of type %T is not a supported resource datatype", v)
	}
}

// AddEntity creates a new entity instance of typeLabel (spec §4.5
// put_instance family).
func (t *Transaction) AddEntity(ctx context.Context, typeLabel string) (*concept.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureWritable(); err != nil {
		return nil, err
	}
	t.ensureLog()

	typ, err := t.getTypeLocked(ctx, typeLabel, kinds.KindEntityType)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, fmt.Errorf("graphtx: unknown entity type %q", typeLabel)
	}
	return t.createInstance(ctx, typ)
}

// AddRule creates a new rule instance of typeLabel.
func (t *Transaction) AddRule(ctx context.Context, typeLabel string) (*concept.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureWritable(); err != nil {
		return nil, err
	}
	t.ensureLog()

	typ, err := t.getTypeLocked(ctx, typeLabel, kinds.KindRuleType)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, fmt.Errorf("graphtx: unknown rule type %q", typeLabel)
	}
	return t.createInstance(ctx, typ)
}

// AddResource creates or retrieves a resource instance of typeLabel
// holding value (spec §4.5, invariant 7). Resources are deduplicated
// against the existing INDEX the same way castings are: look up first,
// create only on a miss.
func (t *Transaction) AddResource(ctx context.Context, typeLabel string, value any) (*concept.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureWritable(); err != nil {
		return nil, err
	}
	t.ensureLog()

	typ, err := t.getTypeLocked(ctx, typeLabel, kinds.KindResourceType)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, fmt.Errorf("graphtx: unknown resource type %q", typeLabel)
	}

	dt, encoded, err := resolveValue(value)
	if err != nil {
		return nil, newErr(KindInvalidDatatype, err.Error(), err)
	}
	if dt != typ.Datatype {
		return nil, newErr(KindImmutableValue, fmt.Sprintf("resource type %q has fixed datatype %s, got %s", typeLabel, typ.Datatype, dt), nil)
	}

	idx := resourceFingerprint(typeLabel, encoded)
	if existing, err := t.findByIndex(ctx, idx, kinds.KindResource); err != nil {
		return nil, err
	} else if existing != nil {
		t.log.PutConcept(existing)
		return existing, nil
	}

	inst, err := t.createInstance(ctx, typ)
	if err != nil {
		return nil, err
	}
	if err := t.sess.SetProperty(ctx, inst.VID, kinds.PropDataType, string(dt)); err != nil {
		return nil, newErr(KindSubstrateFailure, "set resource datatype", err)
	}
	if err := t.sess.SetProperty(ctx, inst.VID, dt.ValueProperty(), encoded); err != nil {
		return nil, newErr(KindSubstrateFailure, "set resource value", err)
	}
	if err := t.sess.SetProperty(ctx, inst.VID, kinds.PropIndex, idx); err != nil {
		return nil, newErr(KindSubstrateFailure, "set resource index", err)
	}
	inst.Datatype = dt
	inst.Value = encoded
	t.log.MarkResource(inst.VID)
	return inst, nil
}

func (t *Transaction) findByIndex(ctx context.Context, idx string, wantKind kinds.BaseKind) (*concept.Instance, error) {
	it, err := t.sess.VerticesByProperty(ctx, kinds.PropIndex, idx)
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "resolve by index", err)
	}
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "traverse index", err)
		}
		if !ok {
			return nil, nil
		}
		bk, _ := v.Property(kinds.PropBaseKind)
		if kinds.BaseKind(bk) != wantKind {
			continue
		}
		c, err := concept.FromVertex(v)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "decode concept", err)
		}
		return c.(*concept.Instance), nil
	}
}

func instanceKindFor(typeKind kinds.BaseKind) (kinds.BaseKind, error) {
	switch typeKind {
	case kinds.KindEntityType:
		return kinds.KindEntity, nil
	case kinds.KindRelationType:
		return kinds.KindRelation, nil
	case kinds.KindResourceType:
		return kinds.KindResource, nil
	case kinds.KindRuleType:
		return kinds.KindRule, nil
	default:
		return "", fmt.Errorf("graphtx: %s has no instance variant", typeKind)
	}
}

func (t *Transaction) createInstance(ctx context.Context, typ *concept.Type) (*concept.Instance, error) {
	instKind, err := instanceKindFor(typ.Kind)
	if err != nil {
		return nil, err
	}
	vid, err := t.sess.AddVertex(ctx, string(instKind))
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "create instance vertex", err)
	}
	if err := t.sess.SetProperty(ctx, vid, kinds.PropTypeLabel, typ.Label); err != nil {
		return nil, newErr(KindSubstrateFailure, "set instance type label", err)
	}
	if err := t.sess.SetProperty(ctx, vid, kinds.PropTypeID, strconv.FormatInt(typ.TypeID, 10)); err != nil {
		return nil, newErr(KindSubstrateFailure, "set instance type id", err)
	}
	if _, err := t.sess.AddEdge(ctx, vid, typ.CurrentShardID, string(kinds.LabelISA)); err != nil {
		return nil, newErr(KindSubstrateFailure, "link instance to shard", err)
	}

	inst := &concept.Instance{VID: vid, Kind: instKind, DirectTypeLabel: typ.Label, DirectTypeID: typ.TypeID}
	t.log.AddInstanceDelta(typ.Label, 1)
	t.log.PutConcept(inst)
	return inst, nil
}

// Commit validates the transaction's modified set, flushes it through the
// substrate, promotes touched types into the ontology cache, applies
// pending shard rollovers, and publishes a commit-log payload if anything
// worth reconciling changed (spec §4.5, §4.6, §6).
func (t *Transaction) Commit(ctx context.Context) (*commitlog.Payload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	t.ensureLog()

	ctx, span := telemetry.Tracer.Start(ctx, "graphtx.Commit")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	checker := validate.New(t.sess, t.log)
	if verr := checker.Validate(ctx); verr != nil {
		_ = t.sess.Rollback(ctx)
		t.closed = true
		err = newErr(KindValidation, "transaction failed validation", verr)
		return nil, err
	}

	payload, buildErr := t.buildPayload(ctx)
	if buildErr != nil {
		_ = t.sess.Rollback(ctx)
		t.closed = true
		err = buildErr
		return nil, err
	}

	if commitErr := t.sess.Commit(ctx); commitErr != nil {
		t.closed = true
		err = newErr(KindSubstrateFailure, "commit session", commitErr)
		return nil, err
	}
	t.closed = true

	for label, typ := range t.log.TouchedTypes() {
		t.engine.cache.Put(label, typ, t.log.Mode())
	}

	if shardErr := t.engine.updateTypeShards(ctx, t.log.InstanceDeltas()); shardErr != nil {
		// Shard rollover failing after a successful commit does not undo
		// the commit: instance counts simply lag until the next
		// successful rollover pass picks up where this one left off.
		err = newErr(KindSubstrateFailure, "apply shard rollover", shardErr)
		return payload, err
	}

	if !payload.Empty() {
		if pubErr := t.engine.sink.Publish(ctx, t.engine.keyspace, payload); pubErr != nil {
			err = newErr(KindSubstrateFailure, "publish commit log", pubErr)
			return payload, err
		}
	}

	return payload, nil
}

// buildPayload gathers every commit-log index entry while the session is
// still open (and so still sees this transaction's own uncommitted
// writes layered over everything already committed before it).
func (t *Transaction) buildPayload(ctx context.Context) (*commitlog.Payload, error) {
	payload := &commitlog.Payload{}

	for label, delta := range t.log.InstanceDeltas() {
		if delta != 0 {
			payload.InstanceCounts = append(payload.InstanceCounts, commitlog.InstanceCountEntry{TypeLabel: label, Delta: delta})
		}
	}

	castingIdx, err := t.indexEntriesFor(ctx, t.log.ModifiedCastings(), kinds.KindCasting)
	if err != nil {
		return nil, err
	}
	payload.Castings = castingIdx

	resourceIdx, err := t.indexEntriesFor(ctx, t.log.ModifiedResources(), kinds.KindResource)
	if err != nil {
		return nil, err
	}
	payload.Resources = resourceIdx

	return payload, nil
}

func (t *Transaction) indexEntriesFor(ctx context.Context, ids []substrate.VertexID, wantKind kinds.BaseKind) ([]commitlog.IndexEntry, error) {
	seen := make(map[string]bool)
	var out []commitlog.IndexEntry
	for _, id := range ids {
		v, err := t.sess.VertexByRawID(ctx, id)
		if err != nil || v == nil {
			continue
		}
		idx, ok := v.Property(kinds.PropIndex)
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true

		it, err := t.sess.VerticesByProperty(ctx, kinds.PropIndex, idx)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "resolve index candidates", err)
		}
		var conceptIDs []string
		for {
			cand, ok, err := it.Next(ctx)
			if err != nil {
				return nil, newErr(KindSubstrateFailure, "traverse index candidates", err)
			}
			if !ok {
				break
			}
			bk, _ := cand.Property(kinds.PropBaseKind)
			if kinds.BaseKind(bk) != wantKind {
				continue
			}
			conceptIDs = append(conceptIDs, string(cand.ID))
		}
		out = append(out, commitlog.IndexEntry{Index: idx, ConceptIDs: conceptIDs})
	}
	return out, nil
}

// Abort discards every write this transaction made (spec §4.5).
func (t *Transaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.sess.Rollback(ctx); err != nil {
		return newErr(KindSubstrateFailure, "rollback session", err)
	}
	return nil
}

// Close discards the transaction if it was never committed or aborted
// (spec §4.5 "discard S5, release the substrate transaction"). Calling it
// after Commit or Abort is a no-op.
func (t *Transaction) Close(ctx context.Context) error {
	return t.Abort(ctx)
}
