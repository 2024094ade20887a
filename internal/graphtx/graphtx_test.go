package graphtx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/ontology"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/substrate/memory"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(memory.New(), EngineConfig{
		Keyspace:          "test",
		ShardingThreshold: 3,
		Cache:             ontology.DefaultConfig(time.Minute, time.Hour),
		EngineURL:         "IN_MEMORY",
	})
	require.NoError(t, e.Bootstrap(context.Background()))
	return e
}

func TestBootstrapSeedsSevenMetaTypesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	for _, label := range kinds.MetaTypes {
		typ, err := tx.GetType(ctx, label, "")
		require.NoError(t, err)
		require.NotNilf(t, typ, "expected meta-type %q to be seeded", label)
	}

	// idempotent re-bootstrap
	require.NoError(t, e.Bootstrap(ctx))
}

func TestPutTypeIdempotentAndTypeConflict(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	t1, err := tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	t2, err := tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	assert.Equal(t, t1.TypeID, t2.TypeID, "same label/kind must return the same type")

	_, err = tx.PutType(ctx, "person", kinds.KindRelationType, "")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindTypeConflict, gerr.Kind)
}

func TestPutTypeMetaImmutable(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.PutType(ctx, kinds.MetaEntityType, kinds.KindRelationType, "")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindMetaImmutable, gerr.Kind)

	// retrieval with matching kind still works
	typ, err := tx.PutType(ctx, kinds.MetaEntityType, kinds.KindEntityType, "")
	require.NoError(t, err)
	assert.Equal(t, kinds.MetaEntityType, typ.Label)
}

func TestPutTypeInvalidDatatype(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.PutType(ctx, "weight", kinds.KindResourceType, "NOT_A_TYPE")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindInvalidDatatype, gerr.Kind)
}

func TestAddEntityAndCommitPromotesCache(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	inst, err := tx.AddEntity(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, kinds.KindEntity, inst.Kind)

	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	// After commit, a read-only transaction sees the type with its
	// post-commit instance count. The shard rollover step evicts the
	// snapshot Commit promoted into C4, so this lookup resolves from the
	// substrate.
	tx2, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx2.Close(ctx)
	typ, err := tx2.GetType(ctx, "person", kinds.KindEntityType)
	require.NoError(t, err)
	require.NotNil(t, typ)
	assert.Equal(t, int64(1), typ.InstanceCount)
}

func TestGetConceptMissingReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	tx, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	c, err := tx.GetConcept(ctx, substrate.VertexID("does-not-exist"))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestAddResourceDedupsByValue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "age", kinds.KindResourceType, kinds.DatatypeLong)
	require.NoError(t, err)

	r1, err := tx.AddResource(ctx, "age", int64(27))
	require.NoError(t, err)
	r2, err := tx.AddResource(ctx, "age", int64(27))
	require.NoError(t, err)
	assert.Equal(t, r1.VID, r2.VID, "same (type, value) must return the same resource instance")

	_, err = tx.Commit(ctx)
	require.NoError(t, err)
}

func TestAddResourceWrongDatatypeIsImmutableValue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.PutType(ctx, "age", kinds.KindResourceType, kinds.DatatypeLong)
	require.NoError(t, err)

	_, err = tx.AddResource(ctx, "age", "not-a-number")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindImmutableValue, gerr.Kind)
}

func TestReadOnlyTransactionRejectsMutation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.AddEntity(ctx, "person")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindReadOnly, gerr.Kind)
}

func TestOperationsAfterCloseAreGraphClosed(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	require.NoError(t, tx.Close(ctx))
	require.NoError(t, tx.Close(ctx)) // idempotent

	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindGraphClosed, gerr.Kind)
}

func TestGetResourcesByValueFindsAllMatchingInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "age", kinds.KindResourceType, kinds.DatatypeLong)
	require.NoError(t, err)
	_, err = tx.AddResource(ctx, "age", int64(27))
	require.NoError(t, err)

	found, err := tx.GetResourcesByValue(ctx, int64(27))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, kinds.KindResource, found[0].Kind)

	none, err := tx.GetResourcesByValue(ctx, int64(99))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetResourcesByValueUnsupportedTypeIsInvalidDatatype(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	tx, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.GetResourcesByValue(ctx, struct{}{})
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindInvalidDatatype, gerr.Kind)
}

func TestAddRuleCreatesInstanceOfRuleType(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "must-have-employer", kinds.KindRuleType, "")
	require.NoError(t, err)

	inst, err := tx.AddRule(ctx, "must-have-employer")
	require.NoError(t, err)
	assert.Equal(t, kinds.KindRule, inst.Kind)

	_, err = tx.Commit(ctx)
	require.NoError(t, err)
}

func TestAbortClosesTransactionAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	require.NoError(t, tx.Abort(ctx))
	require.NoError(t, tx.Abort(ctx), "Abort must be idempotent")

	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, KindGraphClosed, gerr.Kind, "an aborted transaction must reject further operations")
}

func TestAbortDiscardsSubstrateWrites(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	inst, err := tx.AddEntity(ctx, "person")
	require.NoError(t, err)
	require.NoError(t, tx.Abort(ctx))

	// A fresh transaction must see none of the aborted writes: not the
	// type, and not the instance minted under it.
	tx2, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx2.Close(ctx)

	typ, err := tx2.GetType(ctx, "person", kinds.KindEntityType)
	require.NoError(t, err)
	assert.Nil(t, typ, "aborted PutType must not survive rollback")

	concept, err := tx2.GetConcept(ctx, inst.VID)
	require.NoError(t, err)
	assert.Nil(t, concept, "aborted AddEntity must not survive rollback")
}

func TestShardRolloverCreatesOneShardPerThresholdCrossing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t) // ShardingThreshold: 3

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := tx.AddEntity(ctx, "person")
		require.NoError(t, err)
	}
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	tx2, err := e.Open(ctx, substrate.Read, ontology.Interactive)
	require.NoError(t, err)
	defer tx2.Close(ctx)
	typ, err := tx2.GetType(ctx, "person", kinds.KindEntityType)
	require.NoError(t, err)
	require.NotNil(t, typ)
	assert.Equal(t, int64(1), typ.InstanceCount, "7 entities over a threshold of 3 must leave a remainder of 1")

	sess, err := e.Store().Begin(ctx, substrate.Read)
	require.NoError(t, err)
	defer sess.Rollback(ctx)
	it, err := sess.InEdges(ctx, typ.VID, string(kinds.LabelShard))
	require.NoError(t, err)
	count := 0
	for {
		_, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 3, count, "PutType's initial shard plus floor(7/3)=2 rollover shards for a delta of 7 over a threshold of 3")
}

func TestAddRelationDedupsByRoleMapAndSharesCasting(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tx, err := e.Open(ctx, substrate.Write, ontology.Interactive)
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "person", kinds.KindEntityType, "")
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "employer", kinds.KindRoleType, "")
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "employee", kinds.KindRoleType, "")
	require.NoError(t, err)
	_, err = tx.PutType(ctx, "employment", kinds.KindRelationType, "")
	require.NoError(t, err)

	alice, err := tx.AddEntity(ctx, "person")
	require.NoError(t, err)
	acme, err := tx.AddEntity(ctx, "person")
	require.NoError(t, err)

	roleMap := map[string][]substrate.VertexID{
		"employee": {alice.VID},
		"employer": {acme.VID},
	}
	rel1, err := tx.AddRelation(ctx, "employment", roleMap)
	require.NoError(t, err)
	rel2, err := tx.AddRelation(ctx, "employment", roleMap)
	require.NoError(t, err)
	assert.Equal(t, rel1.VID, rel2.VID, "identical role-map must dedup within one transaction")

	payload, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.NotEmpty(t, payload.Castings)
}
