package reconcile

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegraph/typegraph/internal/commitlog"
	"github.com/typegraph/typegraph/internal/fingerprint"
	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/substrate/memory"
)

func TestProcessNoopOnSingleConceptID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store)

	payload := &commitlog.Payload{
		Castings: []commitlog.IndexEntry{{Index: "fp1", ConceptIDs: []string{"only-one"}}},
	}
	errs := r.Process(ctx, payload)
	assert.Empty(t, errs)
}

func TestProcessMergesDuplicateCastingsRedirectingEdges(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	var relID, mainCasting, dupCasting, player substrate.VertexID
	err := substrate.WithSession(ctx, store, substrate.Write, func(sess substrate.Session) error {
		var err error
		relID, err = sess.AddVertex(ctx, string(kinds.KindRelation))
		if err != nil {
			return err
		}
		player, err = sess.AddVertex(ctx, string(kinds.KindEntity))
		if err != nil {
			return err
		}
		mainCasting, err = sess.AddVertex(ctx, string(kinds.KindCasting))
		if err != nil {
			return err
		}
		dupCasting, err = sess.AddVertex(ctx, string(kinds.KindCasting))
		if err != nil {
			return err
		}
		if _, err := sess.AddEdge(ctx, relID, mainCasting, string(kinds.LabelCasting)); err != nil {
			return err
		}
		if _, err := sess.AddEdge(ctx, relID, dupCasting, string(kinds.LabelCasting)); err != nil {
			return err
		}
		if _, err := sess.AddEdge(ctx, dupCasting, player, string(kinds.LabelRolePlayer)); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)

	ids := []string{string(mainCasting), string(dupCasting)}
	sort.Strings(ids)
	survivor := substrate.VertexID(ids[0])
	retired := substrate.VertexID(ids[1])

	r := New(store)
	payload := &commitlog.Payload{
		Castings: []commitlog.IndexEntry{{Index: "fp-shared", ConceptIDs: ids}},
	}
	errs := r.Process(ctx, payload)
	assert.Empty(t, errs)

	err = substrate.WithSession(ctx, store, substrate.Read, func(sess substrate.Session) error {
		_, err := sess.VertexByRawID(ctx, retired)
		assert.ErrorIs(t, err, substrate.ErrNotFound, "the non-surviving duplicate must be deleted")

		v, err := sess.VertexByRawID(ctx, survivor)
		require.NoError(t, err)
		require.NotNil(t, v)

		out, err := sess.OutEdges(ctx, survivor, string(kinds.LabelRolePlayer))
		require.NoError(t, err)
		e, ok, err := out.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok, "the survivor must have inherited the duplicate's ROLE_PLAYER edge")
		assert.Equal(t, player, e.To)
		return nil
	})
	require.NoError(t, err)
}

func TestProcessRepointsRelationWhenDuplicateResourcePlaysARole(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	var a, b substrate.VertexID
	err := substrate.WithSession(ctx, store, substrate.Write, func(sess substrate.Session) error {
		var err error
		a, err = sess.AddVertex(ctx, string(kinds.KindResource))
		if err != nil {
			return err
		}
		b, err = sess.AddVertex(ctx, string(kinds.KindResource))
		return err
	})
	require.NoError(t, err)

	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	main := substrate.VertexID(ids[0])
	dup := substrate.VertexID(ids[1])

	var relID, oldCasting substrate.VertexID
	err = substrate.WithSession(ctx, store, substrate.Write, func(sess substrate.Session) error {
		roleType, err := sess.AddVertex(ctx, string(kinds.KindRoleType))
		if err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, roleType, kinds.PropTypeID, "1"); err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, roleType, kinds.PropTypeLabel, "value-holder"); err != nil {
			return err
		}

		relID, err = sess.AddVertex(ctx, string(kinds.KindRelation))
		if err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, relID, kinds.PropTypeID, "5"); err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, relID, kinds.PropIndex, "original-fp"); err != nil {
			return err
		}

		oldCasting, err = sess.AddVertex(ctx, string(kinds.KindCasting))
		if err != nil {
			return err
		}
		castEdge, err := sess.AddEdge(ctx, relID, oldCasting, string(kinds.LabelCasting))
		if err != nil {
			return err
		}
		if err := sess.SetEdgeProperty(ctx, castEdge, kinds.EdgePropRoleTypeID, "1"); err != nil {
			return err
		}
		// dup plays the role; main does not yet.
		_, err = sess.AddEdge(ctx, oldCasting, dup, string(kinds.LabelRolePlayer))
		return err
	})
	require.NoError(t, err)

	r := New(store)
	payload := &commitlog.Payload{
		Resources: []commitlog.IndexEntry{{Index: "fp-shared", ConceptIDs: ids}},
	}
	errs := r.Process(ctx, payload)
	require.Empty(t, errs)

	err = substrate.WithSession(ctx, store, substrate.Read, func(sess substrate.Session) error {
		_, err := sess.VertexByRawID(ctx, dup)
		assert.ErrorIs(t, err, substrate.ErrNotFound, "the duplicate resource must be retired")

		out, err := sess.OutEdges(ctx, relID, string(kinds.LabelCasting))
		require.NoError(t, err)
		var castingIDs []substrate.VertexID
		for {
			e, ok, err := out.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			castingIDs = append(castingIDs, e.To)
		}
		require.Len(t, castingIDs, 1, "the stale CASTING edge to the duplicate's casting must be replaced, not duplicated")
		newCasting := castingIDs[0]
		assert.NotEqual(t, oldCasting, newCasting, "repointing must mint a fresh casting rather than relabel the old one in place")

		playerOut, err := sess.OutEdges(ctx, newCasting, string(kinds.LabelRolePlayer))
		require.NoError(t, err)
		pe, ok, err := playerOut.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, main, pe.To, "the new casting must play main, not the retired duplicate")

		rel, err := sess.VertexByRawID(ctx, relID)
		require.NoError(t, err)
		newIdx, _ := rel.Property(kinds.PropIndex)
		assert.NotEqual(t, "original-fp", newIdx, "the relation's fingerprint must be recomputed after the substitution")
		return nil
	})
	require.NoError(t, err)
}

func TestProcessDeletesRedundantRelationWhenSubstitutionMatchesExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	var a, b substrate.VertexID
	err := substrate.WithSession(ctx, store, substrate.Write, func(sess substrate.Session) error {
		var err error
		a, err = sess.AddVertex(ctx, string(kinds.KindResource))
		if err != nil {
			return err
		}
		b, err = sess.AddVertex(ctx, string(kinds.KindResource))
		return err
	})
	require.NoError(t, err)

	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	main := substrate.VertexID(ids[0])
	dup := substrate.VertexID(ids[1])

	newFp := fingerprint.Relation(5, map[string][]string{"value-holder": {string(main)}})

	var dupRelID, survivorRelID substrate.VertexID
	err = substrate.WithSession(ctx, store, substrate.Write, func(sess substrate.Session) error {
		roleType, err := sess.AddVertex(ctx, string(kinds.KindRoleType))
		if err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, roleType, kinds.PropTypeID, "1"); err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, roleType, kinds.PropTypeLabel, "value-holder"); err != nil {
			return err
		}

		dupRelID, err = sess.AddVertex(ctx, string(kinds.KindRelation))
		if err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, dupRelID, kinds.PropTypeID, "5"); err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, dupRelID, kinds.PropIndex, "dup-fp"); err != nil {
			return err
		}
		dupCasting, err := sess.AddVertex(ctx, string(kinds.KindCasting))
		if err != nil {
			return err
		}
		ce, err := sess.AddEdge(ctx, dupRelID, dupCasting, string(kinds.LabelCasting))
		if err != nil {
			return err
		}
		if err := sess.SetEdgeProperty(ctx, ce, kinds.EdgePropRoleTypeID, "1"); err != nil {
			return err
		}
		if _, err := sess.AddEdge(ctx, dupCasting, dup, string(kinds.LabelRolePlayer)); err != nil {
			return err
		}

		// a relation that already matches the post-substitution fingerprint.
		survivorRelID, err = sess.AddVertex(ctx, string(kinds.KindRelation))
		if err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, survivorRelID, kinds.PropTypeID, "5"); err != nil {
			return err
		}
		return sess.SetProperty(ctx, survivorRelID, kinds.PropIndex, newFp)
	})
	require.NoError(t, err)

	r := New(store)
	payload := &commitlog.Payload{
		Resources: []commitlog.IndexEntry{{Index: "fp-shared", ConceptIDs: ids}},
	}
	errs := r.Process(ctx, payload)
	require.Empty(t, errs)

	err = substrate.WithSession(ctx, store, substrate.Read, func(sess substrate.Session) error {
		_, err := sess.VertexByRawID(ctx, dupRelID)
		assert.ErrorIs(t, err, substrate.ErrNotFound, "the now-redundant relation must be deleted rather than repointed")

		v, err := sess.VertexByRawID(ctx, survivorRelID)
		require.NoError(t, err)
		require.NotNil(t, v)
		return nil
	})
	require.NoError(t, err)
}

func TestProcessIdempotentOnRepeatedDelivery(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	var a, b substrate.VertexID
	err := substrate.WithSession(ctx, store, substrate.Write, func(sess substrate.Session) error {
		var err error
		a, err = sess.AddVertex(ctx, string(kinds.KindResource))
		if err != nil {
			return err
		}
		b, err = sess.AddVertex(ctx, string(kinds.KindResource))
		return err
	})
	require.NoError(t, err)

	r := New(store)
	payload := &commitlog.Payload{
		Resources: []commitlog.IndexEntry{{Index: "fp-shared", ConceptIDs: []string{string(a), string(b)}}},
	}
	errs := r.Process(ctx, payload)
	require.Empty(t, errs)

	// redelivering the same payload must not error even though one
	// concept id no longer exists.
	errs = r.Process(ctx, payload)
	assert.Empty(t, errs)
}
