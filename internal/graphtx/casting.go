package graphtx

import (
	"context"
	"fmt"

	"github.com/typegraph/typegraph/internal/concept"
	"github.com/typegraph/typegraph/internal/fingerprint"
	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/substrate"
)

// resourceFingerprint keys a resource instance's dedup index on (type,
// value) rather than (role, player) — reusing fingerprint.Casting's
// two-string hash since the shape (H of two correlated strings) is
// identical, just applied to a different pair.
func resourceFingerprint(typeLabel, encodedValue string) string {
	return fingerprint.Casting("resource|"+typeLabel, encodedValue)
}

// AddRelation creates or retrieves a relation of typeLabel with the given
// role-map (spec §4.5 add_relation, GLOSSARY "fingerprint", invariant 5).
// roleMap maps a role type's label to the set of instances playing that
// role. Relations are deduplicated synchronously: a fingerprint match
// already present in this transaction's log or in the substrate's INDEX
// is returned as-is rather than creating a new vertex.
func (t *Transaction) AddRelation(ctx context.Context, typeLabel string, roleMap map[string][]substrate.VertexID) (*concept.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureWritable(); err != nil {
		return nil, err
	}
	t.ensureLog()

	relType, err := t.getTypeLocked(ctx, typeLabel, kinds.KindRelationType)
	if err != nil {
		return nil, err
	}
	if relType == nil {
		return nil, fmt.Errorf("graphtx: unknown relation type %q", typeLabel)
	}

	roleTypeIDs := make(map[string]int64, len(roleMap))
	fpRoleMap := make(map[string][]string, len(roleMap))
	for roleLabel, players := range roleMap {
		roleType, err := t.getTypeLocked(ctx, roleLabel, kinds.KindRoleType)
		if err != nil {
			return nil, err
		}
		if roleType == nil {
			return nil, fmt.Errorf("graphtx: unknown role type %q", roleLabel)
		}
		roleTypeIDs[roleLabel] = roleType.TypeID
		ids := make([]string, len(players))
		for i, p := range players {
			ids[i] = string(p)
		}
		fpRoleMap[roleLabel] = ids
	}

	fp := fingerprint.Relation(relType.TypeID, fpRoleMap)
	if existing, ok := t.log.RelationByFingerprint(fp); ok {
		return existing, nil
	}
	if existing, err := t.findByIndex(ctx, fp, kinds.KindRelation); err != nil {
		return nil, err
	} else if existing != nil {
		t.log.PutNewRelation(fp, existing)
		t.log.PutConcept(existing)
		return existing, nil
	}

	relID, err := t.sess.AddVertex(ctx, string(kinds.KindRelation))
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "create relation vertex", err)
	}
	if err := t.sess.SetProperty(ctx, relID, kinds.PropTypeLabel, relType.Label); err != nil {
		return nil, newErr(KindSubstrateFailure, "set relation type label", err)
	}
	if err := t.sess.SetProperty(ctx, relID, kinds.PropTypeID, fmt.Sprint(relType.TypeID)); err != nil {
		return nil, newErr(KindSubstrateFailure, "set relation type id", err)
	}
	if err := t.sess.SetProperty(ctx, relID, kinds.PropIndex, fp); err != nil {
		return nil, newErr(KindSubstrateFailure, "set relation index", err)
	}
	if _, err := t.sess.AddEdge(ctx, relID, relType.CurrentShardID, string(kinds.LabelISA)); err != nil {
		return nil, newErr(KindSubstrateFailure, "link relation to shard", err)
	}

	for roleLabel, players := range roleMap {
		roleTypeID := roleTypeIDs[roleLabel]
		for _, player := range players {
			if err := t.castingProtocol(ctx, relID, relType.TypeID, roleTypeID, player); err != nil {
				return nil, err
			}
		}
	}

	t.log.AddInstanceDelta(relType.Label, 1)
	inst := &concept.Instance{VID: relID, Kind: kinds.KindRelation, DirectTypeLabel: relType.Label, DirectTypeID: relType.TypeID}
	t.log.PutNewRelation(fp, inst)
	t.log.PutConcept(inst)
	return inst, nil
}

// castingProtocol implements spec §4.5's five-step casting protocol for
// one (relation, role, player) triple.
func (t *Transaction) castingProtocol(ctx context.Context, relationID substrate.VertexID, relationTypeID, roleTypeID int64, player substrate.VertexID) error {
	roleID := fmt.Sprint(roleTypeID)
	playerID := string(player)

	// Step 1: H = hash(role-id, player-id).
	h := fingerprint.Casting(roleID, playerID)

	// Step 2: look up (or create) the casting vertex.
	castingID, created, err := t.findOrCreateCasting(ctx, h, roleID, player)
	if err != nil {
		return err
	}
	if created {
		t.log.MarkCasting(castingID)
	}

	// Step 3: relation -> casting, labelled CASTING, annotated with role-id,
	// if not already present.
	if present, err := t.hasEdgeTo(ctx, relationID, string(kinds.LabelCasting), castingID); err != nil {
		return err
	} else if !present {
		edgeID, err := t.sess.AddEdge(ctx, relationID, castingID, string(kinds.LabelCasting))
		if err != nil {
			return newErr(KindSubstrateFailure, "link relation to casting", err)
		}
		if err := t.sess.SetEdgeProperty(ctx, edgeID, kinds.EdgePropRoleTypeID, roleID); err != nil {
			return newErr(KindSubstrateFailure, "annotate casting edge", err)
		}
	}

	// Step 4: relation -> player, labelled SHORTCUT, annotated with
	// (relation-type-id, role-id), iff no equivalent edge exists.
	if present, err := t.hasEdgeTo(ctx, relationID, string(kinds.LabelShortcut), player); err != nil {
		return err
	} else if !present {
		edgeID, err := t.sess.AddEdge(ctx, relationID, player, string(kinds.LabelShortcut))
		if err != nil {
			return newErr(KindSubstrateFailure, "link relation to player (shortcut)", err)
		}
		if err := t.sess.SetEdgeProperty(ctx, edgeID, kinds.EdgePropRelationTypeID, fmt.Sprint(relationTypeID)); err != nil {
			return newErr(KindSubstrateFailure, "annotate shortcut edge", err)
		}
		if err := t.sess.SetEdgeProperty(ctx, edgeID, kinds.EdgePropRoleTypeID, roleID); err != nil {
			return newErr(KindSubstrateFailure, "annotate shortcut edge", err)
		}
	}

	// Step 5: mark the relation in modified_relations.
	t.log.MarkRelation(relationID)
	return nil
}

func (t *Transaction) findOrCreateCasting(ctx context.Context, h, roleID string, player substrate.VertexID) (substrate.VertexID, bool, error) {
	it, err := t.sess.VerticesByProperty(ctx, kinds.PropIndex, h)
	if err != nil {
		return "", false, newErr(KindSubstrateFailure, "resolve casting index", err)
	}
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return "", false, newErr(KindSubstrateFailure, "traverse casting index", err)
		}
		if !ok {
			break
		}
		if bk, _ := v.Property(kinds.PropBaseKind); kinds.BaseKind(bk) == kinds.KindCasting {
			return v.ID, false, nil
		}
	}

	castingID, err := t.sess.AddVertex(ctx, string(kinds.KindCasting))
	if err != nil {
		return "", false, newErr(KindSubstrateFailure, "create casting vertex", err)
	}
	if err := t.sess.SetProperty(ctx, castingID, kinds.PropIndex, h); err != nil {
		return "", false, newErr(KindSubstrateFailure, "set casting index", err)
	}
	edgeID, err := t.sess.AddEdge(ctx, castingID, player, string(kinds.LabelRolePlayer))
	if err != nil {
		return "", false, newErr(KindSubstrateFailure, "link casting to player", err)
	}
	if err := t.sess.SetEdgeProperty(ctx, edgeID, kinds.EdgePropRoleTypeID, roleID); err != nil {
		return "", false, newErr(KindSubstrateFailure, "annotate role-player edge", err)
	}
	return castingID, true, nil
}

func (t *Transaction) hasEdgeTo(ctx context.Context, from substrate.VertexID, label string, to substrate.VertexID) (bool, error) {
	it, err := t.sess.OutEdges(ctx, from, label)
	if err != nil {
		return false, newErr(KindSubstrateFailure, "list out-edges", err)
	}
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return false, newErr(KindSubstrateFailure, "traverse out-edges", err)
		}
		if !ok {
			return false, nil
		}
		if e.To == to {
			return true, nil
		}
	}
}
