// Package reconcile is the post-commit duplicate reconciler (C8, spec
// §4.7). It consumes the commit-log payload's casting/resource index
// entries — each naming an INDEX value and every concept-id currently
// registered under it — and merges every duplicate down to one surviving
// "main" concept, retiring the rest.
//
// Reconciliation never runs on the critical path of a commit (spec §5:
// the engine publishes a payload and returns; C8 drains it asynchronously,
// serialized per keyspace by an external dispatcher). Every step here is
// idempotent: re-running Process against an index entry that has already
// converged to one concept-id is a no-op, which matters because the
// dispatcher delivering payloads at least once is simpler than delivering
// them exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/typegraph/typegraph/internal/commitlog"
	"github.com/typegraph/typegraph/internal/fingerprint"
	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/telemetry"
)

// Reconciler merges duplicate castings and resources in a single
// keyspace's substrate.
type Reconciler struct {
	store substrate.Store
}

func New(store substrate.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Process reconciles every index entry in payload. A failure partway
// through one entry does not abort the rest — each entry is its own
// bounded unit of work, and a failed entry will simply be retried the
// next time its INDEX value appears in a payload (it still has more than
// one concept-id, so it is still a candidate).
func (r *Reconciler) Process(ctx context.Context, payload *commitlog.Payload) []error {
	var errs []error
	for _, entry := range payload.Castings {
		if err := r.reconcileOne(ctx, entry, kinds.KindCasting); err != nil {
			errs = append(errs, err)
		}
	}
	for _, entry := range payload.Resources {
		if err := r.reconcileOne(ctx, entry, kinds.KindResource); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// reconcileOne collapses entry's duplicate concept-ids onto the one
// sorted-smallest "main" id, dispatching to the casting or resource merge
// algorithm per spec §4.7, then (step 4) re-asserts INDEX=entry.Index on
// the survivor as a defensive write.
func (r *Reconciler) reconcileOne(ctx context.Context, entry commitlog.IndexEntry, wantKind kinds.BaseKind) error {
	if len(entry.ConceptIDs) <= 1 {
		return nil
	}

	ids := append([]string(nil), entry.ConceptIDs...)
	sort.Strings(ids)
	main := substrate.VertexID(ids[0])
	dups := make([]substrate.VertexID, 0, len(ids)-1)
	for _, id := range ids[1:] {
		dups = append(dups, substrate.VertexID(id))
	}

	return substrate.WithSession(ctx, r.store, substrate.Write, func(sess substrate.Session) error {
		for _, dup := range dups {
			var err error
			if wantKind == kinds.KindResource {
				err = mergeResource(ctx, sess, main, dup)
			} else {
				err = mergeCasting(ctx, sess, main, dup)
			}
			if err != nil {
				return err
			}
			telemetry.Metrics.ReconcileMerges.Add(ctx, 1)
		}
		return sess.SetProperty(ctx, main, kinds.PropIndex, entry.Index)
	})
}

// mergeCasting redirects every edge incident to dup onto main, skipping
// any redirection that would duplicate an edge main already has, then
// retires dup. This covers both directions spec §4.7 calls out for
// castings: inbound edges (a relation's CASTING edge into a duplicate
// casting) and outbound edges (a duplicate casting's own ROLE_PLAYER edge
// to its player).
func mergeCasting(ctx context.Context, sess substrate.Session, main, dup substrate.VertexID) error {
	if err := redirectInbound(ctx, sess, main, dup); err != nil {
		return err
	}
	if err := redirectOutbound(ctx, sess, main, dup); err != nil {
		return err
	}
	return sess.DeleteVertex(ctx, dup)
}

func redirectInbound(ctx context.Context, sess substrate.Session, main, dup substrate.VertexID) error {
	in, err := sess.InEdges(ctx, dup, "")
	if err != nil {
		return err
	}
	var toRedirect []*substrate.Edge
	for {
		e, ok, err := in.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		toRedirect = append(toRedirect, e)
	}

	for _, e := range toRedirect {
		has, err := hasEdge(ctx, sess, e.From, e.Label, main)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		newEdge, err := sess.AddEdge(ctx, e.From, main, e.Label)
		if err != nil {
			return err
		}
		for k, v := range e.Properties {
			if err := sess.SetEdgeProperty(ctx, newEdge, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func redirectOutbound(ctx context.Context, sess substrate.Session, main, dup substrate.VertexID) error {
	out, err := sess.OutEdges(ctx, dup, "")
	if err != nil {
		return err
	}
	var toRedirect []*substrate.Edge
	for {
		e, ok, err := out.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		toRedirect = append(toRedirect, e)
	}

	for _, e := range toRedirect {
		has, err := hasEdge(ctx, sess, main, e.Label, e.To)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		newEdge, err := sess.AddEdge(ctx, main, e.To, e.Label)
		if err != nil {
			return err
		}
		for k, v := range e.Properties {
			if err := sess.SetEdgeProperty(ctx, newEdge, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasEdge(ctx context.Context, sess substrate.Session, from substrate.VertexID, label string, to substrate.VertexID) (bool, error) {
	it, err := sess.OutEdges(ctx, from, label)
	if err != nil {
		return false, err
	}
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if e.To == to {
			return true, nil
		}
	}
}

func findEdge(ctx context.Context, sess substrate.Session, from substrate.VertexID, label string, to substrate.VertexID) (*substrate.Edge, bool, error) {
	it, err := sess.OutEdges(ctx, from, label)
	if err != nil {
		return nil, false, err
	}
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if e.To == to {
			return e, true, nil
		}
	}
}

// mergeResource implements spec §4.7's "Resource relation copy": a
// duplicate resource is never edge-redirected generically, because its
// INDEX-bearing castings would then carry a stale (role-id, player-id)
// fingerprint (invariant 6). Instead, every relation dup plays a role in
// is recomputed under (dup -> main) substitution: if an equivalent
// relation already exists, the duplicate relation is simply deleted
// (its castings stay — they dedup independently); otherwise the relation
// is repointed onto main via fresh castings and its INDEX is updated.
// Only once every such relation has been resolved is dup itself retired.
func mergeResource(ctx context.Context, sess substrate.Session, main, dup substrate.VertexID) error {
	relIDs, err := relationsPlaying(ctx, sess, dup)
	if err != nil {
		return err
	}
	roleLabels := make(map[string]string)
	for _, relID := range relIDs {
		if err := repointRelation(ctx, sess, relID, main, dup, roleLabels); err != nil {
			return err
		}
	}
	return sess.DeleteVertex(ctx, dup)
}

// relationsPlaying returns the distinct relations that cast dup as a
// role-player, found by walking dup's inbound ROLE_PLAYER edges to its
// castings, then each casting's inbound CASTING edges to its relations.
func relationsPlaying(ctx context.Context, sess substrate.Session, dup substrate.VertexID) ([]substrate.VertexID, error) {
	castingIn, err := sess.InEdges(ctx, dup, string(kinds.LabelRolePlayer))
	if err != nil {
		return nil, err
	}
	seen := make(map[substrate.VertexID]bool)
	var out []substrate.VertexID
	for {
		e, ok, err := castingIn.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		relIn, err := sess.InEdges(ctx, e.From, string(kinds.LabelCasting))
		if err != nil {
			return nil, err
		}
		for {
			re, ok, err := relIn.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if !seen[re.From] {
				seen[re.From] = true
				out = append(out, re.From)
			}
		}
	}
	return out, nil
}

// roleEntry is one (role, player) pair of a relation's role-map, together
// with the casting that holds it and the relation->casting CASTING edge
// that attaches it.
type roleEntry struct {
	roleID  string
	player  substrate.VertexID
	casting substrate.VertexID
	edgeID  substrate.VertexID
}

func relationRoleEntries(ctx context.Context, sess substrate.Session, relID substrate.VertexID) ([]roleEntry, error) {
	out, err := sess.OutEdges(ctx, relID, string(kinds.LabelCasting))
	if err != nil {
		return nil, err
	}
	var entries []roleEntry
	for {
		e, ok, err := out.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		roleID, _ := e.Property(kinds.EdgePropRoleTypeID)
		playerIt, err := sess.OutEdges(ctx, e.To, string(kinds.LabelRolePlayer))
		if err != nil {
			return nil, err
		}
		playerEdge, ok, err := playerIt.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries = append(entries, roleEntry{roleID: roleID, player: playerEdge.To, casting: e.To, edgeID: e.ID})
	}
	return entries, nil
}

// roleLabelFor resolves a role type's numeric id back to its label, the
// same keying fingerprint.Relation's role-map uses, caching lookups
// across one mergeResource call.
func roleLabelFor(ctx context.Context, sess substrate.Session, roleID string, cache map[string]string) (string, error) {
	if label, ok := cache[roleID]; ok {
		return label, nil
	}
	it, err := sess.VerticesByProperty(ctx, kinds.PropTypeID, roleID)
	if err != nil {
		return "", err
	}
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		if bk, _ := v.Property(kinds.PropBaseKind); kinds.BaseKind(bk) == kinds.KindRoleType {
			label, _ := v.Property(kinds.PropTypeLabel)
			cache[roleID] = label
			return label, nil
		}
	}
	return "", fmt.Errorf("reconcile: unknown role type id %q", roleID)
}

func findRelationByFingerprint(ctx context.Context, sess substrate.Session, fp string, exclude substrate.VertexID) (substrate.VertexID, error) {
	it, err := sess.VerticesByProperty(ctx, kinds.PropIndex, fp)
	if err != nil {
		return "", err
	}
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		if v.ID == exclude {
			continue
		}
		if bk, _ := v.Property(kinds.PropBaseKind); kinds.BaseKind(bk) == kinds.KindRelation {
			return v.ID, nil
		}
	}
}

// findOrCreateCastingFor mirrors graphtx's casting-protocol steps 1-2
// (look up by H(role-id, player-id), create on miss) against a bare
// substrate.Session, since reconcile has no Transaction/txlog of its own.
func findOrCreateCastingFor(ctx context.Context, sess substrate.Session, roleID string, player substrate.VertexID) (substrate.VertexID, error) {
	h := fingerprint.Casting(roleID, string(player))
	it, err := sess.VerticesByProperty(ctx, kinds.PropIndex, h)
	if err != nil {
		return "", err
	}
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		if bk, _ := v.Property(kinds.PropBaseKind); kinds.BaseKind(bk) == kinds.KindCasting {
			return v.ID, nil
		}
	}

	castingID, err := sess.AddVertex(ctx, string(kinds.KindCasting))
	if err != nil {
		return "", err
	}
	if err := sess.SetProperty(ctx, castingID, kinds.PropIndex, h); err != nil {
		return "", err
	}
	edgeID, err := sess.AddEdge(ctx, castingID, player, string(kinds.LabelRolePlayer))
	if err != nil {
		return "", err
	}
	if err := sess.SetEdgeProperty(ctx, edgeID, kinds.EdgePropRoleTypeID, roleID); err != nil {
		return "", err
	}
	return castingID, nil
}

// repointRelation applies the "Resource relation copy" step to one
// relation relID that plays dup somewhere in its role-map.
func repointRelation(ctx context.Context, sess substrate.Session, relID, main, dup substrate.VertexID, roleLabels map[string]string) error {
	relVertex, err := sess.VertexByRawID(ctx, relID)
	if err != nil {
		if errors.Is(err, substrate.ErrNotFound) {
			// Already retired by an earlier duplicate processed in this
			// same call (e.g. two duplicate resources in one entry both
			// played roles in relID, and the first one's pass deleted it).
			return nil
		}
		return err
	}
	typeIDStr, _ := relVertex.Property(kinds.PropTypeID)
	typeID, err := strconv.ParseInt(typeIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("reconcile: relation %s has invalid type id %q: %w", relID, typeIDStr, err)
	}

	entries, err := relationRoleEntries(ctx, sess, relID)
	if err != nil {
		return err
	}

	roleMap := make(map[string][]string, len(entries))
	var dupEntries []roleEntry
	for _, e := range entries {
		label, err := roleLabelFor(ctx, sess, e.roleID, roleLabels)
		if err != nil {
			return err
		}
		player := e.player
		if player == dup {
			player = main
			dupEntries = append(dupEntries, e)
		}
		roleMap[label] = append(roleMap[label], string(player))
	}
	if len(dupEntries) == 0 {
		return nil
	}

	newFp := fingerprint.Relation(typeID, roleMap)
	if existing, err := findRelationByFingerprint(ctx, sess, newFp, relID); err != nil {
		return err
	} else if existing != "" {
		return sess.DeleteVertex(ctx, relID)
	}

	for _, e := range dupEntries {
		newCastingID, err := findOrCreateCastingFor(ctx, sess, e.roleID, main)
		if err != nil {
			return err
		}
		if err := sess.DeleteEdge(ctx, e.edgeID); err != nil {
			return err
		}
		if present, err := hasEdge(ctx, sess, relID, string(kinds.LabelCasting), newCastingID); err != nil {
			return err
		} else if !present {
			newEdgeID, err := sess.AddEdge(ctx, relID, newCastingID, string(kinds.LabelCasting))
			if err != nil {
				return err
			}
			if err := sess.SetEdgeProperty(ctx, newEdgeID, kinds.EdgePropRoleTypeID, e.roleID); err != nil {
				return err
			}
		}
	}

	if shortcut, ok, err := findEdge(ctx, sess, relID, string(kinds.LabelShortcut), dup); err != nil {
		return err
	} else if ok {
		if present, err := hasEdge(ctx, sess, relID, string(kinds.LabelShortcut), main); err != nil {
			return err
		} else if !present {
			newEdgeID, err := sess.AddEdge(ctx, relID, main, string(kinds.LabelShortcut))
			if err != nil {
				return err
			}
			for k, v := range shortcut.Properties {
				if err := sess.SetEdgeProperty(ctx, newEdgeID, k, v); err != nil {
					return err
				}
			}
		}
		if err := sess.DeleteEdge(ctx, shortcut.ID); err != nil {
			return err
		}
	}

	return sess.SetProperty(ctx, relID, kinds.PropIndex, newFp)
}
