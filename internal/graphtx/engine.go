package graphtx

import (
	"context"
	"strconv"

	"github.com/cenkalti/backoff/v4"

	"github.com/typegraph/typegraph/internal/commitlog"
	"github.com/typegraph/typegraph/internal/concept"
	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/ontology"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/telemetry"
	"github.com/typegraph/typegraph/internal/txlog"
)

// EngineConfig configures one keyspace's worth of schema/data storage.
type EngineConfig struct {
	Keyspace          string
	ShardingThreshold int64
	Cache             ontology.Config
	EngineURL         string
}

// Engine binds a substrate, an ontology cache, and a commit-log sink
// together for one keyspace. It is the long-lived object a process holds;
// Transactions are short-lived values opened against it (spec §9's
// "explicit Transaction value" redesign — there is no thread-bound ambient
// transaction here, so Engine.Open can be called concurrently from as many
// goroutines as the substrate supports).
type Engine struct {
	store          substrate.Store
	cache          *ontology.Cache
	sink           commitlog.Sink
	keyspace       string
	shardThreshold int64
}

func NewEngine(store substrate.Store, cfg EngineConfig) *Engine {
	threshold := cfg.ShardingThreshold
	if threshold <= 0 {
		threshold = 100000
	}
	return &Engine{
		store:          store,
		cache:          ontology.New(cfg.Cache),
		sink:           commitlog.NewSink(cfg.EngineURL),
		keyspace:       cfg.Keyspace,
		shardThreshold: threshold,
	}
}

// Sink exposes the engine's commit-log sink, mainly so callers wired to a
// MemorySink can Drain it in-process (tests, an in-process C8 dispatcher).
func (e *Engine) Sink() commitlog.Sink { return e.sink }

// Store exposes the underlying substrate so a post-commit reconciler can
// open its own sessions against the same keyspace the engine writes to.
func (e *Engine) Store() substrate.Store { return e.store }

// Bootstrap seeds the seven meta-types plus their implicit "concept" root
// (scenario S1) into a fresh keyspace. It is idempotent: if "concept"
// already exists, Bootstrap returns nil without touching anything.
func (e *Engine) Bootstrap(ctx context.Context) error {
	return substrate.WithSession(ctx, e.store, substrate.Write, func(sess substrate.Session) error {
		existing, err := resolveTypeFromSubstrate(ctx, sess, kinds.MetaConcept)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		conceptID, err := sess.AddVertex(ctx, string(kinds.KindEntityType))
		if err != nil {
			return err
		}
		if err := setTypeProperties(ctx, sess, conceptID, kinds.MetaConcept, 0, true, true); err != nil {
			return err
		}
		if err := sess.SetProperty(ctx, conceptID, kinds.MetaTypeCounterKey, "1"); err != nil {
			return err
		}

		type childMeta struct {
			label  string
			kind   kinds.BaseKind
			parent substrate.VertexID
		}
		roots := []childMeta{
			{kinds.MetaEntityType, kinds.KindEntityType, conceptID},
			{kinds.MetaRelationType, kinds.KindRelationType, conceptID},
			{kinds.MetaResourceType, kinds.KindResourceType, conceptID},
			{kinds.MetaRoleType, kinds.KindRoleType, conceptID},
			{kinds.MetaRuleType, kinds.KindRuleType, conceptID},
		}
		ids := map[string]substrate.VertexID{kinds.MetaConcept: conceptID}
		nextID := int64(1)
		for _, r := range roots {
			vid, err := sess.AddVertex(ctx, string(r.kind))
			if err != nil {
				return err
			}
			if err := setTypeProperties(ctx, sess, vid, r.label, nextID, true, true); err != nil {
				return err
			}
			if _, err := sess.AddEdge(ctx, vid, r.parent, string(kinds.LabelSub)); err != nil {
				return err
			}
			ids[r.label] = vid
			nextID++
		}

		for _, label := range []string{kinds.MetaInferenceRule, kinds.MetaConstraintRule} {
			vid, err := sess.AddVertex(ctx, string(kinds.KindRuleType))
			if err != nil {
				return err
			}
			if err := setTypeProperties(ctx, sess, vid, label, nextID, true, true); err != nil {
				return err
			}
			if _, err := sess.AddEdge(ctx, vid, ids[kinds.MetaRuleType], string(kinds.LabelSub)); err != nil {
				return err
			}
			nextID++
		}

		return sess.SetProperty(ctx, conceptID, kinds.MetaTypeCounterKey, strconv.FormatInt(nextID, 10))
	})
}

func setTypeProperties(ctx context.Context, sess substrate.Session, id substrate.VertexID, label string, typeID int64, abstract, implicit bool) error {
	for k, v := range map[string]string{
		kinds.PropTypeLabel:     label,
		kinds.PropTypeID:        strconv.FormatInt(typeID, 10),
		kinds.PropIsAbstract:    strconv.FormatBool(abstract),
		kinds.PropIsImplicit:    strconv.FormatBool(implicit),
		kinds.PropInstanceCount: "0",
	} {
		if err := sess.SetProperty(ctx, id, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Open starts a new Transaction bound to this engine (spec §4.5 "open").
func (e *Engine) Open(ctx context.Context, kind substrate.TxKind, mode ontology.Mode) (*Transaction, error) {
	_, span := telemetry.Tracer.Start(ctx, "graphtx.Open")
	defer span.End()

	sess, err := e.store.Begin(ctx, kind)
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "begin session", err)
	}
	return &Transaction{
		engine: e,
		sess:   sess,
		kind:   kind,
		log:    txlog.New(e.cache, mode),
	}, nil
}

// updateTypeShards applies pending instance-count deltas against their
// type vertices in a fresh, short write transaction, run post-commit
// (spec §4.5 "Shard creation" — this runs outside the transaction whose
// AddRelation/AddEntity/AddResource calls produced the deltas, the same
// way the teacher's dolt transaction layer defers its blocked_issues_cache
// rebuild to the daemon's debounced event loop instead of doing it inline).
// It is wrapped in a bounded retry because, unlike the in-memory
// substrate's single session-wide lock, a SQL-backed substrate can see a
// genuine compare-and-swap conflict on the counter here.
func (e *Engine) updateTypeShards(ctx context.Context, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	op := func() error {
		return substrate.WithSession(ctx, e.store, substrate.Write, func(sess substrate.Session) error {
			for label, delta := range deltas {
				if delta == 0 {
					continue
				}
				typ, err := resolveTypeFromSubstrate(ctx, sess, label)
				if err != nil {
					return err
				}
				if typ == nil {
					continue
				}
				newCount := typ.InstanceCount + delta
				// A single delta can cross the threshold more than once
				// (a batch transaction's AddEntity calls all land in one
				// deltas entry), so every crossing must mint its own
				// shard rather than just the first.
				for newCount >= e.shardThreshold {
					shardID, err := sess.AddVertex(ctx, string(kinds.KindShard))
					if err != nil {
						return err
					}
					if err := sess.SetProperty(ctx, shardID, kinds.PropTypeLabel, label); err != nil {
						return err
					}
					if _, err := sess.AddEdge(ctx, shardID, typ.VID, string(kinds.LabelShard)); err != nil {
						return err
					}
					if err := sess.SetProperty(ctx, typ.VID, kinds.PropCurrentShard, string(shardID)); err != nil {
						return err
					}
					newCount -= e.shardThreshold
					telemetry.Metrics.ShardRollovers.Add(ctx, 1)
				}
				if err := sess.SetProperty(ctx, typ.VID, kinds.PropInstanceCount, strconv.FormatInt(newCount, 10)); err != nil {
					return err
				}
				// Commit already published this label's pre-rollover snapshot
				// into the ontology cache (it runs before updateTypeShards so
				// a substrate failure here never undoes a successful commit);
				// that snapshot's InstanceCount/CurrentShardID are now stale,
				// so evict it rather than let a reader see the old count.
				e.cache.Remove(label)
			}
			return nil
		})
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	return backoff.Retry(func() error {
		err := op()
		if err != nil {
			telemetry.Metrics.CommitRetries.Add(ctx, 1)
		}
		return err
	}, bo)
}

// resolveTypeFromSubstrate looks a type up by label directly against the
// substrate (bypassing the ontology cache), used on cache miss and by the
// engine-level shard rollover step which has no txlog of its own.
func resolveTypeFromSubstrate(ctx context.Context, sess substrate.Session, label string) (*concept.Type, error) {
	it, err := sess.VerticesByProperty(ctx, kinds.PropTypeLabel, label)
	if err != nil {
		return nil, newErr(KindSubstrateFailure, "resolve type "+label, err)
	}
	var found *concept.Type
	count := 0
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "traverse type index for "+label, err)
		}
		if !ok {
			break
		}
		bk, _ := v.Property(kinds.PropBaseKind)
		if !kinds.BaseKind(bk).IsType() {
			continue
		}
		c, err := concept.FromVertex(v)
		if err != nil {
			return nil, newErr(KindSubstrateFailure, "decode type vertex", err)
		}
		t, ok := c.(*concept.Type)
		if !ok {
			continue
		}
		found = t
		count++
	}
	if count > 1 {
		return nil, newErr(KindDuplicateConcept, "label "+label+" resolves to multiple type vertices", nil)
	}
	return found, nil
}
