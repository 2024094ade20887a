// Package telemetry centralizes the otel tracer/meter the rest of the
// engine uses for its few blocking calls (spec §5: substrate I/O,
// validation, commit). The shape — package-level tracer/meter vars bound
// to the global provider, a counter registered in init(), a helper that
// records an error onto a span and ends it — is lifted directly from
// internal/storage/dolt/store.go's doltTracer/doltMetrics/endSpan, just
// generalized from one storage backend to the whole engine.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/typegraph/typegraph"

// Tracer is the shared tracer for substrate calls, validation, and
// commit. It is a no-op until the process installs a real TracerProvider
// through its own otel setup; that matches the teacher's comment on
// doltTracer verbatim.
var Tracer = otel.Tracer(instrumentationName)

// Metrics holds the counters/histograms the engine populates.
var Metrics struct {
	ShardRollovers metric.Int64Counter
	ReconcileMerges metric.Int64Counter
	CommitRetries  metric.Int64Counter
}

func init() {
	m := otel.Meter(instrumentationName)
	Metrics.ShardRollovers, _ = m.Int64Counter("typegraph.shard.rollovers",
		metric.WithDescription("Number of new shard vertices created by post-commit shard rollover"),
		metric.WithUnit("{shard}"),
	)
	Metrics.ReconcileMerges, _ = m.Int64Counter("typegraph.reconcile.merges",
		metric.WithDescription("Number of duplicate castings/resources merged by the post-processing reconciler"),
		metric.WithUnit("{merge}"),
	)
	Metrics.CommitRetries, _ = m.Int64Counter("typegraph.commit.retries",
		metric.WithDescription("Failed attempts of the post-commit shard rollover step"),
		metric.WithUnit("{retry}"),
	)
}

// EndSpan records err (if any) onto span and ends it — identical to
// dolt/store.go's endSpan.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
