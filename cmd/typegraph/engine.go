package main

import (
	"context"
	"fmt"

	"github.com/typegraph/typegraph/internal/config"
	"github.com/typegraph/typegraph/internal/graphtx"
	"github.com/typegraph/typegraph/internal/ontology"
	"github.com/typegraph/typegraph/internal/substrate"
	"github.com/typegraph/typegraph/internal/substrate/memory"
	sqlsubstrate "github.com/typegraph/typegraph/internal/substrate/sql"
)

// dialect/dsn select a persistent SQL-backed substrate instead of the
// default in-memory one (every other subcommand shares these two flags
// via rootCmd's persistent flag set).
var (
	dialect string
	dsn     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dialect, "dialect", "", "sql substrate dialect: mysql or dolt (default: in-memory)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "data source name for --dialect")
}

// loadEngine builds one Engine from the resolved config and the selected
// substrate. With no --dialect, it runs against a fresh in-memory graph
// seeded with the meta-types (nothing persists across invocations);
// --dialect mysql|dolt --dsn ...
// opens the SQL-backed substrate instead, the same pair of drivers the
// teacher's dolt storage backend registers.
func loadEngine(ctx context.Context, keyspace string) (*graphtx.Engine, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var store substrate.Store
	switch dialect {
	case "":
		store = memory.New()
	case string(sqlsubstrate.DialectMySQL), string(sqlsubstrate.DialectDolt):
		store, err = sqlsubstrate.Open(ctx, sqlsubstrate.Dialect(dialect), dsn)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown --dialect %q (want mysql or dolt)", dialect)
	}

	engine := graphtx.NewEngine(store, graphtx.EngineConfig{
		Keyspace:          keyspace,
		ShardingThreshold: int64(cfg.ShardingThreshold),
		Cache:             ontology.DefaultConfig(cfg.CacheTimeoutNormal, cfg.CacheTimeoutBatch),
		EngineURL:         cfg.EngineURL,
	})
	if dialect == "" {
		// A fresh in-memory graph starts empty; seed it so put-type and
		// add-relation run against a bootstrapped keyspace.
		if err := engine.Bootstrap(ctx); err != nil {
			return nil, nil, fmt.Errorf("bootstrap in-memory keyspace: %w", err)
		}
	}
	return engine, cfg, nil
}
