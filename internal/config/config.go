// Package config loads the four mandatory keys from spec.md §6. YAML and
// environment variables go through viper (the library the teacher wires
// into cmd/bd/config.go and internal/labelmutex/policy.go); a .toml config
// file is decoded directly with github.com/BurntSushi/toml, the teacher's
// own toml dependency, which viper's pelletier-based toml codec would
// otherwise leave unused.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Keys, named exactly as spec.md §6 states them.
const (
	KeyShardingThreshold    = "sharding.threshold"
	KeyCacheTimeoutNormalMs = "ontology.cache.timeout.ms.normal"
	KeyCacheTimeoutBatchMs  = "ontology.cache.timeout.ms.batch"
	KeyEngineURL            = "engine.url"
)

// EngineInMemory is the sentinel engine.url value selecting the in-memory
// substrate and commit-log sink.
const EngineInMemory = "IN_MEMORY"

// Config is the resolved, typed view of the four keys.
type Config struct {
	ShardingThreshold  int
	CacheTimeoutNormal time.Duration
	CacheTimeoutBatch  time.Duration
	EngineURL          string
}

// tomlDoc mirrors the four mandatory keys for direct TOML decoding,
// e.g.:
//
//	[sharding]
//	threshold = 500
//	[ontology.cache.timeout.ms]
//	normal = 60000
//	batch = 600000
//	[engine]
//	url = "IN_MEMORY"
type tomlDoc struct {
	Sharding struct {
		Threshold int `toml:"threshold"`
	} `toml:"sharding"`
	Ontology struct {
		Cache struct {
			Timeout struct {
				Ms struct {
					Normal int64 `toml:"normal"`
					Batch  int64 `toml:"batch"`
				} `toml:"ms"`
			} `toml:"timeout"`
		} `toml:"cache"`
	} `toml:"ontology"`
	Engine struct {
		URL string `toml:"url"`
	} `toml:"engine"`
}

// Load reads configuration from an optional config file at path,
// overridden by TYPEGRAPH_-prefixed environment variables; there are no
// built-in defaults. A path ending in ".toml" is decoded directly, and
// environment variables are not consulted for it; anything else is handed
// to viper (which natively supports yaml, json, and its own toml codec,
// but here only ever sees yaml in practice). All four keys are mandatory
// (spec §6); Load fails listing whichever are still unset.
func Load(path string) (*Config, error) {
	if strings.HasSuffix(path, ".toml") {
		return loadTOML(path)
	}
	return loadViper(path)
}

func loadTOML(path string) (*Config, error) {
	var doc tomlDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("config: decode toml %s: %w", path, err)
	}
	cfg := &Config{
		ShardingThreshold:  doc.Sharding.Threshold,
		CacheTimeoutNormal: time.Duration(doc.Ontology.Cache.Timeout.Ms.Normal) * time.Millisecond,
		CacheTimeoutBatch:  time.Duration(doc.Ontology.Cache.Timeout.Ms.Batch) * time.Millisecond,
		EngineURL:          doc.Engine.URL,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadViper(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TYPEGRAPH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var missing []string
	requireSet(v, KeyShardingThreshold, &missing)
	requireSet(v, KeyCacheTimeoutNormalMs, &missing)
	requireSet(v, KeyCacheTimeoutBatchMs, &missing)
	requireSet(v, KeyEngineURL, &missing)
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing mandatory keys: %v", missing)
	}

	return &Config{
		ShardingThreshold:  v.GetInt(KeyShardingThreshold),
		CacheTimeoutNormal: time.Duration(v.GetInt64(KeyCacheTimeoutNormalMs)) * time.Millisecond,
		CacheTimeoutBatch:  time.Duration(v.GetInt64(KeyCacheTimeoutBatchMs)) * time.Millisecond,
		EngineURL:          v.GetString(KeyEngineURL),
	}, nil
}

func requireSet(v *viper.Viper, key string, missing *[]string) {
	if !v.IsSet(key) {
		*missing = append(*missing, key)
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.ShardingThreshold == 0 {
		missing = append(missing, KeyShardingThreshold)
	}
	if c.CacheTimeoutNormal == 0 {
		missing = append(missing, KeyCacheTimeoutNormalMs)
	}
	if c.CacheTimeoutBatch == 0 {
		missing = append(missing, KeyCacheTimeoutBatchMs)
	}
	if c.EngineURL == "" {
		missing = append(missing, KeyEngineURL)
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing mandatory keys: %v", missing)
	}
	return nil
}
