package engine

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"synapsedb.dev/synapsedb/config"
)

// StorageBackendKind names one of the pluggable objstore backends a
// Database can be configured against.
type StorageBackendKind string

const (
	BackendMemory  StorageBackendKind = "memory"
	BackendLocalFS StorageBackendKind = "localfs"
	BackendBolt    StorageBackendKind = "bolt"
	BackendS3      StorageBackendKind = "s3"
)

// PersistenceMode mirrors hnsw.PersistMode at the config layer; the empty
// value means "derive from the backend's Kind".
type PersistenceMode string

const (
	PersistenceAuto      PersistenceMode = ""
	PersistenceImmediate PersistenceMode = "immediate"
	PersistenceDeferred  PersistenceMode = "deferred"
)

// S3StorageConfig configures objstore.S3Backend when StorageBackend is
// BackendS3.
type S3StorageConfig struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// RedisCacheConfig, when set, swaps the cache manager's warm tier for
// cache.RedisWarmTier instead of the in-process one.
type RedisCacheConfig struct {
	URL    string
	TTL    time.Duration
	Prefix string
}

// Neo4jConfig, when set, mirrors every graph adjacency edge to a Neo4j
// instance via graphidx.Neo4jMirror.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
}

// Config is the engine's recognized, validated configuration.
// Invalid values fail LoadConfig rather than being silently clamped.
type Config struct {
	Branch string

	StorageBackend StorageBackendKind
	LocalFSPath    string
	BoltPath       string
	S3             S3StorageConfig

	RedisCache  *RedisCacheConfig
	Neo4j       *Neo4jConfig
	PostgresDSN string

	IndexM              int
	IndexEfConstruction int
	IndexEfSearch       int

	Persistence PersistenceMode

	EagerEmbeddings bool

	MaxQueryLimit       int
	ReservedQueryMemory int64

	Silent  bool
	Verbose bool

	DisableAutoRebuild bool

	BatchWrites             bool
	MaxConcurrentOperations int

	Author string
}

// DefaultConfig returns the engine's recognized defaults before any
// file/env layering is applied.
func DefaultConfig() *Config {
	return &Config{
		Branch:                  "main",
		StorageBackend:          BackendMemory,
		IndexM:                  16,
		IndexEfConstruction:     200,
		IndexEfSearch:           64,
		Persistence:             PersistenceAuto,
		MaxQueryLimit:           1000,
		MaxConcurrentOperations: 256,
		Author:                  "synapsedb",
	}
}

// NewViper builds a viper instance scoped to one engine (rather than
// the package-global instance the CLI binds flags to), configured
// for layered file/env config the same way: an optional YAML config file,
// environment variables with a prefix, and defaults seeded from
// DefaultConfig so a caller that sets nothing still gets a valid engine.
func NewViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(".synapsedb")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if envPrefix == "" {
		envPrefix = "SYNAPSEDB"
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyDefaults(v)
	_ = v.ReadInConfig() // absent config file is not an error
	return v
}

func applyDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("storage.branch", d.Branch)
	v.SetDefault("storage.backend", string(d.StorageBackend))
	v.SetDefault("index.m", d.IndexM)
	v.SetDefault("index.ef_construction", d.IndexEfConstruction)
	v.SetDefault("index.ef_search", d.IndexEfSearch)
	v.SetDefault("persistence", string(d.Persistence))
	v.SetDefault("eager_embeddings", d.EagerEmbeddings)
	v.SetDefault("max_query_limit", d.MaxQueryLimit)
	v.SetDefault("reserved_query_memory", d.ReservedQueryMemory)
	v.SetDefault("silent", d.Silent)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("disable_auto_rebuild", d.DisableAutoRebuild)
	v.SetDefault("batch_writes", d.BatchWrites)
	v.SetDefault("max_concurrent_operations", d.MaxConcurrentOperations)
	v.SetDefault("author", d.Author)
}

// LoadConfig reads v (a nil v uses NewViper("")'s defaults) into a Config
// and validates it against the recognized bounds.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper("")
	}
	cfg := &Config{
		Branch:         v.GetString("storage.branch"),
		StorageBackend: StorageBackendKind(v.GetString("storage.backend")),
		LocalFSPath:    v.GetString("storage.localfs.path"),
		BoltPath:       v.GetString("storage.bolt.path"),
		S3: S3StorageConfig{
			Region:          v.GetString("storage.s3.region"),
			Bucket:          v.GetString("storage.s3.bucket"),
			Endpoint:        v.GetString("storage.s3.endpoint"),
			AccessKeyID:     v.GetString("storage.s3.access_key_id"),
			SecretAccessKey: v.GetString("storage.s3.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.s3.use_path_style"),
		},
		IndexM:                  v.GetInt("index.m"),
		IndexEfConstruction:     v.GetInt("index.ef_construction"),
		IndexEfSearch:           v.GetInt("index.ef_search"),
		Persistence:             PersistenceMode(v.GetString("persistence")),
		EagerEmbeddings:         v.GetBool("eager_embeddings"),
		MaxQueryLimit:           v.GetInt("max_query_limit"),
		ReservedQueryMemory:     v.GetInt64("reserved_query_memory"),
		Silent:                  v.GetBool("silent"),
		Verbose:                 v.GetBool("verbose"),
		DisableAutoRebuild:      v.GetBool("disable_auto_rebuild"),
		BatchWrites:             v.GetBool("batch_writes"),
		MaxConcurrentOperations: v.GetInt("max_concurrent_operations"),
		Author:                  v.GetString("author"),
	}
	if v.IsSet("cache.redis.url") {
		cfg.RedisCache = &RedisCacheConfig{
			URL:    v.GetString("cache.redis.url"),
			TTL:    v.GetDuration("cache.redis.ttl"),
			Prefix: v.GetString("cache.redis.prefix"),
		}
	}
	if v.IsSet("graph.neo4j.uri") {
		cfg.Neo4j = &Neo4jConfig{
			URI:      v.GetString("graph.neo4j.uri"),
			Username: v.GetString("graph.neo4j.username"),
			Password: v.GetString("graph.neo4j.password"),
		}
	}
	cfg.PostgresDSN = v.GetString("commitlog.postgres.dsn")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	val := config.NewValidator()
	val.RequireOneOf("storage.backend", string(c.StorageBackend),
		[]string{string(BackendMemory), string(BackendLocalFS), string(BackendBolt), string(BackendS3)})
	val.RequireInt("index.m", c.IndexM, 1, 128)
	val.RequireInt("index.ef_construction", c.IndexEfConstruction, 1, 1000)
	val.RequireInt("index.ef_search", c.IndexEfSearch, 1, 1000)
	if c.Persistence != PersistenceAuto && c.Persistence != PersistenceImmediate && c.Persistence != PersistenceDeferred {
		val.RequireOneOf("persistence", string(c.Persistence),
			[]string{string(PersistenceImmediate), string(PersistenceDeferred)})
	}
	val.RequirePositiveInt("max_query_limit", c.MaxQueryLimit)
	val.RequirePositiveInt("max_concurrent_operations", c.MaxConcurrentOperations)
	switch c.StorageBackend {
	case BackendLocalFS:
		val.RequireString("storage.localfs.path", c.LocalFSPath)
	case BackendBolt:
		val.RequireString("storage.bolt.path", c.BoltPath)
	case BackendS3:
		val.RequireString("storage.s3.bucket", c.S3.Bucket)
	}
	return val.Validate()
}

// EnvAuthor resolves a commit author purely from the environment via
// the lighter EnvConfig helper, for the one purely-env-driven
// setting a demo bootstrap needs rather than full viper layering.
func EnvAuthor(prefix string) string {
	return config.NewEnvConfig(prefix).GetString("AUTHOR", "synapsedb")
}
