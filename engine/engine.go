// Package engine assembles the storage engine, the three indexes, the
// transaction manager, and the COW commit layer into the core API:
// add/get/update/delete/relate/unrelate/find/
// similar/batch* plus lifecycle (init/ready/flush/close) and branch
// operations (fork/checkout/commit/asOf).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synapsedb.dev/synapsedb/backpressure"
	"synapsedb.dev/synapsedb/cache"
	"synapsedb.dev/synapsedb/common"
	"synapsedb.dev/synapsedb/cow"
	"synapsedb.dev/synapsedb/graphidx"
	"synapsedb.dev/synapsedb/hnsw"
	"synapsedb.dev/synapsedb/metaindex"
	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/query"
	"synapsedb.dev/synapsedb/storage"
	"synapsedb.dev/synapsedb/types"
)

// Embedder is the external embedding collaborator: embed(text) ->
// vector<float32, D>. The core must remain usable without one (callers
// may always supply vectors directly); Database only calls it when an Add
// or Update carries Text but no Vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Database is one branch-bound instance of the embedded neural database.
// A fork produces a sibling Database sharing the blob store and the
// backend.
type Database struct {
	cfg *Config
	log *logrus.Entry

	backend objstore.ObjectBackend
	cacheMgr *cache.Manager
	limiter  *backpressure.Limiter

	storageEng  *storage.Engine
	hnswIdx     *hnsw.Index
	metaIdx     *metaindex.Index
	graphIdx    *graphidx.Index
	cowMgr      *cow.Manager
	commitLog   *cow.PostgresCommitLog
	coordinator *query.Coordinator
	neo4j       *graphidx.Neo4jMirror

	embedder Embedder

	dimMu sync.Mutex
	dim   int

	// writeMu serializes transactions that touch the shared indexes:
	// mutations through the transaction manager serialize against each
	// other per branch, while reads may proceed freely via
	// the RWMutexes already held inside each index.
	writeMu sync.Mutex

	rebuildGate rebuildGate

	// idType is the engine's side id->type index (storage/engine.go
	// documents this as the engine's responsibility): resolving a bare id
	// to the noun type needed to build its sharded storage path without
	// a brute-force scan across every type.
	idTypeMu sync.RWMutex
	idType   map[string]types.NounType

	closeOnce sync.Once
	closed    bool
}

// Open builds a Database from cfg, wiring every subsystem. A nil
// embedder is valid: Add/Update then require an explicit vector (the
// embedder is an external collaborator, not a hard dependency).
func Open(ctx context.Context, cfg *Config, embedder Embedder) (*Database, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	log := common.NewLogger(common.LoggerConfig{
		Level:   pickLevel(cfg),
		Format:  "text",
		Service: "synapsedb",
	})
	entry := logrus.NewEntry(log)

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.StorageBackend == BackendS3 {
		entry.WithFields(logrus.Fields{
			"bucket":     cfg.S3.Bucket,
			"access_key": common.MaskSecret(cfg.S3.AccessKeyID),
		}).Debug("s3 backend configured")
	}

	cacheMgr, err := buildCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	limiter := backpressure.NewLimiter(backpressure.Config{
		MaxPermits:     cfg.MaxConcurrentOperations,
		MinPermits:     4,
		DecayFactor:    0.5,
		RecoveryStreak: 20,
		PermitTTL:      30 * time.Second,
	})

	// The configured branch may itself have been forked in an earlier
	// process; follow its parent markers so copy-on-write reads still
	// resolve through the lineage.
	storageEng, err := buildStorageChain(ctx, backend, cacheMgr, limiter, entry, cfg.Branch)
	if err != nil {
		return nil, err
	}

	params := hnsw.Params{
		M:              cfg.IndexM,
		EfConstruction: cfg.IndexEfConstruction,
		EfSearch:       cfg.IndexEfSearch,
		Dist:           hnsw.CosineDistance,
	}
	mode := persistMode(cfg, backend)
	hnswIdx := hnsw.NewTypedIndex(params, storageEng, mode)

	metaIdx := metaindex.NewIndex()
	graphIdx := graphidx.NewIndex()

	cowMgr, err := cow.NewManager(cow.Config{Backend: backend, InitialBranch: cfg.Branch})
	if err != nil {
		return nil, err
	}

	var mirror *graphidx.Neo4jMirror
	if cfg.Neo4j != nil {
		mirror, err = graphidx.NewNeo4jMirror(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			return nil, fmt.Errorf("engine: connecting neo4j mirror: %w", err)
		}
	}

	var commitLog *cow.PostgresCommitLog
	if cfg.PostgresDSN != "" {
		commitLog, err = cow.NewPostgresCommitLog(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("engine: connecting postgres commit log: %w", err)
		}
	}

	db := &Database{
		cfg:      cfg,
		log:      entry,
		backend:  backend,
		cacheMgr: cacheMgr,
		limiter:  limiter,
		storageEng: storageEng,
		hnswIdx:    hnswIdx,
		metaIdx:    metaIdx,
		graphIdx:   graphIdx,
		cowMgr:     cowMgr,
		commitLog:  commitLog,
		neo4j:      mirror,
		embedder:   embedder,
		idType:     make(map[string]types.NounType),
	}
	db.coordinator = &query.Coordinator{Storage: storageEng, HNSW: hnswIdx, Meta: metaIdx, Graph: graphIdx}

	registerShutdownTarget(db)

	if cfg.EagerEmbeddings && embedder != nil {
		if _, err := embedder.Embed(ctx, ""); err != nil {
			entry.WithError(err).Warn("eager embedder warm-up failed")
		}
	}

	if !cfg.DisableAutoRebuild {
		if err := db.ensureRebuilt(ctx); err != nil {
			return nil, fmt.Errorf("engine: initial rebuild: %w", err)
		}
	}

	return db, nil
}

func pickLevel(cfg *Config) common.LogLevel {
	switch {
	case cfg.Silent:
		return common.LogLevelError
	case cfg.Verbose:
		return common.LogLevelDebug
	default:
		return common.LogLevelInfo
	}
}

func buildBackend(ctx context.Context, cfg *Config) (objstore.ObjectBackend, error) {
	switch cfg.StorageBackend {
	case BackendMemory, "":
		return objstore.NewMemoryBackend(), nil
	case BackendLocalFS:
		return objstore.NewLocalFSBackend(cfg.LocalFSPath)
	case BackendBolt:
		return objstore.NewBoltBackend(cfg.BoltPath)
	case BackendS3:
		return objstore.NewS3Backend(ctx, objstore.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", types.ErrValidation, cfg.StorageBackend)
	}
}

func buildCache(ctx context.Context, cfg *Config) (*cache.Manager, error) {
	if cfg.RedisCache == nil {
		return cache.NewInProcessManager(cache.DefaultHotTierConfig(), cache.DefaultWarmTierConfig()), nil
	}
	warm, err := cache.NewRedisWarmTier(ctx, cache.RedisWarmTierConfig{
		URL:    cfg.RedisCache.URL,
		TTL:    cfg.RedisCache.TTL,
		Prefix: cfg.RedisCache.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: connecting redis warm tier: %w", err)
	}
	return cache.NewManager(cache.NewHotTier(cache.DefaultHotTierConfig()), warm), nil
}

func persistMode(cfg *Config, backend objstore.ObjectBackend) hnsw.PersistMode {
	switch cfg.Persistence {
	case PersistenceImmediate:
		return hnsw.Immediate
	case PersistenceDeferred:
		return hnsw.Deferred
	default:
		if backend.Kind() == objstore.KindCloud {
			return hnsw.Deferred
		}
		return hnsw.Immediate
	}
}

// Ready reports whether the engine's indexes are populated and usable —
// false until the first rebuild has completed (at Open, or on the first
// query or write when auto rebuild is disabled).
func (db *Database) Ready() bool {
	return db.hnswIdx.Rebuilt()
}

// Dim returns the embedding dimensionality fixed by the first insert, or
// 0 if no noun has been added yet.
func (db *Database) Dim() int {
	db.dimMu.Lock()
	defer db.dimMu.Unlock()
	return db.dim
}

// Branch returns the branch this Database instance is bound to.
func (db *Database) Branch() string { return db.storageEng.Branch() }

// Flush persists pending write-buffer entries, dirty HNSW nodes, and
// counts. Invoked on explicit flush, close, and shutdown signals.
func (db *Database) Flush(ctx context.Context) error {
	if err := db.hnswIdx.Flush(ctx); err != nil {
		return err
	}
	return db.storageEng.Flush(ctx)
}

// Close flushes and releases the external connections this instance
// opened (Neo4j, Postgres, and a backend with a Close method such as
// bbolt). A Redis warm-tier client is not closed here.
func (db *Database) Close(ctx context.Context) error {
	var closeErr error
	db.closeOnce.Do(func() {
		unregisterShutdownTarget(db)
		closeErr = db.storageEng.Close(ctx)
		if err := db.hnswIdx.Flush(ctx); err != nil && closeErr == nil {
			closeErr = err
		}
		if db.neo4j != nil {
			_ = db.neo4j.Close(ctx)
		}
		if db.commitLog != nil {
			_ = db.commitLog.Close()
		}
		if closer, ok := db.backend.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		db.closed = true
	})
	return closeErr
}

// checkDim validates vec against the branch-wide dimensionality,
// latching it on the first successful insert. Once latched, every later
// vector must match.
func (db *Database) checkDim(vec []float32) error {
	db.dimMu.Lock()
	defer db.dimMu.Unlock()
	if db.dim == 0 {
		db.dim = len(vec)
		return nil
	}
	if len(vec) != db.dim {
		return fmt.Errorf("%w: expected %d dimensions, got %d", types.ErrDimensionMismatch, db.dim, len(vec))
	}
	return nil
}

func newID() string { return uuid.NewString() }

func (db *Database) rememberType(id string, t types.NounType) {
	db.idTypeMu.Lock()
	db.idType[id] = t
	db.idTypeMu.Unlock()
}

func (db *Database) forgetType(id string) {
	db.idTypeMu.Lock()
	delete(db.idType, id)
	db.idTypeMu.Unlock()
}

func (db *Database) typeOf(id string) (types.NounType, bool) {
	db.idTypeMu.RLock()
	t, ok := db.idType[id]
	db.idTypeMu.RUnlock()
	return t, ok
}

// resolveNoun loads a noun by id when its type is already known via the
// side index, falling back to a brute-force scan across every declared
// noun type the way the query coordinator's loadByIDs does — used only
// for ids the engine has never seen typed (e.g. after a cold restart
// that skipped rebuild).
func (db *Database) resolveNoun(ctx context.Context, id string) (*types.Noun, error) {
	if t, ok := db.typeOf(id); ok {
		n, err := db.storageEng.GetNoun(ctx, t, id)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return n, nil
	}
	for i := 0; i < types.NounTypeCount(); i++ {
		n, err := db.storageEng.GetNoun(ctx, types.NounType(i), id)
		if err == nil {
			db.rememberType(id, types.NounType(i))
			return n, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, types.ErrNotFound)
}
