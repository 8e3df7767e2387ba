package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"synapsedb.dev/synapsedb/backpressure"
	"synapsedb.dev/synapsedb/blob"
	"synapsedb.dev/synapsedb/cache"
	"synapsedb.dev/synapsedb/cow"
	"synapsedb.dev/synapsedb/graphidx"
	"synapsedb.dev/synapsedb/hnsw"
	"synapsedb.dev/synapsedb/metaindex"
	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/query"
	"synapsedb.dev/synapsedb/storage"
	"synapsedb.dev/synapsedb/types"
)

// Fork creates a sibling Database bound to newBranch. No records are
// copied: the ref copy and the parent marker are the only per-fork
// storage writes (plus an initial commit if the branch had none), the sibling's
// storage engine reads through to this branch's records until a write
// diverges them (storage.Engine's parent chain), the HNSW index is
// shared via its own copy-on-write overlay (hnsw.Index.EnableCOW), and
// the metadata and graph indexes rebuild lazily from the shared records
// on the sibling's first query.
func (db *Database) Fork(ctx context.Context, newBranch string) (*Database, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.cowMgr.Fork(ctx, newBranch, db.cfg.Author); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrForkFailed, err)
	}
	if err := storage.WriteParentMarker(ctx, db.backend, newBranch, db.Branch()); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrForkFailed, err)
	}

	siblingStorage := storage.New(storage.Config{
		Backend: db.backend,
		Cache:   db.cacheMgr,
		Limiter: db.limiter,
		Branch:  newBranch,
		Parent:  db.storageEng,
		Log:     db.log,
	})
	siblingStorage.SeedCountsFrom(db.storageEng.Counts())

	mode := persistMode(db.cfg, db.backend)
	siblingHNSW := hnsw.NewTypedIndex(hnsw.Params{
		M:              db.cfg.IndexM,
		EfConstruction: db.cfg.IndexEfConstruction,
		EfSearch:       db.cfg.IndexEfSearch,
		Dist:           hnsw.CosineDistance,
	}, siblingStorage, mode)
	siblingHNSW.EnableCOW(db.hnswIdx)
	siblingHNSW.MarkRebuilt()

	siblingCow, err := cow.NewManager(cow.Config{Backend: db.backend, InitialBranch: newBranch})
	if err != nil {
		return nil, err
	}

	siblingCfg := *db.cfg
	siblingCfg.Branch = newBranch

	sibling := &Database{
		cfg:        &siblingCfg,
		log:        db.log,
		backend:    db.backend,
		cacheMgr:   db.cacheMgr,
		limiter:    db.limiter,
		storageEng: siblingStorage,
		hnswIdx:    siblingHNSW,
		metaIdx:    metaindex.NewIndex(),
		graphIdx:   graphidx.NewIndex(),
		cowMgr:     siblingCow,
		neo4j:      db.neo4j,
		embedder:   db.embedder,
		dim:        db.Dim(),
		idType:     make(map[string]types.NounType),
	}
	sibling.coordinator = &query.Coordinator{
		Storage: siblingStorage,
		HNSW:    siblingHNSW,
		Meta:    sibling.metaIdx,
		Graph:   sibling.graphIdx,
	}
	registerShutdownTarget(sibling)

	return sibling, nil
}

// buildStorageChain resolves branch's fork lineage from the persisted
// parent markers and assembles the storage engines root-first, so the
// returned engine's copy-on-write read fallback spans the whole chain.
func buildStorageChain(ctx context.Context, backend objstore.ObjectBackend, cacheMgr *cache.Manager, limiter *backpressure.Limiter, log *logrus.Entry, branch string) (*storage.Engine, error) {
	if branch == "" {
		branch = "main"
	}
	var lineage []string
	for b := branch; b != ""; {
		lineage = append(lineage, b)
		if len(lineage) > 32 {
			return nil, fmt.Errorf("%w: fork lineage of %s exceeds depth limit", types.ErrFatal, branch)
		}
		parent, err := storage.ReadParentMarker(ctx, backend, b)
		if err != nil {
			return nil, err
		}
		b = parent
	}

	var eng *storage.Engine
	for i := len(lineage) - 1; i >= 0; i-- {
		eng = storage.New(storage.Config{
			Backend: backend,
			Cache:   cacheMgr,
			Limiter: limiter,
			Branch:  lineage[i],
			Parent:  eng,
			Log:     log,
		})
	}
	return eng, nil
}

// Checkout switches this Database instance to branch in place, dropping
// and rebuilding every in-memory index against the new branch's data.
// Unlike Fork, no new instance is returned:
// callers that hold a *Database reference continue to use it, now
// pointed at the target branch.
func (db *Database) Checkout(ctx context.Context, branch string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.cowMgr.Checkout(ctx, branch); err != nil {
		return err
	}

	eng, err := buildStorageChain(ctx, db.backend, db.cacheMgr, db.limiter, db.log, branch)
	if err != nil {
		return err
	}
	db.storageEng = eng
	mode := persistMode(db.cfg, db.backend)
	db.hnswIdx = hnsw.NewTypedIndex(hnsw.Params{
		M:              db.cfg.IndexM,
		EfConstruction: db.cfg.IndexEfConstruction,
		EfSearch:       db.cfg.IndexEfSearch,
		Dist:           hnsw.CosineDistance,
	}, db.storageEng, mode)
	db.metaIdx = metaindex.NewIndex()
	db.graphIdx = graphidx.NewIndex()
	db.idTypeMu.Lock()
	db.idType = make(map[string]types.NounType)
	db.idTypeMu.Unlock()
	db.coordinator = &query.Coordinator{
		Storage: db.storageEng,
		HNSW:    db.hnswIdx,
		Meta:    db.metaIdx,
		Graph:   db.graphIdx,
	}
	db.rebuildGate = rebuildGate{}
	db.cfg.Branch = branch

	return db.ensureRebuilt(ctx)
}

// Commit records a new commit on the current branch. With CaptureState it serializes every live noun/verb
// through Database's own cow.StateSource implementation.
func (db *Database) Commit(ctx context.Context, message string, captureState bool, meta map[string]string) (blob.Hash, error) {
	opts := cow.CommitOptions{
		Message:      message,
		Author:       db.cfg.Author,
		CaptureState: captureState,
		Meta:         meta,
	}
	var src cow.StateSource
	if captureState {
		src = db
	}
	h, err := db.cowMgr.Commit(ctx, src, opts)
	if err != nil {
		return blob.Hash{}, err
	}
	if db.commitLog != nil {
		// The Postgres mirror is best-effort: a failed write never fails the commit.
		if c, err := cow.ReadCommit(ctx, db.cowMgr.Store(), h); err == nil {
			if err := db.commitLog.RecordCommit(ctx, db.Branch(), h, c); err != nil {
				db.log.WithError(err).Warn("postgres commit log mirror failed")
			}
		}
	}
	return h, nil
}

// Snapshot is the read-only view AsOf hands back: a point-in-time tree
// of serialized entities/relations, immune to later mutation on any
// live branch. Reads
// materialize lazily from the blob store through a bounded cache.
type Snapshot struct {
	commit *cow.Commit
	tree   *cow.Tree
	store  *blob.Store

	cacheMu sync.Mutex
	cache   map[string][]byte
}

// snapshotCacheLimit bounds how many materialized blobs a Snapshot keeps
// resident; past it, the cache is dropped wholesale rather than evicted
// entry by entry (snapshots are short-lived read views, not a cache tier).
const snapshotCacheLimit = 4096

// AsOf resolves commitHash into a read-only Snapshot.
// Mutating methods are deliberately absent; any write attempt against
// history belongs to the live branch, not the snapshot.
func (db *Database) AsOf(ctx context.Context, commitHash blob.Hash) (*Snapshot, error) {
	tree, commit, err := db.cowMgr.AsOf(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		commit: commit,
		tree:   tree,
		store:  db.cowMgr.Store(),
		cache:  make(map[string][]byte),
	}, nil
}

func (s *Snapshot) blobAt(ctx context.Context, path string) ([]byte, bool, error) {
	entry, ok := s.tree.Get(path)
	if !ok {
		return nil, false, nil
	}
	s.cacheMu.Lock()
	if data, hit := s.cache[path]; hit {
		s.cacheMu.Unlock()
		return data, true, nil
	}
	s.cacheMu.Unlock()

	data, err := s.store.Get(ctx, entry.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	s.cacheMu.Lock()
	if len(s.cache) >= snapshotCacheLimit {
		s.cache = make(map[string][]byte)
	}
	s.cache[path] = data
	s.cacheMu.Unlock()
	return data, true, nil
}

// Get loads one noun as it existed at the snapshot's commit, or nil if
// it wasn't live at that point.
func (s *Snapshot) Get(ctx context.Context, id string) (*types.Noun, error) {
	data, ok, err := s.blobAt(ctx, fmt.Sprintf("entities/%s", id))
	if err != nil || !ok {
		return nil, err
	}
	var n types.Noun
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: decoding snapshot noun %s: %v", types.ErrStorage, id, err)
	}
	return &n, nil
}

// Find lists the entities the snapshot's commit captured, in stable
// (path-sorted) order, paginated. It answers the "what existed then"
// question a live branch's find({}) answers for "now"; richer filter or
// vector queries belong on a live branch, not on history.
func (s *Snapshot) Find(ctx context.Context, limit, offset int) (*query.Page, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []string
	for _, p := range s.tree.Paths() {
		if strings.HasPrefix(p, "entities/") {
			ids = append(ids, strings.TrimPrefix(p, "entities/"))
		}
	}
	total := len(ids)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	items := make([]*types.Noun, 0, end-start)
	for _, id := range ids[start:end] {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		n, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			items = append(items, n)
		}
	}
	page := &query.Page{Items: items, HasMore: end < total, Total: &total}
	if page.HasMore {
		page.NextCursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

// Relations returns every relationship the snapshot's commit captured.
func (s *Snapshot) Relations(ctx context.Context) ([]*types.Verb, error) {
	var out []*types.Verb
	for _, p := range s.tree.Paths() {
		if !strings.HasPrefix(p, "relations/") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		data, ok, err := s.blobAt(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var v types.Verb
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: decoding snapshot relation %s: %v", types.ErrStorage, p, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// Message, Author, and EntityCount expose the commit metadata AsOf
// resolved, without handing out the underlying cow.Commit type.
func (s *Snapshot) Message() string    { return s.commit.Message }
func (s *Snapshot) Author() string     { return s.commit.Author }
func (s *Snapshot) EntityCount() int   { return s.commit.EntityCount }
func (s *Snapshot) RelationCount() int { return s.commit.RelationCount }

// DeleteBranch removes branch's ref. The
// live noun/verb records the branch's working copy holds are left in
// place; reclaiming them is a separate garbage-collection concern, not
// part of the ref-level branch deletion git itself models.
func (db *Database) DeleteBranch(ctx context.Context, branch string) error {
	return db.cowMgr.DeleteBranch(ctx, branch)
}

// Log returns a CommitLog over this database's commit objects; walk it
// from a branch head (see Manager.Head) to read that branch's history.
func (db *Database) Log() *cow.CommitLog { return db.cowMgr.Log() }
