package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"synapsedb.dev/synapsedb/backpressure"
	"synapsedb.dev/synapsedb/cache"
	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/types"
	"synapsedb.dev/synapsedb/writebuffer"
)

// Engine is the sharded storage layer: every noun/verb vector and
// metadata record lives at a branch-scoped, hash-sharded path over a
// pluggable objstore.ObjectBackend, fronted by a cache manager and (for
// cloud backends) a write buffer.
//
// A forked branch's Engine carries a parent pointer: reads that miss on
// the branch's own paths fall through to the parent chain, so fork
// copies no records at all — a branch diverges record by record as it
// writes. Deletes on a forked branch write a tombstone in place of the
// record so the parent's copy stops shining through.
type Engine struct {
	backend objstore.ObjectBackend
	cache   *cache.Manager
	limiter *backpressure.Limiter
	log     *logrus.Entry

	branch string
	paths  Paths
	parent *Engine // nil unless this branch was forked

	counts      *Counts
	countsReady bool

	writeBufMu sync.Mutex
	writeBuf   *writebuffer.Buffer // nil unless the backend prefers deferred writes
}

// Config bundles the dependencies an Engine is constructed with. Parent,
// when set, makes this a copy-on-write child of that engine's branch.
type Config struct {
	Backend objstore.ObjectBackend
	Cache   *cache.Manager
	Limiter *backpressure.Limiter
	Branch  string
	Parent  *Engine
	Log     *logrus.Entry
}

func New(cfg Config) *Engine {
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	e := &Engine{
		backend: cfg.Backend,
		cache:   cfg.Cache,
		limiter: cfg.Limiter,
		log:     log,
		branch:  branch,
		paths:   Paths{Branch: branch},
		parent:  cfg.Parent,
		counts:  NewCounts(),
	}
	if cfg.Backend != nil && cfg.Backend.Kind() == objstore.KindCloud {
		e.writeBuf = writebuffer.New(writebuffer.DefaultConfig(), e.flushBatch)
	}
	return e
}

// tombstoneSentinel marks a record deleted on a forked branch without
// touching the parent's copy. Never written on a branch with no parent —
// those delete physically.
var tombstoneSentinel = []byte(`{"_tombstone":true}`)

func isTombstone(data []byte) bool { return string(data) == string(tombstoneSentinel) }

// rebase translates one of this engine's branch-scoped paths into the
// parent's equivalent path.
func (e *Engine) rebase(path string) string {
	return e.parent.paths.branchRoot() + strings.TrimPrefix(path, e.paths.branchRoot())
}

// Branch returns the branch this engine instance is bound to.
func (e *Engine) Branch() string { return e.branch }
func (e *Engine) Counts() *Counts { return e.counts }
func (e *Engine) Backend() objstore.ObjectBackend { return e.backend }

func (e *Engine) admit(ctx context.Context, id string, weight int) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.RequestPermission(ctx, id, weight)
}

func (e *Engine) release(id string, ok bool) {
	if e.limiter != nil {
		e.limiter.ReleasePermission(id, ok)
	}
}

func (e *Engine) flushBatch(ctx context.Context, entries map[string][]byte) error {
	for path, data := range entries {
		if err := e.backend.Write(ctx, path, data); err != nil {
			return err
		}
	}
	return nil
}

// write persists data at path, going through the write buffer when the
// backend prefers deferred writes (so batching and coalescing apply
// uniformly), otherwise writing straight through.
func (e *Engine) write(ctx context.Context, path string, data []byte) error {
	if err := e.admit(ctx, path, 1); err != nil {
		return err
	}
	defer func() { e.release(path, true) }()

	if e.writeBuf != nil {
		return e.writeBuf.Put(ctx, path, data)
	}
	if err := e.backend.Write(ctx, path, data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}

// read resolves path with copy-on-write semantics: the branch's own copy
// wins (a tombstone there means deleted, full stop), and a miss falls
// through to the parent chain when this engine was forked.
func (e *Engine) read(ctx context.Context, path string) ([]byte, error) {
	data, err := e.readOwn(ctx, path)
	if err == nil {
		if isTombstone(data) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return data, nil
	}
	if e.parent == nil || !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return e.parent.read(ctx, e.rebase(path))
}

// readOwn resolves path against this branch only: write buffer, then
// cache, then backend.
func (e *Engine) readOwn(ctx context.Context, path string) ([]byte, error) {
	if e.writeBuf != nil {
		if v, ok := e.writeBuf.Peek(path); ok {
			return v, nil
		}
	}
	if e.cache != nil {
		if v, ok, err := e.cache.Get(ctx, path); err == nil && ok {
			return v, nil
		}
	}
	if err := e.admit(ctx, path, 1); err != nil {
		return nil, err
	}
	data, err := e.backend.Read(ctx, path)
	e.release(path, err == nil || errors.Is(err, types.ErrNotFound))
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		_ = e.cache.Set(ctx, path, data)
	}
	return data, nil
}

// remove deletes path's record: physically on a root branch, via a
// tombstone on a forked branch (so the parent's copy no longer resolves
// through the fallback read).
func (e *Engine) remove(ctx context.Context, path string) error {
	if e.parent != nil {
		if err := e.write(ctx, path, tombstoneSentinel); err != nil {
			return err
		}
		e.cachePut(ctx, path, tombstoneSentinel)
		return nil
	}
	if err := e.backend.Delete(ctx, path); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	if e.cache != nil {
		_ = e.cache.Delete(ctx, path)
	}
	return nil
}

func (e *Engine) cachePut(ctx context.Context, path string, data []byte) {
	if e.cache != nil {
		_ = e.cache.Set(ctx, path, data)
	}
}

// SaveNoun writes both the vector and metadata records for a noun.
func (e *Engine) SaveNoun(ctx context.Context, n *types.Noun) error {
	vr, mr := nounToRecords(n)
	vrData, err := marshal(vr)
	if err != nil {
		return fmt.Errorf("%w: marshaling noun vector: %v", types.ErrStorage, err)
	}
	mrData, err := marshal(mr)
	if err != nil {
		return fmt.Errorf("%w: marshaling noun metadata: %v", types.ErrStorage, err)
	}
	vPath := e.paths.NounVector(n.Type, n.ID)
	mPath := e.paths.NounMetadata(n.Type, n.ID)
	if err := e.write(ctx, vPath, vrData); err != nil {
		return err
	}
	if err := e.write(ctx, mPath, mrData); err != nil {
		return err
	}
	// Populate the cache immediately so a read right after a buffered
	// write stays consistent.
	e.cachePut(ctx, vPath, vrData)
	e.cachePut(ctx, mPath, mrData)
	return nil
}

// SaveNounMetadata persists only the metadata record for a noun,
// leaving any existing vector record untouched — the transaction
// manager's save_noun_metadata operation, used when only
// metadata changed (e.g. update() without a new embedding).
func (e *Engine) SaveNounMetadata(ctx context.Context, n *types.Noun) error {
	_, mr := nounToRecords(n)
	data, err := marshal(mr)
	if err != nil {
		return fmt.Errorf("%w: marshaling noun metadata: %v", types.ErrStorage, err)
	}
	path := e.paths.NounMetadata(n.Type, n.ID)
	if err := e.write(ctx, path, data); err != nil {
		return err
	}
	e.cachePut(ctx, path, data)
	return nil
}

// GetNounMetadata loads only the metadata record, without touching the
// (possibly larger, possibly remote) vector object.
func (e *Engine) GetNounMetadata(ctx context.Context, nounType types.NounType, id string) (*types.Noun, error) {
	data, err := e.read(ctx, e.paths.NounMetadata(nounType, id))
	if err != nil {
		return nil, err
	}
	var mr nounMetadataRecord
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("%w: decoding noun metadata %s: %v", types.ErrStorage, id, err)
	}
	return recordsToNoun(id, nil, &mr), nil
}

// GetNounMetadataBatch is the batch counterpart of GetNounMetadata.
func (e *Engine) GetNounMetadataBatch(ctx context.Context, ids []NounRef) (map[string]*types.Noun, error) {
	out := make(map[string]*types.Noun, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	paths := make([]string, len(ids))
	for i, ref := range ids {
		paths[i] = e.paths.NounMetadata(ref.Type, ref.ID)
	}
	weight := batchWeight(e.backend, len(ids))
	if err := e.admit(ctx, "batch:noun-meta", weight); err != nil {
		return nil, err
	}
	data, err := e.backend.BatchRead(ctx, paths)
	e.release("batch:noun-meta", err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	var missing []NounRef
	for i, ref := range ids {
		raw, ok := data[paths[i]]
		if !ok {
			missing = append(missing, ref)
			continue
		}
		if isTombstone(raw) {
			continue
		}
		var mr nounMetadataRecord
		if json.Unmarshal(raw, &mr) != nil {
			continue
		}
		out[ref.ID] = recordsToNoun(ref.ID, nil, &mr)
	}
	if e.parent != nil && len(missing) > 0 {
		inherited, err := e.parent.GetNounMetadataBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, n := range inherited {
			out[id] = n
		}
	}
	return out, nil
}

// SaveVerbMetadata is the verb counterpart of SaveNounMetadata.
func (e *Engine) SaveVerbMetadata(ctx context.Context, v *types.Verb) error {
	_, mr := verbToRecords(v)
	data, err := marshal(mr)
	if err != nil {
		return fmt.Errorf("%w: marshaling verb metadata: %v", types.ErrStorage, err)
	}
	path := e.paths.VerbMetadata(v.ID)
	if err := e.write(ctx, path, data); err != nil {
		return err
	}
	e.cachePut(ctx, path, data)
	return nil
}

// SaveNounVector persists only the HNSW node representation — used by
// the HNSW index's own save_node / flush path, which updates
// Connections/Level far more often than user metadata changes.
func (e *Engine) SaveNounVector(ctx context.Context, nounType types.NounType, id string, vector []float32, level int, connections map[int][]string) error {
	vr := nounVectorRecord{ID: id, Vector: vector, Level: level, Connections: connections}
	data, err := marshal(vr)
	if err != nil {
		return fmt.Errorf("%w: marshaling noun vector: %v", types.ErrStorage, err)
	}
	path := e.paths.NounVector(nounType, id)
	if err := e.write(ctx, path, data); err != nil {
		return err
	}
	e.cachePut(ctx, path, data)
	return nil
}

// GetNoun loads a noun by id and type; the type is part of the sharded
// path, so callers that don't know it should keep a side id->type index
// (the engine keeps its own, Database.idType).
func (e *Engine) GetNoun(ctx context.Context, nounType types.NounType, id string) (*types.Noun, error) {
	mData, err := e.read(ctx, e.paths.NounMetadata(nounType, id))
	if err != nil {
		return nil, err
	}
	var mr nounMetadataRecord
	if err := json.Unmarshal(mData, &mr); err != nil {
		return nil, fmt.Errorf("%w: decoding noun metadata %s: %v", types.ErrStorage, id, err)
	}
	vData, err := e.read(ctx, e.paths.NounVector(nounType, id))
	var vr *nounVectorRecord
	if err == nil {
		var decoded nounVectorRecord
		if jerr := json.Unmarshal(vData, &decoded); jerr == nil {
			vr = &decoded
		}
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return recordsToNoun(id, vr, &mr), nil
}

// GetNounBatch loads many nouns at once, routed through the backend's
// batch-read primitive so cloud backends can fan out a single batch API
// call instead of N round trips. Missing ids are silently absent.
func (e *Engine) GetNounBatch(ctx context.Context, ids []NounRef) (map[string]*types.Noun, error) {
	out := make(map[string]*types.Noun, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	vPaths := make([]string, len(ids))
	mPaths := make([]string, len(ids))
	for i, ref := range ids {
		vPaths[i] = e.paths.NounVector(ref.Type, ref.ID)
		mPaths[i] = e.paths.NounMetadata(ref.Type, ref.ID)
	}

	weight := batchWeight(e.backend, len(ids))
	if err := e.admit(ctx, "batch:noun", weight); err != nil {
		return nil, err
	}
	vData, vErr := e.backend.BatchRead(ctx, vPaths)
	mData, mErr := e.backend.BatchRead(ctx, mPaths)
	e.release("batch:noun", vErr == nil && mErr == nil)
	if vErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, vErr)
	}
	if mErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, mErr)
	}

	var missing []NounRef
	for i, ref := range ids {
		mRaw, ok := mData[mPaths[i]]
		if !ok {
			missing = append(missing, ref)
			continue
		}
		if isTombstone(mRaw) {
			continue
		}
		var mr nounMetadataRecord
		if err := json.Unmarshal(mRaw, &mr); err != nil {
			continue
		}
		var vr *nounVectorRecord
		vRaw, ok := vData[vPaths[i]]
		if !ok && e.parent != nil {
			// Metadata diverged on this branch but the vector didn't;
			// resolve it through the fallback read.
			vRaw, _ = e.parent.read(ctx, e.rebase(vPaths[i]))
		}
		if len(vRaw) > 0 && !isTombstone(vRaw) {
			var decoded nounVectorRecord
			if json.Unmarshal(vRaw, &decoded) == nil {
				vr = &decoded
			}
		}
		out[ref.ID] = recordsToNoun(ref.ID, vr, &mr)
	}
	if e.parent != nil && len(missing) > 0 {
		inherited, err := e.parent.GetNounBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, n := range inherited {
			out[id] = n
		}
	}
	return out, nil
}

// NounRef identifies a noun for batch/path operations that need its
// type to build the sharded path.
type NounRef struct {
	ID   string
	Type types.NounType
}

func NewNounRef(id string, t types.NounType) NounRef { return NounRef{ID: id, Type: t} }

func batchWeight(backend objstore.ObjectBackend, n int) int {
	if backend == nil {
		return n
	}
	cfg := backend.BatchConfig()
	if cfg.MaxConcurrency <= 0 {
		return n
	}
	w := n / cfg.MaxConcurrency
	if w < 1 {
		w = 1
	}
	return w
}

// DeleteNoun removes both the vector and metadata records. Silent on a
// missing noun, per the Core API contract.
func (e *Engine) DeleteNoun(ctx context.Context, nounType types.NounType, id string) error {
	if err := e.remove(ctx, e.paths.NounVector(nounType, id)); err != nil {
		return err
	}
	return e.remove(ctx, e.paths.NounMetadata(nounType, id))
}

// DeleteNounVector and DeleteNounMetadata remove just one of the two
// noun records — the transaction manager's granular delete operations,
// as distinct from DeleteNoun's combined delete.
func (e *Engine) DeleteNounVector(ctx context.Context, nounType types.NounType, id string) error {
	return e.remove(ctx, e.paths.NounVector(nounType, id))
}

func (e *Engine) DeleteNounMetadata(ctx context.Context, nounType types.NounType, id string) error {
	return e.remove(ctx, e.paths.NounMetadata(nounType, id))
}

// DeleteVerbVector and DeleteVerbMetadata are the verb counterparts.
func (e *Engine) DeleteVerbVector(ctx context.Context, id string) error {
	return e.remove(ctx, e.paths.VerbVector(id))
}

func (e *Engine) DeleteVerbMetadata(ctx context.Context, id string) error {
	return e.remove(ctx, e.paths.VerbMetadata(id))
}

// SaveVerb writes both the vector and metadata records for a verb.
func (e *Engine) SaveVerb(ctx context.Context, v *types.Verb) error {
	vr, mr := verbToRecords(v)
	vrData, err := marshal(vr)
	if err != nil {
		return fmt.Errorf("%w: marshaling verb vector: %v", types.ErrStorage, err)
	}
	mrData, err := marshal(mr)
	if err != nil {
		return fmt.Errorf("%w: marshaling verb metadata: %v", types.ErrStorage, err)
	}
	vPath := e.paths.VerbVector(v.ID)
	mPath := e.paths.VerbMetadata(v.ID)
	if err := e.write(ctx, vPath, vrData); err != nil {
		return err
	}
	if err := e.write(ctx, mPath, mrData); err != nil {
		return err
	}
	e.cachePut(ctx, vPath, vrData)
	e.cachePut(ctx, mPath, mrData)
	return nil
}

func (e *Engine) GetVerb(ctx context.Context, id string) (*types.Verb, error) {
	mData, err := e.read(ctx, e.paths.VerbMetadata(id))
	if err != nil {
		return nil, err
	}
	var mr verbMetadataRecord
	if err := json.Unmarshal(mData, &mr); err != nil {
		return nil, fmt.Errorf("%w: decoding verb metadata %s: %v", types.ErrStorage, id, err)
	}
	vData, err := e.read(ctx, e.paths.VerbVector(id))
	var vr *verbVectorRecord
	if err == nil {
		var decoded verbVectorRecord
		if json.Unmarshal(vData, &decoded) == nil {
			vr = &decoded
		}
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return recordsToVerb(id, vr, &mr), nil
}

func (e *Engine) GetVerbBatch(ctx context.Context, ids []string) (map[string]*types.Verb, error) {
	out := make(map[string]*types.Verb, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vPaths := make([]string, len(ids))
	mPaths := make([]string, len(ids))
	for i, id := range ids {
		vPaths[i] = e.paths.VerbVector(id)
		mPaths[i] = e.paths.VerbMetadata(id)
	}
	weight := batchWeight(e.backend, len(ids))
	if err := e.admit(ctx, "batch:verb", weight); err != nil {
		return nil, err
	}
	vData, vErr := e.backend.BatchRead(ctx, vPaths)
	mData, mErr := e.backend.BatchRead(ctx, mPaths)
	e.release("batch:verb", vErr == nil && mErr == nil)
	if vErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, vErr)
	}
	if mErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, mErr)
	}
	var missing []string
	for i, id := range ids {
		mRaw, ok := mData[mPaths[i]]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if isTombstone(mRaw) {
			continue
		}
		var mr verbMetadataRecord
		if json.Unmarshal(mRaw, &mr) != nil {
			continue
		}
		var vr *verbVectorRecord
		vRaw, ok := vData[vPaths[i]]
		if !ok && e.parent != nil {
			vRaw, _ = e.parent.read(ctx, e.rebase(vPaths[i]))
		}
		if len(vRaw) > 0 && !isTombstone(vRaw) {
			var decoded verbVectorRecord
			if json.Unmarshal(vRaw, &decoded) == nil {
				vr = &decoded
			}
		}
		out[id] = recordsToVerb(id, vr, &mr)
	}
	if e.parent != nil && len(missing) > 0 {
		inherited, err := e.parent.GetVerbBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, v := range inherited {
			out[id] = v
		}
	}
	return out, nil
}

func (e *Engine) DeleteVerb(ctx context.Context, id string) error {
	if err := e.remove(ctx, e.paths.VerbVector(id)); err != nil {
		return err
	}
	return e.remove(ctx, e.paths.VerbMetadata(id))
}

// Page is the paginated scan result shape described for get_nouns.
type Page struct {
	Items      []*types.Noun
	HasMore    bool
	NextCursor string
	Total      *int
}

// Pagination bounds a scan: Limit <= 0 means "use a sane default".
type Pagination struct {
	Limit  int
	Offset int
}

// listIDs collects the record ids under prefixOf's path for this branch
// and its whole parent chain. Tombstoned ids still appear here — the
// per-id load that follows resolves them to NotFound and drops them.
func (e *Engine) listIDs(ctx context.Context, prefixOf func(Paths) string) ([]string, error) {
	seen := make(map[string]struct{})
	for eng := e; eng != nil; eng = eng.parent {
		paths, err := eng.backend.List(ctx, prefixOf(eng.paths))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
		}
		for _, p := range paths {
			if id := idFromPath(p); id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ScanNouns walks every noun of nounType by listing its metadata shard
// prefix (across the branch's parent chain, for forked branches),
// applying the (optional) predicate, and paginating the surviving set.
// This is the storage-level raw scan the query coordinator falls back to
// when there is no usable metadata-index filter at all.
func (e *Engine) ScanNouns(ctx context.Context, nounType types.NounType, page Pagination, keep func(*types.Noun) bool) (*Page, error) {
	ids, err := e.listIDs(ctx, func(p Paths) string { return p.NounMetadataPrefix(nounType) })
	if err != nil {
		return nil, err
	}

	var matched []*types.Noun
	for _, id := range ids {
		n, err := e.GetNoun(ctx, nounType, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if keep == nil || keep(n) {
			matched = append(matched, n)
		}
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	total := len(matched)
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	result := &Page{Items: matched[start:end], HasMore: end < total, Total: &total}
	if result.HasMore {
		result.NextCursor = fmt.Sprintf("%d", end)
	}
	return result, nil
}

// ScanNounVectors streams every persisted vector record of nounType,
// letting the HNSW index rebuild itself from storage without the
// storage engine knowing anything about HNSW (it satisfies
// hnsw.NodeReader structurally).
func (e *Engine) ScanNounVectors(ctx context.Context, nounType types.NounType, fn func(id string, vector []float32, level int, connections map[int][]string) error) error {
	ids, err := e.listIDs(ctx, func(p Paths) string { return p.NounVectorPrefix(nounType) })
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := e.read(ctx, e.paths.NounVector(nounType, id))
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return err
		}
		var vr nounVectorRecord
		if err := json.Unmarshal(data, &vr); err != nil {
			continue
		}
		if err := fn(vr.ID, vr.Vector, vr.Level, vr.Connections); err != nil {
			return err
		}
	}
	return nil
}

// ScanVerbs walks every persisted verb by listing its metadata shard
// prefix, loading each via GetVerb. Used on cold start to rebuild the
// graph adjacency index (and any other verb-derived in-memory state)
// from storage, the same way ScanNouns backs the metadata index's
// fallback scan.
func (e *Engine) ScanVerbs(ctx context.Context, fn func(v *types.Verb) error) error {
	ids, err := e.listIDs(ctx, func(p Paths) string { return p.VerbMetadataPrefix() })
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		v, err := e.GetVerb(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func idFromPath(p string) string {
	slash := strings.LastIndex(p, "/")
	if slash < 0 {
		return ""
	}
	name := p[slash+1:]
	return strings.TrimSuffix(name, ".json")
}

// RecoverCounts replaces the in-memory counts with the persisted counts
// object, falling back to an authoritative recount from storage when the
// object is absent or corrupt. The counts file is a cache; storage is
// the source of truth. No-op once counts are known good (recovered
// earlier, or seeded from the parent at fork time).
func (e *Engine) RecoverCounts(ctx context.Context) error {
	if e.countsReady {
		return nil
	}
	c, err := LoadCounts(ctx, e.backend, e.paths)
	if err == nil {
		e.counts = c
		e.countsReady = true
		return nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		e.log.WithError(err).Warn("counts object unreadable, recounting from storage")
	}
	// The recount walks records through the copy-on-write read path so
	// inherited records count and tombstoned ones don't.
	c = NewCounts()
	for i := 0; i < types.NounTypeCount(); i++ {
		t := types.NounType(i)
		page, err := e.ScanNouns(ctx, t, Pagination{Limit: 1 << 30}, nil)
		if err != nil {
			return err
		}
		if len(page.Items) > 0 {
			c.IncNoun(t, len(page.Items))
		}
	}
	if err := e.ScanVerbs(ctx, func(v *types.Verb) error {
		c.IncVerb(v.Type, 1)
		return nil
	}); err != nil {
		return err
	}
	e.counts = c
	e.countsReady = true
	return nil
}

// SeedCountsFrom copies another engine's live counters into this one —
// fork's cheap alternative to a recount, since the child starts with
// exactly the parent's records visible.
func (e *Engine) SeedCountsFrom(src *Counts) {
	c := NewCounts()
	c.CopyFrom(src)
	e.counts = c
	e.countsReady = true
}

// parentMarker is the persisted shape of _system/parent.json.
type parentMarker struct {
	Parent string `json:"parent"`
}

// WriteParentMarker durably records that branch was forked from parent,
// so a later Checkout can rebuild the same copy-on-write chain.
func WriteParentMarker(ctx context.Context, backend objstore.ObjectBackend, branch, parent string) error {
	data, err := json.Marshal(parentMarker{Parent: parent})
	if err != nil {
		return fmt.Errorf("%w: marshaling parent marker: %v", types.ErrStorage, err)
	}
	p := Paths{Branch: branch}
	if err := backend.Write(ctx, p.ParentObject(), data); err != nil {
		return fmt.Errorf("%w: writing parent marker for %s: %v", types.ErrStorage, branch, err)
	}
	return nil
}

// ReadParentMarker returns the branch a forked branch reads through to,
// or ("", nil) for a root branch.
func ReadParentMarker(ctx context.Context, backend objstore.ObjectBackend, branch string) (string, error) {
	p := Paths{Branch: branch}
	data, err := backend.Read(ctx, p.ParentObject())
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: reading parent marker for %s: %v", types.ErrStorage, branch, err)
	}
	var m parentMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("%w: decoding parent marker for %s: %v", types.ErrStorage, branch, err)
	}
	return m.Parent, nil
}

// Flush persists pending write-buffer entries and counts. Invoked on
// explicit flush, close, and shutdown signals.
func (e *Engine) Flush(ctx context.Context) error {
	if e.writeBuf != nil {
		if err := e.writeBuf.Flush(ctx); err != nil {
			return err
		}
	}
	return e.counts.Flush(ctx, e.backend, e.paths)
}

func (e *Engine) Close(ctx context.Context) error {
	if e.writeBuf != nil {
		if err := e.writeBuf.Close(ctx); err != nil {
			return err
		}
	}
	return e.counts.Flush(ctx, e.backend, e.paths)
}
