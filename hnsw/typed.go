package hnsw

import (
	"context"
	"sync"

	"synapsedb.dev/synapsedb/types"
)

// PersistMode controls when a dirty node is written to storage.
type PersistMode int

const (
	// Immediate flushes to storage on every save_node call. Default for
	// local backends.
	Immediate PersistMode = iota
	// Deferred marks nodes dirty and writes them only when Flush is
	// called (the engine calls it from its own Flush and Close); no size
	// or time threshold triggers a write. Default for cloud backends.
	Deferred
)

// NodeWriter is the storage-layer collaborator a typed Index persists
// through; storage.Engine satisfies it via SaveNounVector.
type NodeWriter interface {
	SaveNounVector(ctx context.Context, nounType types.NounType, id string, vector []float32, level int, connections map[int][]string) error
}

// NodeReader streams persisted nouns back for rebuild.
type NodeReader interface {
	ScanNounVectors(ctx context.Context, nounType types.NounType, fn func(id string, vector []float32, level int, connections map[int][]string) error) error
}

// Index is the type-partitioned HNSW index: one independent
// Graph per noun type, routed by type on insert and either routed or
// fanned out on search.
type Index struct {
	mu     sync.RWMutex
	params Params
	graphs map[types.NounType]*Graph

	writer NodeWriter
	mode   PersistMode

	dirty map[dirtyKey]struct{}

	rebuildFuture chan struct{}
	rebuildErr    error
	rebuilt       bool
	rebuildMu     sync.Mutex
}

type dirtyKey struct {
	t  types.NounType
	id string
}

// NewTypedIndex builds one Graph per declared noun type.
func NewTypedIndex(params Params, writer NodeWriter, mode PersistMode) *Index {
	ti := &Index{
		params: params,
		graphs: make(map[types.NounType]*Graph, types.NounTypeCount()),
		writer: writer,
		mode:   mode,
		dirty:  make(map[dirtyKey]struct{}),
	}
	for i := 0; i < types.NounTypeCount(); i++ {
		ti.graphs[types.NounType(i)] = NewGraph(params)
	}
	return ti
}

func (ti *Index) graphFor(t types.NounType) *Graph {
	ti.mu.RLock()
	g := ti.graphs[t]
	ti.mu.RUnlock()
	return g
}

// Add routes the noun to its type's sub-index and persists the node per
// the configured PersistMode.
func (ti *Index) Add(ctx context.Context, t types.NounType, id string, vec []float32) error {
	g := ti.graphFor(t)
	if g == nil {
		return nil
	}
	g.Insert(id, vec)
	return ti.persist(ctx, t, id)
}

func (ti *Index) persist(ctx context.Context, t types.NounType, id string) error {
	if ti.mode == Deferred {
		ti.mu.Lock()
		ti.dirty[dirtyKey{t, id}] = struct{}{}
		ti.mu.Unlock()
		return nil
	}
	return ti.flushOne(ctx, t, id)
}

func (ti *Index) flushOne(ctx context.Context, t types.NounType, id string) error {
	if ti.writer == nil {
		return nil
	}
	g := ti.graphFor(t)
	vec, level, conns, ok := g.Node(id)
	if !ok {
		return nil
	}
	return ti.writer.SaveNounVector(ctx, t, id, vec, level, conns)
}

// Delete tombstones id in its type's sub-index.
func (ti *Index) Delete(ctx context.Context, t types.NounType, id string) error {
	g := ti.graphFor(t)
	if g == nil {
		return nil
	}
	g.Delete(id)
	return ti.persist(ctx, t, id)
}

// TypedResult carries the type a Search hit came from, needed when
// searching across every sub-index at once.
type TypedResult struct {
	ID       string
	Type     types.NounType
	Distance float32
}

// Search routes to one sub-index when exactly one type is given;
// otherwise it fans out in parallel across the given types (every
// sub-index when none is given) and merges by distance.
func (ti *Index) Search(vec []float32, k int, ef int, types_ []types.NounType) []TypedResult {
	if len(types_) == 1 {
		g := ti.graphFor(types_[0])
		res := g.Search(vec, k, ef)
		out := make([]TypedResult, len(res))
		for i, r := range res {
			out[i] = TypedResult{ID: r.ID, Type: types_[0], Distance: r.Distance}
		}
		return out
	}

	targets := types_
	if len(targets) == 0 {
		ti.mu.RLock()
		for t := range ti.graphs {
			targets = append(targets, t)
		}
		ti.mu.RUnlock()
	}

	var wg sync.WaitGroup
	resultsByType := make([][]Result, len(targets))
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t types.NounType) {
			defer wg.Done()
			resultsByType[i] = ti.graphFor(t).Search(vec, k, ef)
		}(i, t)
	}
	wg.Wait()

	var merged []TypedResult
	for i, t := range targets {
		for _, r := range resultsByType[i] {
			merged = append(merged, TypedResult{ID: r.ID, Type: t, Distance: r.Distance})
		}
	}
	sortTypedByDistance(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func sortTypedByDistance(results []TypedResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Distance < results[j-1].Distance; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Flush writes every dirty node and clears the dirty set — the
// deferred-mode counterpart of Immediate's per-call persist.
func (ti *Index) Flush(ctx context.Context) error {
	ti.mu.Lock()
	keys := make([]dirtyKey, 0, len(ti.dirty))
	for k := range ti.dirty {
		keys = append(keys, k)
	}
	ti.dirty = make(map[dirtyKey]struct{})
	ti.mu.Unlock()

	for _, k := range keys {
		if err := ti.flushOne(ctx, k.t, k.id); err != nil {
			return err
		}
	}
	return nil
}

// EnableCOW re-parents every sub-index onto the corresponding sub-index
// of parent, for instant fork.
func (ti *Index) EnableCOW(parent *Index) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for t, g := range ti.graphs {
		if pg, ok := parent.graphs[t]; ok {
			g.EnableCOW(pg)
		}
	}
}

// Rebuild streams nouns of every type from storage and inserts them,
// guarded by a single-flight future: concurrent callers (including ones
// arriving mid-rebuild) await the same completion instead of re-scanning
// storage. On failure the completed flag stays clear so the next caller
// retries.
func (ti *Index) Rebuild(ctx context.Context, reader NodeReader) error {
	ti.rebuildMu.Lock()
	if ti.rebuilt {
		ti.rebuildMu.Unlock()
		return nil
	}
	if ti.rebuildFuture != nil {
		future := ti.rebuildFuture
		ti.rebuildMu.Unlock()
		select {
		case <-future:
			ti.rebuildMu.Lock()
			err := ti.rebuildErr
			ti.rebuildMu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	future := make(chan struct{})
	ti.rebuildFuture = future
	ti.rebuildMu.Unlock()

	err := ti.doRebuild(ctx, reader)

	ti.rebuildMu.Lock()
	ti.rebuildErr = err
	if err == nil {
		ti.rebuilt = true
	}
	ti.rebuildFuture = nil
	ti.rebuildMu.Unlock()
	close(future)
	return err
}

func (ti *Index) doRebuild(ctx context.Context, reader NodeReader) error {
	if reader == nil {
		return nil
	}
	for i := 0; i < types.NounTypeCount(); i++ {
		t := types.NounType(i)
		g := ti.graphFor(t)
		err := reader.ScanNounVectors(ctx, t, func(id string, vector []float32, level int, connections map[int][]string) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.InsertWithConnections(id, vector, level, connections)
			return nil
		})
		if err != nil {
			return err
		}
		g.ResolveConnections()
	}
	return nil
}

// Rebuilt reports whether a successful rebuild has completed.
func (ti *Index) Rebuilt() bool {
	ti.rebuildMu.Lock()
	defer ti.rebuildMu.Unlock()
	return ti.rebuilt
}

// MarkRebuilt lets the engine skip rebuild entirely when the index
// already sees its data, as a forked index does through its
// copy-on-write parent.
func (ti *Index) MarkRebuilt() {
	ti.rebuildMu.Lock()
	ti.rebuilt = true
	ti.rebuildMu.Unlock()
}

// Empty reports whether every sub-index has zero live nodes, the signal
// the engine uses to decide whether a rebuild is necessary at all.
func (ti *Index) Empty() bool {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	for _, g := range ti.graphs {
		if g.Len() > 0 {
			return false
		}
	}
	return true
}
