package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Params configures a Graph's build/search widths. M bounds the number
// of connections a non-entry-level node keeps per level (level 0 keeps
// 2*M, the usual HNSW convention for base-layer density).
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
	Dist           DistanceFunc
}

func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 64, Dist: CosineDistance}
}

// Graph is one homogeneous HNSW index. Use Index for the
// type-partitioned variant (one Graph per noun type).
type Graph struct {
	mu     sync.RWMutex
	params Params
	rng    *rand.Rand

	arena      *arena
	idToIdx    map[string]int
	entryPoint int
	maxLevel   int

	// COW: overlay shadows parent's arena slots that this graph has
	// written to since the fork. A lookup checks overlay first, falls
	// back to parent, and is never written into parent.
	parent  *Graph
	overlay map[int]*node

	// pending holds connection id-lists staged by InsertWithConnections
	// until ResolveConnections translates them to arena indices once
	// every node in a rebuild batch has been allocated.
	pending map[int]map[int][]string
}

func NewGraph(params Params) *Graph {
	if params.M <= 0 {
		params = DefaultParams()
	}
	if params.Dist == nil {
		params.Dist = CosineDistance
	}
	return &Graph{
		params:     params,
		rng:        rand.New(rand.NewSource(1)),
		arena:      newArena(),
		idToIdx:    make(map[string]int),
		entryPoint: -1,
		maxLevel:   -1,
	}
}

// EnableCOW makes g a copy-on-write child of parent: reads fall through
// to parent's node table until g's own Insert/Delete shadows a slot.
func (g *Graph) EnableCOW(parent *Graph) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.parent = parent
	g.overlay = make(map[int]*node)
	parent.mu.RLock()
	g.entryPoint = parent.entryPoint
	g.maxLevel = parent.maxLevel
	g.idToIdx = make(map[string]int, len(parent.idToIdx))
	for id, idx := range parent.idToIdx {
		g.idToIdx[id] = idx
	}
	g.arena = newArena()
	g.arena.nodes = make([]*node, len(parent.arena.nodes))
	parent.mu.RUnlock()
}

func (g *Graph) nodeAt(idx int) *node {
	if g.overlay != nil {
		if n, ok := g.overlay[idx]; ok {
			return n
		}
		if g.parent != nil {
			g.parent.mu.RLock()
			n := g.parent.nodeAt(idx)
			g.parent.mu.RUnlock()
			return n
		}
	}
	return g.arena.get(idx)
}

// materialize returns a node copy this graph owns and may mutate
// in-place, shadowing the parent's slot the first time idx is touched.
func (g *Graph) materialize(idx int) *node {
	if g.overlay == nil {
		return g.arena.get(idx)
	}
	if n, ok := g.overlay[idx]; ok {
		return n
	}
	src := g.nodeAt(idx)
	if src == nil {
		return nil
	}
	cp := src.clone()
	g.overlay[idx] = cp
	if idx >= len(g.arena.nodes) {
		grown := make([]*node, idx+1)
		copy(grown, g.arena.nodes)
		g.arena.nodes = grown
	}
	return cp
}

func randomLevel(m int, rng *rand.Rand) int {
	if m < 2 {
		m = 2
	}
	u := rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	level := int(math.Floor(-math.Log(u) * (1 / math.Log(float64(m)))))
	return level
}

// Len reports the number of live (non-tombstoned) nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for id := range g.idToIdx {
		if node := g.nodeAt(g.idToIdx[id]); node != nil && !node.tombstoned {
			n++
		}
	}
	return n
}

func (g *Graph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.idToIdx[id]
	if !ok {
		return false
	}
	n := g.nodeAt(idx)
	return n != nil && !n.tombstoned
}

// Insert adds id/vec to the graph, or re-activates and rewires it if a
// tombstoned node with the same id exists.
func (g *Graph) Insert(id string, vec []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := randomLevel(g.params.M, g.rng)
	n := newNode(id, vec, level)

	var idx int
	if existing, ok := g.idToIdx[id]; ok {
		idx = existing
		if g.overlay != nil {
			g.overlay[idx] = n
			if idx >= len(g.arena.nodes) {
				grown := make([]*node, idx+1)
				copy(grown, g.arena.nodes)
				g.arena.nodes = grown
			}
		} else {
			g.arena.nodes[idx] = n
		}
	} else {
		if g.overlay != nil {
			idx = len(g.idToIdx) + len(g.overlay)
			for {
				if _, taken := g.overlay[idx]; !taken && g.arena.get(idx) == nil {
					break
				}
				idx++
			}
			g.overlay[idx] = n
			if idx >= len(g.arena.nodes) {
				grown := make([]*node, idx+1)
				copy(grown, g.arena.nodes)
				g.arena.nodes = grown
			}
		} else {
			idx = g.arena.allocate(n)
		}
		g.idToIdx[id] = idx
	}

	if g.entryPoint == -1 {
		g.entryPoint = idx
		g.maxLevel = level
		return
	}

	ep := g.entryPoint
	for lc := g.maxLevel; lc > level; lc-- {
		ep = g.greedyDescend(vec, ep, lc)
	}

	for lc := min(level, g.maxLevel); lc >= 0; lc-- {
		candidates := g.searchLayer(vec, ep, g.params.EfConstruction, lc)
		maxConn := g.params.M
		if lc == 0 {
			maxConn = g.params.M * 2
		}
		neighbors := selectNeighbors(candidates, maxConn)
		for _, c := range neighbors {
			g.connect(idx, c.idx, lc)
			g.connect(c.idx, idx, lc)
			g.pruneConnections(c.idx, lc)
		}
		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = idx
	}
}

func (g *Graph) connect(from, to, level int) {
	n := g.materialize(from)
	if n == nil {
		return
	}
	for _, existing := range n.connections[level] {
		if existing == to {
			return
		}
	}
	n.connections[level] = append(n.connections[level], to)
}

func (g *Graph) pruneConnections(idx, level int) {
	n := g.nodeAt(idx)
	if n == nil {
		return
	}
	maxConn := g.params.M
	if level == 0 {
		maxConn = g.params.M * 2
	}
	neighbors := n.connections[level]
	if len(neighbors) <= maxConn {
		return
	}
	cands := make([]candidate, 0, len(neighbors))
	for _, nb := range neighbors {
		nbNode := g.nodeAt(nb)
		if nbNode == nil {
			continue
		}
		cands = append(cands, candidate{idx: nb, dist: g.params.Dist(n.vector, nbNode.vector)})
	}
	kept := selectNeighbors(cands, maxConn)
	ids := make([]int, len(kept))
	for i, c := range kept {
		ids[i] = c.idx
	}
	m := g.materialize(idx)
	m.connections[level] = ids
}

// selectNeighbors sorts candidates by distance (ties broken by arena
// index, so ties resolve deterministically) and keeps up to max.
func selectNeighbors(cands []candidate, max int) []candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].idx < cands[j].idx
	})
	if len(cands) > max {
		cands = cands[:max]
	}
	return cands
}

// greedyDescend performs an ef=1 greedy walk at level, used to pick the
// entry point handed down to the next lower level.
func (g *Graph) greedyDescend(vec []float32, entry, level int) int {
	cands := g.searchLayer(vec, entry, 1, level)
	if len(cands) == 0 {
		return entry
	}
	return cands[0].idx
}

// searchLayer is the standard HNSW layer search: a greedy expansion from
// entry, maintaining a candidate frontier (min-heap) and a result set
// bounded to ef (max-heap keeps the farthest at the top for cheap
// eviction). Tombstoned nodes are skipped but still traversed through.
func (g *Graph) searchLayer(vec []float32, entry int, ef int, level int) []candidate {
	entryNode := g.nodeAt(entry)
	if entryNode == nil {
		return nil
	}
	visited := map[int]bool{entry: true}

	entryDist := g.params.Dist(vec, entryNode.vector)
	candidates := &minHeap{{idx: entry, dist: entryDist}}
	heap.Init(candidates)

	results := &maxHeap{}
	if !entryNode.tombstoned {
		heap.Push(results, candidate{idx: entry, dist: entryDist})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		node := g.nodeAt(c.idx)
		if node == nil {
			continue
		}
		for _, nb := range node.connections[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode := g.nodeAt(nb)
			if nbNode == nil {
				continue
			}
			d := g.params.Dist(vec, nbNode.vector)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidate{idx: nb, dist: d})
				if !nbNode.tombstoned {
					heap.Push(results, candidate{idx: nb, dist: d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// Result is one Search hit.
type Result struct {
	ID       string
	Distance float32
}

// Search returns the k nearest live nodes to vec. efOverride <= 0 uses
// the graph's configured EfSearch.
func (g *Graph) Search(vec []float32, k int, efOverride int) []Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.entryPoint == -1 {
		return nil
	}
	ef := g.params.EfSearch
	if efOverride > 0 {
		ef = efOverride
	}
	if ef < k {
		ef = k
	}

	ep := g.entryPoint
	for lc := g.maxLevel; lc > 0; lc-- {
		ep = g.greedyDescend(vec, ep, lc)
	}
	cands := g.searchLayer(vec, ep, ef, 0)
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]Result, len(cands))
	for i, c := range cands {
		out[i] = Result{ID: g.nodeAt(c.idx).id, Distance: c.dist}
	}
	return out
}

// Delete tombstones id: it is removed from every neighbor's adjacency
// list at every level (so future traversals never step onto it), but
// its own slot is left in place until a rebuild reclaims it.
func (g *Graph) Delete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.idToIdx[id]
	if !ok {
		return
	}
	n := g.materialize(idx)
	if n == nil {
		return
	}
	n.tombstoned = true
	for level, neighbors := range n.connections {
		for _, nb := range neighbors {
			nbNode := g.materialize(nb)
			if nbNode == nil {
				continue
			}
			filtered := nbNode.connections[level][:0:0]
			for _, cand := range nbNode.connections[level] {
				if cand != idx {
					filtered = append(filtered, cand)
				}
			}
			nbNode.connections[level] = filtered
		}
	}
}

// Node exposes a node's persisted shape for the storage layer; ok is
// false if id is absent or tombstoned.
func (g *Graph) Node(id string) (vector []float32, level int, connections map[int][]string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, exists := g.idToIdx[id]
	if !exists {
		return nil, 0, nil, false
	}
	n := g.nodeAt(idx)
	if n == nil || n.tombstoned {
		return nil, 0, nil, false
	}
	out := make(map[int][]string, len(n.connections))
	for lvl, neighbors := range n.connections {
		ids := make([]string, 0, len(neighbors))
		for _, nb := range neighbors {
			if nbNode := g.nodeAt(nb); nbNode != nil {
				ids = append(ids, nbNode.id)
			}
		}
		out[lvl] = ids
	}
	return n.vector, n.level, out, true
}

// InsertWithConnections restores a persisted node verbatim (used by
// rebuild/load, where the connections were already computed and should
// not be recomputed by a fresh Insert).
func (g *Graph) InsertWithConnections(id string, vec []float32, level int, connections map[int][]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.idToIdx[id]
	if !ok {
		n := newNode(id, vec, level)
		if g.overlay != nil {
			idx = len(g.arena.nodes)
			g.overlay[idx] = n
			g.arena.nodes = append(g.arena.nodes, nil)
		} else {
			idx = g.arena.allocate(n)
		}
		g.idToIdx[id] = idx
	}
	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = idx
	} else if g.entryPoint == -1 {
		g.entryPoint = idx
	}
	// Connections are resolved to indices lazily on first use via a
	// second pass (ResolveConnections), since neighbor ids may not all
	// be allocated yet during a streaming rebuild.
	g.pendingConnections(idx, connections)
}

func (g *Graph) pendingConnections(idx int, connections map[int][]string) {
	if g.pending == nil {
		g.pending = make(map[int]map[int][]string)
	}
	g.pending[idx] = connections
}

// ResolveConnections translates every pending id-keyed connection list
// (staged by InsertWithConnections) into arena indices. Call once after
// a full rebuild batch has been loaded so neighbor ids are guaranteed to
// already have arena slots.
func (g *Graph) ResolveConnections() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for idx, byLevel := range g.pending {
		n := g.materialize(idx)
		if n == nil {
			continue
		}
		for lvl, ids := range byLevel {
			resolved := make([]int, 0, len(ids))
			for _, nid := range ids {
				if nidx, ok := g.idToIdx[nid]; ok {
					resolved = append(resolved, nidx)
				}
			}
			n.connections[lvl] = resolved
		}
	}
	g.pending = nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
