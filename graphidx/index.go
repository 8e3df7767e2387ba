// Package graphidx implements the graph adjacency index:
// directed out/in adjacency maps keyed by noun id, a verb-id set for
// enumeration, and neighbor/count queries. Follows the
// GraphRepository layering (db/repository/neo4j.go), generalized from
// dependency-DAG edges to general typed relationships.
package graphidx

import (
	"sync"

	"synapsedb.dev/synapsedb/types"
)

// Direction selects which adjacency map get_neighbors consults.
type Direction int

const (
	Out Direction = iota
	In
	Both
)

// edgeSet is the unordered set of verb ids kept per (node, peer) pair.
type edgeSet map[string]struct{}

// Index is the in-memory graph adjacency index. out[s][t] and in[t][s]
// are kept symmetric by construction: AddEdge/RemoveEdge update both in
// the same critical section.
type Index struct {
	mu sync.RWMutex

	out map[string]map[string]edgeSet // source -> target -> verb ids
	in  map[string]map[string]edgeSet // target -> source -> verb ids

	verbIDs map[string]types.VerbKey // verb id -> its identity tuple, for enumeration/removal

	totalByType  map[types.VerbType]int
	totalEdges   int
}

func NewIndex() *Index {
	return &Index{
		out:         make(map[string]map[string]edgeSet),
		in:          make(map[string]map[string]edgeSet),
		verbIDs:     make(map[string]types.VerbKey),
		totalByType: make(map[types.VerbType]int),
	}
}

// AddEdge records verb (id) connecting source->target. Invariant: after
// this call, out[source] contains target and in[target] contains source,
// and verbID is a member of both edge sets.
func (ix *Index) AddEdge(verbID, source, target string, verbType types.VerbType) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.verbIDs[verbID]; exists {
		return
	}

	if ix.out[source] == nil {
		ix.out[source] = make(map[string]edgeSet)
	}
	if ix.out[source][target] == nil {
		ix.out[source][target] = make(edgeSet)
	}
	ix.out[source][target][verbID] = struct{}{}

	if ix.in[target] == nil {
		ix.in[target] = make(map[string]edgeSet)
	}
	if ix.in[target][source] == nil {
		ix.in[target][source] = make(edgeSet)
	}
	ix.in[target][source][verbID] = struct{}{}

	ix.verbIDs[verbID] = types.VerbKey{Source: source, Target: target, Type: verbType}
	ix.totalByType[verbType]++
	ix.totalEdges++
}

// RemoveEdge undoes AddEdge, updating both directions and the verb-id
// set atomically.
func (ix *Index) RemoveEdge(verbID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeEdgeLocked(verbID)
}

func (ix *Index) removeEdgeLocked(verbID string) {
	key, ok := ix.verbIDs[verbID]
	if !ok {
		return
	}
	if peers, ok := ix.out[key.Source]; ok {
		if edges, ok := peers[key.Target]; ok {
			delete(edges, verbID)
			if len(edges) == 0 {
				delete(peers, key.Target)
			}
		}
		if len(peers) == 0 {
			delete(ix.out, key.Source)
		}
	}
	if peers, ok := ix.in[key.Target]; ok {
		if edges, ok := peers[key.Source]; ok {
			delete(edges, verbID)
			if len(edges) == 0 {
				delete(peers, key.Source)
			}
		}
		if len(peers) == 0 {
			delete(ix.in, key.Target)
		}
	}
	delete(ix.verbIDs, verbID)
	ix.totalByType[key.Type]--
	ix.totalEdges--
}

// RemoveNode drops every edge touching id, in either direction — used
// by delete(id)'s documented cascade-delete-incident-verbs behavior.
func (ix *Index) RemoveNode(id string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var removed []string
	for target, edges := range ix.out[id] {
		for verbID := range edges {
			removed = append(removed, verbID)
		}
		_ = target
	}
	for source, edges := range ix.in[id] {
		for verbID := range edges {
			removed = append(removed, verbID)
		}
		_ = source
	}
	for _, verbID := range removed {
		ix.removeEdgeLocked(verbID)
	}
	return removed
}

// GetNeighbors returns the distinct peer ids reachable from id in dir.
func (ix *Index) GetNeighbors(id string, dir Direction) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]struct{})
	if dir == Out || dir == Both {
		for target := range ix.out[id] {
			seen[target] = struct{}{}
		}
	}
	if dir == In || dir == Both {
		for source := range ix.in[id] {
			seen[source] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for peer := range seen {
		out = append(out, peer)
	}
	return out
}

// GetVerbIDsBySource and GetVerbIDsByTarget enumerate the verb ids
// incident to id in one direction.
func (ix *Index) GetVerbIDsBySource(id string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for _, edges := range ix.out[id] {
		for verbID := range edges {
			out = append(out, verbID)
		}
	}
	return out
}

func (ix *Index) GetVerbIDsByTarget(id string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for _, edges := range ix.in[id] {
		for verbID := range edges {
			out = append(out, verbID)
		}
	}
	return out
}

// ExistingRelation implements the relate() dedup rule: if (source,
// target, verbType) already exists, return its verb id.
func (ix *Index) ExistingRelation(source, target string, verbType types.VerbType) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	edges, ok := ix.out[source][target]
	if !ok {
		return "", false
	}
	for verbID := range edges {
		if ix.verbIDs[verbID].Type == verbType {
			return verbID, true
		}
	}
	return "", false
}

func (ix *Index) TotalEdges() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.totalEdges
}

func (ix *Index) CountByType(t types.VerbType) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.totalByType[t]
}

// AllVerbIDs enumerates every tracked verb id, for rebuild/iteration.
func (ix *Index) AllVerbIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.verbIDs))
	for id := range ix.verbIDs {
		out = append(out, id)
	}
	return out
}
