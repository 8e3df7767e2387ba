// Package query implements the query coordinator: plan
// selection across the metadata index, the HNSW vector index, and the
// graph adjacency index, score fusion, and pagination.
package query

import (
	"context"
	"sort"
	"sync"

	"synapsedb.dev/synapsedb/graphidx"
	"synapsedb.dev/synapsedb/hnsw"
	"synapsedb.dev/synapsedb/metaindex"
	"synapsedb.dev/synapsedb/storage"
	"synapsedb.dev/synapsedb/types"
)

// FusionStrategy selects how sub-search scores for the same id combine.
type FusionStrategy string

const (
	FusionMax      FusionStrategy = "max"
	FusionAverage  FusionStrategy = "average"
	FusionWeighted FusionStrategy = "weighted"
)

// FusionWeights are the per-source weights used by FusionWeighted.
type FusionWeights struct {
	Vector   float64
	Metadata float64
	Graph    float64
}

// DefaultFusionWeights is the default convex combination for weighted
// fusion.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Vector: 0.7, Metadata: 0.2, Graph: 0.1}
}

// OrderBy overrides score-descending ordering with a field-value sort.
type OrderBy struct {
	Field string
	Dir   string // "asc" or "desc"
}

// GraphConstraint restricts results to the neighbors of a node.
type GraphConstraint struct {
	From      string
	To        string
	Direction graphidx.Direction
}

// FindParams are the query coordinator's inputs.
type FindParams struct {
	Filter    *metaindex.Filter
	Vector    []float32      // optional vector query
	VectorK   int            // candidates to pull from HNSW before fusion
	NounTypes []types.NounType
	Proximity *GraphConstraint // optional graph-neighbor query used as a second "source"
	Graph     *GraphConstraint // optional hard graph constraint (plan 4)

	Limit  int
	Offset int

	OrderBy *OrderBy
	Fusion  FusionStrategy
	Weights FusionWeights
}

// Hit is one scored result before the final entity load.
type Hit struct {
	ID    string
	Score float64
}

// Page is the coordinator's paginated result.
type Page struct {
	Items      []*types.Noun
	HasMore    bool
	NextCursor string
	Total      *int
}

// Coordinator ties the three indexes and storage together to answer
// find()/similar() queries.
type Coordinator struct {
	Storage *storage.Engine
	HNSW    *hnsw.Index
	Meta    *metaindex.Index
	Graph   *graphidx.Index
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}

// Find picks a plan from which inputs are present and returns a page
// of fully-loaded entities.
func (c *Coordinator) Find(ctx context.Context, p FindParams) (*Page, error) {
	limit := limitOrDefault(p.Limit)
	hasVectorOrProximity := len(p.Vector) > 0 || p.Proximity != nil
	hasGraph := p.Graph != nil

	switch {
	case hasGraph:
		return c.findGraph(ctx, p, limit)
	case hasVectorOrProximity:
		return c.findMixed(ctx, p, limit)
	case p.Filter != nil:
		return c.findMetadataOnly(ctx, p, limit)
	default:
		return c.findEmpty(ctx, p, limit)
	}
}

// findMetadataOnly computes ids from the metadata index, paginates the
// id list, then batch-loads only the page.
func (c *Coordinator) findMetadataOnly(ctx context.Context, p FindParams, limit int) (*Page, error) {
	ids, err := c.Meta.GetIDsForFilter(p.Filter)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	total := len(ids)
	page, hasMore := paginateIDs(ids, p.Offset, limit)
	items, err := c.loadByIDs(ctx, page, p.NounTypes)
	if err != nil {
		return nil, err
	}
	result := &Page{Items: items, HasMore: hasMore, Total: &total}
	if hasMore {
		result.NextCursor = cursorFor(p.Offset + limit)
	}
	return result, nil
}

// findEmpty falls back to a raw storage scan, used when
// there is no filter, vector, proximity, or graph constraint at all.
func (c *Coordinator) findEmpty(ctx context.Context, p FindParams, limit int) (*Page, error) {
	nounType := types.NounType(0)
	if len(p.NounTypes) > 0 {
		nounType = p.NounTypes[0]
	}
	sp, err := c.Storage.ScanNouns(ctx, nounType, storage.Pagination{Limit: limit, Offset: p.Offset}, nil)
	if err != nil {
		return nil, err
	}
	total := 0
	if sp.Total != nil {
		total = *sp.Total
	}
	return &Page{Items: sp.Items, HasMore: sp.HasMore, NextCursor: sp.NextCursor, Total: &total}, nil
}

// findMixed dispatches vector search and proximity search in parallel,
// unions and dedups by id combining each id's scores with the requested
// fusion strategy (the higher score under the default, max), intersects with the
// metadata filter as an id-set, then paginates.
func (c *Coordinator) findMixed(ctx context.Context, p FindParams, limit int) (*Page, error) {
	var wg sync.WaitGroup
	var vectorHits, proximityHits []Hit

	if len(p.Vector) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := p.VectorK
			if k <= 0 {
				k = limit + p.Offset + 50
			}
			results := c.HNSW.Search(p.Vector, k, 0, p.NounTypes)
			vectorHits = make([]Hit, len(results))
			for i, r := range results {
				vectorHits[i] = Hit{ID: r.ID, Score: float64(hnsw.Similarity(r.Distance))}
			}
		}()
	}
	if p.Proximity != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			neighbors := c.Graph.GetNeighbors(proximityAnchor(p.Proximity), p.Proximity.Direction)
			proximityHits = make([]Hit, len(neighbors))
			for i, id := range neighbors {
				proximityHits[i] = Hit{ID: id, Score: 1}
			}
		}()
	}
	wg.Wait()

	fused := fuse(p.Fusion, weightsOrDefault(p.Weights), map[string][]Hit{
		"vector": vectorHits,
		"graph":  proximityHits,
	})

	if p.Filter != nil {
		allowed, err := c.Meta.GetIDsForFilter(p.Filter)
		if err != nil {
			return nil, err
		}
		fused = intersectByID(fused, allowed)
	}

	return c.finalize(ctx, fused, p, limit)
}

// findGraph traverses the adjacency index using From/To + Direction; if
// other results already exist (a filter was also given) it intersects
// with the neighbor set, otherwise the neighbors themselves are the base
// result set.
func (c *Coordinator) findGraph(ctx context.Context, p FindParams, limit int) (*Page, error) {
	neighbors := c.Graph.GetNeighbors(proximityAnchor(p.Graph), p.Graph.Direction)
	hits := make([]Hit, len(neighbors))
	for i, id := range neighbors {
		hits[i] = Hit{ID: id, Score: 1}
	}

	if p.Filter != nil {
		allowed, err := c.Meta.GetIDsForFilter(p.Filter)
		if err != nil {
			return nil, err
		}
		hits = intersectByID(hits, allowed)
	}

	return c.finalize(ctx, hits, p, limit)
}

func proximityAnchor(gc *GraphConstraint) string {
	if gc.From != "" {
		return gc.From
	}
	return gc.To
}

// finalize sorts (by OrderBy if given, else score desc), paginates, and
// batch-loads the resulting page — entity load happens only for the
// final page, never for the full candidate set.
func (c *Coordinator) finalize(ctx context.Context, hits []Hit, p FindParams, limit int) (*Page, error) {
	if p.OrderBy != nil {
		sorted, err := c.Meta.GetSortedIDsForFilter(p.Filter, p.OrderBy.Field, p.OrderBy.Dir)
		if err == nil {
			hits = reorderByIDs(hits, sorted)
		}
	} else {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}

	total := len(hits)
	page, hasMore := paginateHits(hits, p.Offset, limit)
	ids := make([]string, len(page))
	for i, h := range page {
		ids[i] = h.ID
	}
	items, err := c.loadByIDs(ctx, ids, p.NounTypes)
	if err != nil {
		return nil, err
	}
	result := &Page{Items: items, HasMore: hasMore, Total: &total}
	if hasMore {
		result.NextCursor = cursorFor(p.Offset + limit)
	}
	return result, nil
}

func reorderByIDs(hits []Hit, order []string) []Hit {
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	out := append([]Hit(nil), hits...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, oki := rank[out[i].ID]
		rj, okj := rank[out[j].ID]
		if !oki {
			ri = len(order)
		}
		if !okj {
			rj = len(order)
		}
		return ri < rj
	})
	return out
}

// loadByIDs batch-loads entities by id, trying each candidate noun type
// in turn when the caller didn't narrow the search; the coordinator keeps
// no id->type index of its own.
func (c *Coordinator) loadByIDs(ctx context.Context, ids []string, nounTypes []types.NounType) ([]*types.Noun, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	candidateTypes := nounTypes
	if len(candidateTypes) == 0 {
		for i := 0; i < types.NounTypeCount(); i++ {
			candidateTypes = append(candidateTypes, types.NounType(i))
		}
	}

	found := make(map[string]*types.Noun, len(ids))
	remaining := append([]string(nil), ids...)
	for _, t := range candidateTypes {
		if len(remaining) == 0 {
			break
		}
		refs := make([]storage.NounRef, len(remaining))
		for i, id := range remaining {
			refs[i] = storage.NewNounRef(id, t)
		}
		batch, err := c.Storage.GetNounBatch(ctx, refs)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, id := range remaining {
			if n, ok := batch[id]; ok {
				found[id] = n
			} else {
				next = append(next, id)
			}
		}
		remaining = next
	}

	out := make([]*types.Noun, 0, len(ids))
	for _, id := range ids {
		if n, ok := found[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func paginateIDs(ids []string, offset, limit int) ([]string, bool) {
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	hasMore := end < len(ids)
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], hasMore
}

func paginateHits(hits []Hit, offset, limit int) ([]Hit, bool) {
	if offset > len(hits) {
		offset = len(hits)
	}
	end := offset + limit
	hasMore := end < len(hits)
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end], hasMore
}

func cursorFor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return itoa(offset)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func intersectByID(hits []Hit, allowed []string) []Hit {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	out := hits[:0:0]
	for _, h := range hits {
		if _, ok := set[h.ID]; ok {
			out = append(out, h)
		}
	}
	return out
}

func weightsOrDefault(w FusionWeights) FusionWeights {
	if w.Vector == 0 && w.Metadata == 0 && w.Graph == 0 {
		return DefaultFusionWeights()
	}
	return w
}

// fuse combines per-source hit lists into one deduplicated, scored list
// using the requested strategy.
func fuse(strategy FusionStrategy, weights FusionWeights, bySource map[string][]Hit) []Hit {
	type acc struct {
		sum  float64 // raw scores, for FusionAverage
		wsum float64 // weight-scaled scores, for FusionWeighted
		max  float64
		n    int
	}
	scores := make(map[string]*acc)
	order := []string{}

	weightFor := func(source string) float64 {
		switch source {
		case "vector":
			return weights.Vector
		case "metadata":
			return weights.Metadata
		case "graph":
			return weights.Graph
		default:
			return 1
		}
	}

	for source, hits := range bySource {
		w := weightFor(source)
		for _, h := range hits {
			a, ok := scores[h.ID]
			if !ok {
				a = &acc{}
				scores[h.ID] = a
				order = append(order, h.ID)
			}
			a.sum += h.Score
			a.wsum += h.Score * w
			if h.Score > a.max {
				a.max = h.Score
			}
			a.n++
		}
	}

	out := make([]Hit, len(order))
	for i, id := range order {
		a := scores[id]
		var score float64
		switch strategy {
		case FusionAverage:
			score = a.sum / float64(a.n)
		case FusionWeighted:
			score = a.wsum
		default: // FusionMax
			score = a.max
		}
		out[i] = Hit{ID: id, Score: score}
	}
	return out
}
