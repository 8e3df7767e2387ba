package engine

import (
	"context"
	"fmt"

	"synapsedb.dev/synapsedb/query"
	"synapsedb.dev/synapsedb/types"
)

// Find executes a query across the metadata index, the HNSW vector
// index, and the graph adjacency index via the query coordinator,
// triggering a lazy cold-start rebuild first if one hasn't
// happened yet.
func (db *Database) Find(ctx context.Context, p query.FindParams) (*query.Page, error) {
	if err := db.ensureRebuilt(ctx); err != nil {
		return nil, err
	}
	if p.Limit <= 0 || p.Limit > db.cfg.MaxQueryLimit {
		p.Limit = db.cfg.MaxQueryLimit
	}
	return db.coordinator.Find(ctx, p)
}

// SimilarParams are similar()'s inputs: either an existing
// entity id (its stored vector is used) or an explicit vector must be
// given.
type SimilarParams struct {
	ID        string
	Vector    []float32
	Limit     int
	NounTypes []types.NounType
	Filter    *query.FindParams // optional metadata filter/graph constraint layered on top
}

// Similar runs nearest-neighbor search seeded by an id or an explicit
// vector").
func (db *Database) Similar(ctx context.Context, p SimilarParams) (*query.Page, error) {
	if err := db.ensureRebuilt(ctx); err != nil {
		return nil, err
	}

	vec := p.Vector
	if len(vec) == 0 {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: similar requires an id or a vector", types.ErrVectorRequired)
		}
		n, err := db.resolveNoun(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("%w: noun %s", types.ErrNotFound, p.ID)
		}
		vec = n.Vector
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: seed entity has no vector", types.ErrVectorRequired)
	}

	fp := query.FindParams{Limit: p.Limit, NounTypes: p.NounTypes, Vector: vec}
	if p.Filter != nil {
		fp.Filter = p.Filter.Filter
		fp.Graph = p.Filter.Graph
		fp.Proximity = p.Filter.Proximity
		fp.OrderBy = p.Filter.OrderBy
		fp.Fusion = p.Filter.Fusion
		fp.Weights = p.Filter.Weights
	}
	if fp.Limit <= 0 || fp.Limit > db.cfg.MaxQueryLimit {
		fp.Limit = db.cfg.MaxQueryLimit
	}
	return db.coordinator.Find(ctx, fp)
}
