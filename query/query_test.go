package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/graphidx"
	"synapsedb.dev/synapsedb/hnsw"
	"synapsedb.dev/synapsedb/metaindex"
	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/storage"
	"synapsedb.dev/synapsedb/types"
)

func vec(axis int) []float32 {
	v := make([]float32, 4)
	v[axis] = 1
	return v
}

func seedFixture(t *testing.T) *Coordinator {
	t.Helper()
	st := storage.New(storage.Config{Backend: objstore.NewMemoryBackend(), Branch: "main"})
	meta := metaindex.NewIndex()
	graph := graphidx.NewIndex()
	idx := hnsw.NewTypedIndex(hnsw.Params{M: 8, EfConstruction: 32, EfSearch: 16, Dist: hnsw.EuclideanDistance}, nil, hnsw.Immediate)

	ctx := context.Background()
	people := []struct {
		id   string
		name string
		age  int64
		axis int
	}{
		{"alice", "alice", 30, 0},
		{"bob", "bob", 25, 1},
		{"carol", "carol", 40, 2},
	}
	for _, p := range people {
		n := &types.Noun{
			ID:   p.id,
			Type: types.NounPerson,
			Vector: vec(p.axis),
			Metadata: map[string]types.MetadataValue{
				"name": types.Str(p.name),
				"age":  types.Int(p.age),
			},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		require.NoError(t, st.SaveNoun(ctx, n))
		meta.AddToIndex(p.id, types.NounPerson, n.Metadata)
		require.NoError(t, idx.Add(ctx, types.NounPerson, p.id, n.Vector))
	}
	graph.AddEdge("r1", "alice", "bob", types.VerbRelatesTo)
	graph.AddEdge("r2", "alice", "carol", types.VerbMentions)

	return &Coordinator{Storage: st, HNSW: idx, Meta: meta, Graph: graph}
}

func TestFindMetadataOnly(t *testing.T) {
	c := seedFixture(t)
	page, err := c.Find(context.Background(), FindParams{
		Filter: metaindex.Range("age", ptrMeta(types.Int(26)), nil),
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	ids := idsOf(page.Items)
	require.ElementsMatch(t, []string{"alice", "carol"}, ids)
}

func TestFindEmptyFallsBackToScan(t *testing.T) {
	c := seedFixture(t)
	page, err := c.Find(context.Background(), FindParams{NounTypes: []types.NounType{types.NounPerson}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
}

func TestFindMixedVectorFusesWithFilter(t *testing.T) {
	c := seedFixture(t)
	page, err := c.Find(context.Background(), FindParams{
		Vector:    vec(0),
		VectorK:   10,
		NounTypes: []types.NounType{types.NounPerson},
		Filter:    metaindex.Exists("age"),
		Limit:     10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	require.Equal(t, "alice", page.Items[0].ID)
}

func TestFindGraphConstraint(t *testing.T) {
	c := seedFixture(t)
	page, err := c.Find(context.Background(), FindParams{
		Graph: &GraphConstraint{From: "alice", Direction: graphidx.Out},
		Limit: 10,
	})
	require.NoError(t, err)
	ids := idsOf(page.Items)
	require.ElementsMatch(t, []string{"bob", "carol"}, ids)
}

func TestFindPaginationIsDisjoint(t *testing.T) {
	c := seedFixture(t)
	page1, err := c.Find(context.Background(), FindParams{NounTypes: []types.NounType{types.NounPerson}, Limit: 2, Offset: 0})
	require.NoError(t, err)
	page2, err := c.Find(context.Background(), FindParams{NounTypes: []types.NounType{types.NounPerson}, Limit: 2, Offset: 2})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, n := range page1.Items {
		seen[n.ID] = true
	}
	for _, n := range page2.Items {
		require.False(t, seen[n.ID], "id %s appeared in both pages", n.ID)
	}
}

func TestFuseStrategies(t *testing.T) {
	bySource := map[string][]Hit{
		"vector": {{ID: "a", Score: 1.0}, {ID: "b", Score: 0.4}},
		"graph":  {{ID: "a", Score: 1.0}},
	}
	weights := FusionWeights{Vector: 1, Metadata: 1, Graph: 1}

	maxFused := fuse(FusionMax, weights, bySource)
	avgFused := fuse(FusionAverage, weights, bySource)
	weightedFused := fuse(FusionWeighted, weights, bySource)

	require.Len(t, maxFused, 2)
	require.Len(t, avgFused, 2)
	require.Len(t, weightedFused, 2)

	find := func(hits []Hit, id string) float64 {
		for _, h := range hits {
			if h.ID == id {
				return h.Score
			}
		}
		t.Fatalf("id %s not found", id)
		return 0
	}
	require.InDelta(t, 1.0, find(maxFused, "a"), 1e-9)
	require.InDelta(t, 1.0, find(avgFused, "a"), 1e-9)
	require.InDelta(t, 2.0, find(weightedFused, "a"), 1e-9)

	// Per-source weights scale scores only under the weighted strategy;
	// max and average always work on the raw sub-search scores.
	skewed := DefaultFusionWeights()
	require.InDelta(t, 1.0, find(fuse(FusionMax, skewed, bySource), "a"), 1e-9)
	require.InDelta(t, 1.0, find(fuse(FusionAverage, skewed, bySource), "a"), 1e-9)
	require.InDelta(t, 0.8, find(fuse(FusionWeighted, skewed, bySource), "a"), 1e-9)
}

func idsOf(items []*types.Noun) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func ptrMeta(v types.MetadataValue) *types.MetadataValue { return &v }
