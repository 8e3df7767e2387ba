package graphidx

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/types"
)

func TestAddEdgeAndGetNeighbors(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.AddEdge("v2", "a", "c", types.VerbMentions)

	out := ix.GetNeighbors("a", Out)
	sort.Strings(out)
	require.Equal(t, []string{"b", "c"}, out)

	in := ix.GetNeighbors("b", In)
	require.Equal(t, []string{"a"}, in)

	both := ix.GetNeighbors("a", Both)
	sort.Strings(both)
	require.Equal(t, []string{"b", "c"}, both)

	require.Equal(t, 2, ix.TotalEdges())
	require.Equal(t, 1, ix.CountByType(types.VerbRelatesTo))
}

func TestAddEdgeIsIdempotentOnVerbID(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)

	require.Equal(t, 1, ix.TotalEdges())
	require.Equal(t, []string{"b"}, ix.GetNeighbors("a", Out))
}

func TestRemoveEdgeIsSymmetric(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.RemoveEdge("v1")

	require.Empty(t, ix.GetNeighbors("a", Out))
	require.Empty(t, ix.GetNeighbors("b", In))
	require.Equal(t, 0, ix.TotalEdges())

	_, ok := ix.ExistingRelation("a", "b", types.VerbRelatesTo)
	require.False(t, ok)
}

func TestRemoveNodeCascadesBothDirections(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.AddEdge("v2", "c", "a", types.VerbMentions)
	ix.AddEdge("v3", "b", "c", types.VerbRelatesTo)

	removed := ix.RemoveNode("a")
	sort.Strings(removed)
	require.Equal(t, []string{"v1", "v2"}, removed)

	require.Empty(t, ix.GetNeighbors("a", Both))
	require.Equal(t, []string{"c"}, ix.GetNeighbors("b", Out))
	require.Equal(t, 1, ix.TotalEdges())
}

func TestExistingRelationDedup(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)

	id, ok := ix.ExistingRelation("a", "b", types.VerbRelatesTo)
	require.True(t, ok)
	require.Equal(t, "v1", id)

	_, ok = ix.ExistingRelation("a", "b", types.VerbMentions)
	require.False(t, ok)
}

func TestGetVerbIDsBySourceAndTarget(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.AddEdge("v2", "a", "c", types.VerbMentions)

	src := ix.GetVerbIDsBySource("a")
	sort.Strings(src)
	require.Equal(t, []string{"v1", "v2"}, src)

	tgt := ix.GetVerbIDsByTarget("b")
	require.Equal(t, []string{"v1"}, tgt)
}

func TestAllVerbIDs(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.AddEdge("v2", "b", "c", types.VerbMentions)

	all := ix.AllVerbIDs()
	sort.Strings(all)
	require.Equal(t, []string{"v1", "v2"}, all)
}

type fakeVerbLoader struct {
	verbs map[string]*types.Verb
}

func (f *fakeVerbLoader) GetVerbBatch(ctx context.Context, ids []string) (map[string]*types.Verb, error) {
	out := make(map[string]*types.Verb)
	for _, id := range ids {
		if v, ok := f.verbs[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func TestGetVerbsBatchCached(t *testing.T) {
	ix := NewIndex()
	ix.AddEdge("v1", "a", "b", types.VerbRelatesTo)
	ix.AddEdge("v2", "a", "c", types.VerbMentions)

	loader := &fakeVerbLoader{verbs: map[string]*types.Verb{
		"v1": {ID: "v1", Source: "a", Target: "b"},
		"v2": {ID: "v2", Source: "a", Target: "c"},
	}}

	out, err := ix.GetVerbsBatchCached(context.Background(), loader, ix.GetVerbIDsBySource("a"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Contains(t, out, "v1")
	require.Contains(t, out, "v2")
}
