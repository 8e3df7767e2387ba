package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/types"
)

func newTestEngine() *Engine {
	return New(Config{Backend: objstore.NewMemoryBackend(), Branch: "main"})
}

func testNoun(id string, t types.NounType) *types.Noun {
	now := time.Now()
	return &types.Noun{
		ID:        id,
		Type:      t,
		Vector:    []float32{1, 2, 3},
		Metadata:  map[string]types.MetadataValue{"name": types.Str(id)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestEngineSaveAndGetNoun(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	n := testNoun("n1", types.NounPerson)

	require.NoError(t, e.SaveNoun(ctx, n))

	got, err := e.GetNoun(ctx, types.NounPerson, "n1")
	require.NoError(t, err)
	require.Equal(t, n.Vector, got.Vector)
	require.Equal(t, n.Metadata, got.Metadata)
}

func TestEngineGetNounMissing(t *testing.T) {
	e := newTestEngine()
	_, err := e.GetNoun(context.Background(), types.NounPerson, "missing")
	require.Error(t, err)
}

func TestEngineGetNounMetadataSkipsVector(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	n := testNoun("n1", types.NounPerson)
	require.NoError(t, e.SaveNoun(ctx, n))

	meta, err := e.GetNounMetadata(ctx, types.NounPerson, "n1")
	require.NoError(t, err)
	require.Empty(t, meta.Vector)
	require.Equal(t, n.Metadata, meta.Metadata)
}

func TestEngineGetNounBatch(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.SaveNoun(ctx, testNoun("n1", types.NounPerson)))
	require.NoError(t, e.SaveNoun(ctx, testNoun("n2", types.NounPerson)))

	refs := []NounRef{NewNounRef("n1", types.NounPerson), NewNounRef("n2", types.NounPerson), NewNounRef("missing", types.NounPerson)}
	batch, err := e.GetNounBatch(ctx, refs)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Contains(t, batch, "n1")
	require.Contains(t, batch, "n2")
	require.NotContains(t, batch, "missing")
}

func TestEngineDeleteNoun(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.SaveNoun(ctx, testNoun("n1", types.NounPerson)))
	require.NoError(t, e.DeleteNoun(ctx, types.NounPerson, "n1"))

	_, err := e.GetNoun(ctx, types.NounPerson, "n1")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestEngineVerbRoundTrip(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	v := &types.Verb{ID: "v1", Source: "a", Target: "b", Type: types.VerbRelatesTo, Weight: 0.5, CreatedAt: time.Now()}
	require.NoError(t, e.SaveVerb(ctx, v))

	got, err := e.GetVerb(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, v.Source, got.Source)
	require.Equal(t, v.Target, got.Target)

	require.NoError(t, e.DeleteVerb(ctx, "v1"))
	_, err = e.GetVerb(ctx, "v1")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestEngineScanNounsPaginates(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.SaveNoun(ctx, testNoun(string(rune('a'+i)), types.NounPerson)))
	}

	page1, err := e.ScanNouns(ctx, types.NounPerson, Pagination{Limit: 2, Offset: 0}, nil)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	require.True(t, page1.HasMore)
	require.Equal(t, 5, *page1.Total)

	page2, err := e.ScanNouns(ctx, types.NounPerson, Pagination{Limit: 2, Offset: 2}, nil)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	require.True(t, page2.HasMore)

	page3, err := e.ScanNouns(ctx, types.NounPerson, Pagination{Limit: 2, Offset: 4}, nil)
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	require.False(t, page3.HasMore)
}

func TestEngineScanVerbs(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.SaveVerb(ctx, &types.Verb{ID: "v1", Source: "a", Target: "b", CreatedAt: time.Now()}))
	require.NoError(t, e.SaveVerb(ctx, &types.Verb{ID: "v2", Source: "b", Target: "c", CreatedAt: time.Now()}))

	var seen []string
	require.NoError(t, e.ScanVerbs(ctx, func(v *types.Verb) error {
		seen = append(seen, v.ID)
		return nil
	}))
	require.ElementsMatch(t, []string{"v1", "v2"}, seen)
}

func TestCountsIncrementAndFlush(t *testing.T) {
	c := NewCounts()
	c.IncNoun(types.NounPerson, 3)
	c.IncNoun(types.NounOrganization, 1)
	c.IncVerb(types.VerbRelatesTo, 2)

	require.Equal(t, 4, c.TotalNouns())
	require.Equal(t, 2, c.TotalVerbs())
	require.Equal(t, 3, c.NounCount(types.NounPerson))

	backend := objstore.NewMemoryBackend()
	paths := Paths{Branch: "main"}
	require.NoError(t, c.Flush(context.Background(), backend, paths))

	loaded, err := LoadCounts(context.Background(), backend, paths)
	require.NoError(t, err)
	require.Equal(t, 4, loaded.TotalNouns())
	require.Equal(t, 2, loaded.TotalVerbs())
}

func TestRecoverCountsPrefersPersistedObject(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.Counts().IncNoun(types.NounPerson, 7)
	require.NoError(t, e.Flush(ctx))

	fresh := New(Config{Backend: e.Backend(), Branch: "main"})
	require.NoError(t, fresh.RecoverCounts(ctx))
	require.Equal(t, 7, fresh.Counts().NounCount(types.NounPerson))
}

func TestRecoverCountsRecountsWhenObjectAbsent(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.SaveNoun(ctx, testNoun("n1", types.NounPerson)))
	require.NoError(t, e.SaveNoun(ctx, testNoun("n2", types.NounPerson)))
	require.NoError(t, e.SaveNoun(ctx, testNoun("n3", types.NounOrganization)))
	require.NoError(t, e.SaveVerb(ctx, &types.Verb{ID: "v1", Source: "n1", Target: "n2", Type: types.VerbRelatesTo, CreatedAt: time.Now()}))

	// No Flush: the counts object does not exist, so recovery must fall
	// back to recounting from storage.
	fresh := New(Config{Backend: e.Backend(), Branch: "main"})
	require.NoError(t, fresh.RecoverCounts(ctx))
	require.Equal(t, 2, fresh.Counts().NounCount(types.NounPerson))
	require.Equal(t, 1, fresh.Counts().NounCount(types.NounOrganization))
	require.Equal(t, 1, fresh.Counts().VerbCount(types.VerbRelatesTo))
}

func TestForkedEngineReadsThroughToParent(t *testing.T) {
	parent := newTestEngine()
	ctx := context.Background()
	require.NoError(t, parent.SaveNoun(ctx, testNoun("n1", types.NounPerson)))

	child := New(Config{Backend: parent.Backend(), Branch: "fork", Parent: parent})

	// Inherited read: nothing was copied, the child resolves the
	// parent's record through the fallback.
	got, err := child.GetNoun(ctx, types.NounPerson, "n1")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, got.Vector)

	// Divergence: a child write shadows the parent's copy without
	// touching it.
	diverged := testNoun("n1", types.NounPerson)
	diverged.Metadata = map[string]types.MetadataValue{"name": types.Str("forked")}
	require.NoError(t, child.SaveNoun(ctx, diverged))

	got, err = child.GetNoun(ctx, types.NounPerson, "n1")
	require.NoError(t, err)
	require.Equal(t, types.Str("forked"), got.Metadata["name"])

	orig, err := parent.GetNoun(ctx, types.NounPerson, "n1")
	require.NoError(t, err)
	require.Equal(t, types.Str("n1"), orig.Metadata["name"])
}

func TestForkedEngineDeleteTombstones(t *testing.T) {
	parent := newTestEngine()
	ctx := context.Background()
	require.NoError(t, parent.SaveNoun(ctx, testNoun("n1", types.NounPerson)))

	child := New(Config{Backend: parent.Backend(), Branch: "fork", Parent: parent})
	require.NoError(t, child.DeleteNoun(ctx, types.NounPerson, "n1"))

	// Deleted on the child: the tombstone stops the parent's copy from
	// shining through.
	_, err := child.GetNoun(ctx, types.NounPerson, "n1")
	require.ErrorIs(t, err, types.ErrNotFound)

	// The parent's copy is untouched.
	_, err = parent.GetNoun(ctx, types.NounPerson, "n1")
	require.NoError(t, err)

	// Scans skip tombstoned ids too.
	page, err := child.ScanNouns(ctx, types.NounPerson, Pagination{Limit: 10}, nil)
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestForkedEngineScanUnionsChain(t *testing.T) {
	parent := newTestEngine()
	ctx := context.Background()
	require.NoError(t, parent.SaveNoun(ctx, testNoun("n1", types.NounPerson)))

	child := New(Config{Backend: parent.Backend(), Branch: "fork", Parent: parent})
	require.NoError(t, child.SaveNoun(ctx, testNoun("n2", types.NounPerson)))

	page, err := child.ScanNouns(ctx, types.NounPerson, Pagination{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	// The parent never sees the child's additions.
	page, err = parent.ScanNouns(ctx, types.NounPerson, Pagination{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestParentMarkerRoundTrip(t *testing.T) {
	backend := objstore.NewMemoryBackend()
	ctx := context.Background()

	got, err := ReadParentMarker(ctx, backend, "main")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, WriteParentMarker(ctx, backend, "fork", "main"))
	got, err = ReadParentMarker(ctx, backend, "fork")
	require.NoError(t, err)
	require.Equal(t, "main", got)
}

func TestShardForIsStableAndBounded(t *testing.T) {
	s1 := ShardFor("some-id")
	s2 := ShardFor("some-id")
	require.Equal(t, s1, s2)
	require.Len(t, s1, 2)
}
