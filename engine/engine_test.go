package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/query"
	"synapsedb.dev/synapsedb/types"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.StorageBackend = BackendMemory
	cfg.DisableAutoRebuild = false
	return cfg
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func vec(axis int, dim int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestAddGetUpdateDeleteRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddParams{
		Type:     types.NounPerson,
		Vector:   vec(0, 4),
		Metadata: map[string]types.MetadataValue{"name": types.Str("alice")},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := db.Get(ctx, id, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, vec(0, 4), got.Vector)

	require.NoError(t, db.Update(ctx, id, UpdateParams{
		Metadata: map[string]types.MetadataValue{"name": types.Str("alice2")},
	}))
	got, err = db.Get(ctx, id, false)
	require.NoError(t, err)
	require.Empty(t, got.Vector)
	require.Equal(t, types.Str("alice2"), got.Metadata["name"])

	require.NoError(t, db.Delete(ctx, id))
	got, err = db.Get(ctx, id, true)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.Get(context.Background(), "does-not-exist", true)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBatchGetSkipsMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id1, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)
	id2, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 4)})
	require.NoError(t, err)

	out, err := db.BatchGet(ctx, []string{id1, id2, "missing"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Contains(t, out, id1)
	require.Contains(t, out, id2)
}

func TestRelateDuplicateReturnsSameID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)
	b, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 4)})
	require.NoError(t, err)

	v1, err := db.Relate(ctx, RelateParams{From: a, To: b, Type: types.VerbRelatesTo})
	require.NoError(t, err)
	v2, err := db.Relate(ctx, RelateParams{From: a, To: b, Type: types.VerbRelatesTo})
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	rels, err := db.GetRelations(ctx, a)
	require.NoError(t, err)
	require.Len(t, rels, 1)
}

func TestRelateBidirectionalCreatesBothEdges(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)
	b, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 4)})
	require.NoError(t, err)

	forward, err := db.Relate(ctx, RelateParams{From: a, To: b, Type: types.VerbFollows, Bidirectional: true})
	require.NoError(t, err)

	rels, err := db.GetRelations(ctx, a)
	require.NoError(t, err)
	require.Len(t, rels, 2)

	// Relating again in either direction resolves to the existing pair.
	again, err := db.Relate(ctx, RelateParams{From: a, To: b, Type: types.VerbFollows, Bidirectional: true})
	require.NoError(t, err)
	require.Equal(t, forward, again)
	rels, err = db.GetRelations(ctx, a)
	require.NoError(t, err)
	require.Len(t, rels, 2)
}

func TestRelateMissingEndpointFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)

	_, err = db.Relate(ctx, RelateParams{From: a, To: "nope", Type: types.VerbRelatesTo})
	require.ErrorIs(t, err, types.ErrEndpointMissing)
}

func TestDeleteCascadesRelations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)
	b, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 4)})
	require.NoError(t, err)
	_, err = db.Relate(ctx, RelateParams{From: a, To: b, Type: types.VerbRelatesTo})
	require.NoError(t, err)

	require.NoError(t, db.Delete(ctx, a))

	rels, err := db.GetRelations(ctx, b)
	require.NoError(t, err)
	require.Empty(t, rels)
}

func TestSimilarCosineDistanceExample(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	origin, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 2)})
	require.NoError(t, err)
	_, err = db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 2)})
	require.NoError(t, err)

	page, err := db.Similar(ctx, SimilarParams{ID: origin, Limit: 2, NounTypes: []types.NounType{types.NounPerson}})
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	require.Equal(t, origin, page.Items[0].ID)
	// under the engine's cosine distance the orthogonal neighbor sits at distance 1,
	// so its fused score is hnsw.Similarity(1) == 1/(1+1) == 0.5.
}

func TestFindPaginationIsDisjoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(i%4, 4)})
		require.NoError(t, err)
	}

	page1, err := db.Find(ctx, query.FindParams{NounTypes: []types.NounType{types.NounPerson}, Limit: 2, Offset: 0})
	require.NoError(t, err)
	page2, err := db.Find(ctx, query.FindParams{NounTypes: []types.NounType{types.NounPerson}, Limit: 2, Offset: 2})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, n := range page1.Items {
		seen[n.ID] = true
	}
	for _, n := range page2.Items {
		require.False(t, seen[n.ID])
	}
}

func TestForkIsolatesWrites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4), Metadata: map[string]types.MetadataValue{"k": types.Int(1)}})
	require.NoError(t, err)

	fork, err := db.Fork(ctx, "feature")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fork.Close(context.Background()) })

	require.Equal(t, "feature", fork.Branch())

	gotInFork, err := fork.Get(ctx, id, true)
	require.NoError(t, err)
	require.NotNil(t, gotInFork)

	newID, err := fork.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 4)})
	require.NoError(t, err)

	gotInParent, err := db.Get(ctx, newID, true)
	require.NoError(t, err)
	require.Nil(t, gotInParent)
}

func TestForkDeleteDoesNotAffectParent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)

	fork, err := db.Fork(ctx, "cleanup")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fork.Close(context.Background()) })

	require.NoError(t, fork.Delete(ctx, id))

	gone, err := fork.Get(ctx, id, true)
	require.NoError(t, err)
	require.Nil(t, gone)

	kept, err := db.Get(ctx, id, true)
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Equal(t, 1, db.storageEng.Counts().NounCount(types.NounPerson))
}

func TestCommitAndAsOf(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4), Metadata: map[string]types.MetadataValue{"k": types.Int(1)}})
	require.NoError(t, err)

	hash, err := db.Commit(ctx, "initial snapshot", true, nil)
	require.NoError(t, err)

	require.NoError(t, db.Update(ctx, id, UpdateParams{Metadata: map[string]types.MetadataValue{"k": types.Int(2)}}))

	snap, err := db.AsOf(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, "initial snapshot", snap.Message())
	require.Equal(t, 1, snap.EntityCount())

	historical, err := snap.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, historical)
	require.Equal(t, types.Int(1), historical.Metadata["k"])

	current, err := db.Get(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, types.Int(2), current.Metadata["k"])
}

func TestDimensionMismatchIsRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)

	_, err = db.Add(ctx, AddParams{Type: types.NounPerson, Vector: []float32{1, 2, 3}})
	require.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.IndexM = 500 // out of the recognized 1..128 range
	_, err := Open(context.Background(), cfg, nil)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestBatchAddContinueOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	items := []AddParams{
		{Type: types.NounPerson, Vector: vec(0, 4)},
		{Type: types.NounPerson, Vector: []float32{1, 2}}, // wrong dimension
		{Type: types.NounPerson, Vector: vec(1, 4)},
	}

	res, err := db.BatchAdd(ctx, items, BatchOptions{ContinueOnError: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.IDs[0])
	require.Empty(t, res.IDs[1])
	require.NotEmpty(t, res.IDs[2])
	require.Len(t, res.Errors, 1)
	require.Equal(t, 1, res.Errors[0].Index)
	require.ErrorIs(t, res.Errors[0], types.ErrDimensionMismatch)
}

func TestBatchAddAbortsWithoutContinueOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	items := []AddParams{
		{Type: types.NounPerson, Vector: vec(0, 4)},
		{Type: types.NounPerson, Vector: []float32{1, 2}},
		{Type: types.NounPerson, Vector: vec(1, 4)},
	}

	res, err := db.BatchAdd(ctx, items, BatchOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrDimensionMismatch)
	// the first item landed before the failure aborted the batch
	require.NotEmpty(t, res.IDs[0])
	require.Empty(t, res.IDs[2])
}

func TestSnapshotFindReturnsPreEditState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)
	b, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(1, 4)})
	require.NoError(t, err)
	_, err = db.Relate(ctx, RelateParams{From: a, To: b, Type: types.VerbRelatesTo})
	require.NoError(t, err)

	hash, err := db.Commit(ctx, "v1", true, nil)
	require.NoError(t, err)

	require.NoError(t, db.Delete(ctx, a))
	require.NoError(t, db.Delete(ctx, b))

	snap, err := db.AsOf(ctx, hash)
	require.NoError(t, err)

	page, err := snap.Find(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.ElementsMatch(t, []string{a, b}, []string{page.Items[0].ID, page.Items[1].ID})

	rels, err := snap.Relations(ctx)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, a, rels[0].Source)
}

func TestCountsRecoveredAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.StorageBackend = BackendLocalFS
	cfg.LocalFSPath = dir
	ctx := context.Background()

	db, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(i%4, 4)})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close(ctx))

	reopened, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close(context.Background()) })
	require.Equal(t, 3, reopened.storageEng.Counts().NounCount(types.NounPerson))
}

func TestFlushAndClose(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.Add(ctx, AddParams{Type: types.NounPerson, Vector: vec(0, 4)})
	require.NoError(t, err)

	require.NoError(t, db.Flush(ctx))
	require.True(t, db.Ready())
}
