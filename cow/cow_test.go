package cow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/blob"
	"synapsedb.dev/synapsedb/objstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Backend: objstore.NewMemoryBackend(), InitialBranch: "main"})
	require.NoError(t, err)
	return m
}

func TestRefManagerGetSetCopyDelete(t *testing.T) {
	ctx := context.Background()
	refs := NewRefManager(objstore.NewMemoryBackend(), "_cow/refs")

	h, err := refs.GetRef(ctx, "main")
	require.NoError(t, err)
	require.True(t, h.IsNull())

	commitHash := blob.ComputeHash(blob.KindCommit, []byte("fake commit bytes"))
	require.NoError(t, refs.SetRef(ctx, "main", commitHash, map[string]string{"k": "v"}))

	got, err := refs.GetRef(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, commitHash, got)

	require.NoError(t, refs.CopyRef(ctx, "main", "feature"))
	got2, err := refs.GetRef(ctx, "feature")
	require.NoError(t, err)
	require.Equal(t, commitHash, got2)

	names, err := refs.ListRefs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main", "feature"}, names)

	require.NoError(t, refs.DeleteRef(ctx, "feature"))
	names, err = refs.ListRefs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main"}, names)
}

func TestManagerCommitWithoutCaptureState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	h, err := m.Commit(ctx, nil, CommitOptions{Message: "first", Author: "tester"})
	require.NoError(t, err)
	require.False(t, h.IsNull())

	c, err := ReadCommit(ctx, m.Store(), h)
	require.NoError(t, err)
	require.True(t, c.TreeHash.IsNull())
	require.True(t, c.ParentHash.IsNull())
}

type fakeStateSource struct {
	entities  map[string][]byte
	relations []relTuple
}

type relTuple struct {
	source, target, verbType string
	data                     []byte
}

func (f *fakeStateSource) EachEntity(ctx context.Context, yield func(id string, data []byte) error) error {
	for id, data := range f.entities {
		if err := yield(id, data); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStateSource) EachRelation(ctx context.Context, yield func(source, target, verbType string, data []byte) error) error {
	for _, r := range f.relations {
		if err := yield(r.source, r.target, r.verbType, r.data); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStateSource) EntityCount() int   { return len(f.entities) }
func (f *fakeStateSource) RelationCount() int { return len(f.relations) }

func TestManagerCommitWithCaptureStateThenAsOf(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	src := &fakeStateSource{
		entities: map[string][]byte{"e1": []byte(`{"id":"e1"}`)},
		relations: []relTuple{
			{source: "e1", target: "e2", verbType: "likes", data: []byte(`{"w":1}`)},
		},
	}

	h, err := m.Commit(ctx, src, CommitOptions{Message: "snapshot", Author: "tester", CaptureState: true})
	require.NoError(t, err)

	tree, c, err := m.AsOf(ctx, h)
	require.NoError(t, err)
	require.Equal(t, 1, c.EntityCount)
	require.Equal(t, 1, c.RelationCount)

	_, ok := tree.Get("entities/e1")
	require.True(t, ok)
	_, ok = tree.Get("relations/e1-e2-likes")
	require.True(t, ok)
}

func TestManagerForkIsInstantaneousRefCopy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	head, err := m.Fork(ctx, "experiment", "tester")
	require.NoError(t, err)

	mainHead, err := m.Head(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, mainHead, head)

	_, err = m.Fork(ctx, "experiment", "tester")
	require.Error(t, err)
}

func TestManagerCheckoutRejectsFrozenBranch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	h, err := m.Commit(ctx, nil, CommitOptions{Message: "m1", Author: "tester"})
	require.NoError(t, err)

	_, _, err = m.AsOf(ctx, h)
	require.NoError(t, err)

	err = m.Checkout(ctx, "as_of/"+h.String())
	require.Error(t, err)
}

func TestCommitLogWalksParentChain(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	h1, err := m.Commit(ctx, nil, CommitOptions{Message: "c1", Author: "a"})
	require.NoError(t, err)
	h2, err := m.Commit(ctx, nil, CommitOptions{Message: "c2", Author: "a"})
	require.NoError(t, err)

	history, err := m.Log().History(ctx, h2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, h2, history[0].Hash)
	require.Equal(t, h1, history[1].Hash)
}
