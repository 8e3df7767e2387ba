package objstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/types"
)

func TestMemoryBackendWriteReadDelete(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "a/b.json", []byte("hello")))
	data, err := b.Read(ctx, "a/b.json")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	_, err = b.Read(ctx, "missing")
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, b.Delete(ctx, "a/b.json"))
	_, err = b.Read(ctx, "a/b.json")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryBackendListAndBatchRead(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "p/1.json", []byte("1")))
	require.NoError(t, b.Write(ctx, "p/2.json", []byte("2")))
	require.NoError(t, b.Write(ctx, "q/3.json", []byte("3")))

	paths, err := b.List(ctx, "p/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"p/1.json", "p/2.json"}, paths)

	data, err := b.BatchRead(ctx, []string{"p/1.json", "p/2.json", "missing"})
	require.NoError(t, err)
	require.Len(t, data, 2)
}

func TestMemoryBackendWriteIsDefensiveCopy(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	buf := []byte("original")
	require.NoError(t, b.Write(ctx, "k", buf))
	buf[0] = 'X'

	got, err := b.Read(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "original", string(got))
}

func TestMemoryBackendKindAndBatchConfig(t *testing.T) {
	b := NewMemoryBackend()
	require.Equal(t, KindLocal, b.Kind())
	require.True(t, b.BatchConfig().ParallelWritesSafe)
}

func TestLocalFSBackendWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalFSBackend(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "branches/main/x/y.json", []byte("data")))
	got, err := b.Read(ctx, "branches/main/x/y.json")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)

	require.FileExists(t, filepath.Join(dir, "branches", "main", "x", "y.json"))

	require.NoError(t, b.Delete(ctx, "branches/main/x/y.json"))
	_, err = b.Read(ctx, "branches/main/x/y.json")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestLocalFSBackendList(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalFSBackend(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "branches/main/a/1.json", []byte("1")))
	require.NoError(t, b.Write(ctx, "branches/main/a/2.json", []byte("2")))
	require.NoError(t, b.Write(ctx, "branches/main/b/3.json", []byte("3")))

	paths, err := b.List(ctx, "branches/main/a/")
	require.NoError(t, err)
	require.Len(t, paths, 2)
}

func TestLocalFSBackendDeleteMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalFSBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Delete(context.Background(), "never/existed.json"))
}
