package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/objstore"
)

func TestStorePutGetRoundTrip(t *testing.T) {
	s := NewStore(objstore.NewMemoryBackend(), "branches/main/_cow")
	ctx := context.Background()

	data := []byte("hello commit layer")
	h, err := s.Put(ctx, KindBlob, data)
	require.NoError(t, err)
	require.False(t, h.IsNull())

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.True(t, s.Has(ctx, h))
}

func TestStorePutIsIdempotent(t *testing.T) {
	s := NewStore(objstore.NewMemoryBackend(), "x")
	ctx := context.Background()

	data := []byte("same bytes twice")
	h1, err := s.Put(ctx, KindBlob, data)
	require.NoError(t, err)
	h2, err := s.Put(ctx, KindBlob, data)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestStoreCompressesLargePayloads(t *testing.T) {
	s := NewStore(objstore.NewMemoryBackend(), "x")
	ctx := context.Background()

	data := []byte(strings.Repeat("a", CompressionThreshold*4))
	h, err := s.Put(ctx, KindBlob, data)
	require.NoError(t, err)

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGetNullHashFails(t *testing.T) {
	s := NewStore(objstore.NewMemoryBackend(), "x")
	_, err := s.Get(context.Background(), NullHash)
	require.Error(t, err)
}
