package writebuffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferFlushesOnMaxSize(t *testing.T) {
	var flushed map[string][]byte
	var mu sync.Mutex
	b := New(Config{MaxSize: 2, MaxAge: time.Hour}, func(ctx context.Context, entries map[string][]byte) error {
		mu.Lock()
		defer mu.Unlock()
		flushed = entries
		return nil
	})
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "a", []byte("1")))
	require.NoError(t, b.Put(ctx, "b", []byte("2")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 2)
}

func TestBufferLastWriterWinsWithinBatch(t *testing.T) {
	var flushed map[string][]byte
	b := New(Config{MaxSize: 10, MaxAge: time.Hour}, func(ctx context.Context, entries map[string][]byte) error {
		flushed = entries
		return nil
	})
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "a", []byte("first")))
	require.NoError(t, b.Put(ctx, "a", []byte("second")))
	require.NoError(t, b.Flush(ctx))

	require.Equal(t, []byte("second"), flushed["a"])
	require.Len(t, flushed, 1)
}

func TestBufferFlushesOnAge(t *testing.T) {
	flushedCh := make(chan map[string][]byte, 1)
	b := New(Config{MaxSize: 1000, MaxAge: 20 * time.Millisecond}, func(ctx context.Context, entries map[string][]byte) error {
		flushedCh <- entries
		return nil
	})

	require.NoError(t, b.Put(context.Background(), "a", []byte("1")))

	select {
	case entries := <-flushedCh:
		require.Len(t, entries, 1)
	case <-time.After(time.Second):
		t.Fatal("expected age-triggered flush")
	}
}

func TestCoalescerDeduplicatesConcurrentFetches(t *testing.T) {
	var calls int32
	c := NewCoalescer(func(ctx context.Context, id string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		return []byte("value:" + id), nil
	})

	var wg sync.WaitGroup
	results := make([][]byte, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "shared")
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		require.Equal(t, []byte("value:shared"), r)
	}
}
