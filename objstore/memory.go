package objstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"synapsedb.dev/synapsedb/types"
)

// MemoryBackend is a map-backed ObjectBackend used by tests and the
// zero-dependency embedded configuration.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (m *MemoryBackend) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.objects[path] = cp
	return nil
}

func (m *MemoryBackend) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryBackend) BatchRead(ctx context.Context, paths []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		if data, ok := m.objects[p]; ok {
			out[p] = append([]byte(nil), data...)
		}
	}
	return out, nil
}

func (m *MemoryBackend) BatchConfig() BatchConfig { return DefaultLocalBatchConfig() }
func (m *MemoryBackend) Kind() Kind               { return KindLocal }
