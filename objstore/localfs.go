package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"synapsedb.dev/synapsedb/types"
)

// LocalFSBackend is the simplest durable backend: one file per object
// under a root directory, mirroring the path structure the storage
// engine hands it (branches/<branch>/entities/...). Useful for
// deterministic golden-path tests and single-node deployments that
// don't want an embedded database dependency.
type LocalFSBackend struct {
	root string
}

func NewLocalFSBackend(root string) (*LocalFSBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return &LocalFSBackend{root: root}, nil
}

func (l *LocalFSBackend) abs(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func (l *LocalFSBackend) Write(ctx context.Context, path string, data []byte) error {
	full := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}

func (l *LocalFSBackend) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return data, nil
}

func (l *LocalFSBackend) Delete(ctx context.Context, path string) error {
	err := os.Remove(l.abs(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}

func (l *LocalFSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	root := l.abs(prefix)
	walkRoot := root
	if _, err := os.Stat(walkRoot); os.IsNotExist(err) {
		// Prefix may be a partial path component, not a directory;
		// walk the parent and filter.
		walkRoot = filepath.Dir(walkRoot)
	}
	err := filepath.Walk(walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return out, nil
}

func (l *LocalFSBackend) BatchRead(ctx context.Context, paths []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, err := l.Read(ctx, p)
		if err != nil {
			continue
		}
		out[p] = data
	}
	return out, nil
}

func (l *LocalFSBackend) BatchConfig() BatchConfig { return DefaultLocalBatchConfig() }
func (l *LocalFSBackend) Kind() Kind               { return KindLocal }
