package objstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"synapsedb.dev/synapsedb/types"
)

// objectsBucket is the single bbolt bucket all objects live in; the path
// itself (branches/<branch>/...) is used as the key, so list-by-prefix is
// a cursor seek rather than a bucket-per-directory scheme.
var objectsBucket = []byte("objects")

// BoltBackend is an embedded, single-file local object store. It's the
// preferred local backend over LocalFSBackend when a single durable file
// (rather than a directory tree) is wanted, e.g. for easy snapshot/copy.
type BoltBackend struct {
	db *bolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open bolt db: %v", types.ErrStorage, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create bucket: %v", types.ErrStorage, err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error { return b.db.Close() }

func (b *BoltBackend) Write(ctx context.Context, path string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Put([]byte(path), data)
	})
}

func (b *BoltBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(objectsBucket).Get([]byte(path))
		if v == nil {
			return fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltBackend) Delete(ctx context.Context, path string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Delete([]byte(path))
	})
}

func (b *BoltBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(objectsBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return out, nil
}

func (b *BoltBackend) BatchRead(ctx context.Context, paths []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(paths))
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(objectsBucket)
		for _, p := range paths {
			if v := bucket.Get([]byte(p)); v != nil {
				out[p] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return out, nil
}

func (b *BoltBackend) BatchConfig() BatchConfig { return DefaultLocalBatchConfig() }
func (b *BoltBackend) Kind() Kind               { return KindLocal }
