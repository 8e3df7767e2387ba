package engine

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"synapsedb.dev/synapsedb/storage"
	"synapsedb.dev/synapsedb/types"
)

// rebuildGate is the metadata-index/graph-index counterpart of
// hnsw.Index's internal single-flight rebuild future: exactly one
// rebuild runs at a time, concurrent
// callers await the same future, and a failure clears the completed flag
// so the next query retries.
type rebuildGate struct {
	mu        sync.Mutex
	done      bool
	future    chan struct{}
	lastErr   error
}

func (g *rebuildGate) run(ctx context.Context, fn func(context.Context) error) error {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return nil
	}
	if g.future != nil {
		f := g.future
		g.mu.Unlock()
		select {
		case <-f:
			g.mu.Lock()
			err := g.lastErr
			g.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := make(chan struct{})
	g.future = f
	g.mu.Unlock()

	err := fn(ctx)

	g.mu.Lock()
	g.lastErr = err
	g.future = nil
	if err == nil {
		g.done = true
	}
	g.mu.Unlock()
	close(f)
	return err
}

// ensureRebuilt performs the cold-start rebuild: when the HNSW index and the secondary indexes are empty but storage
// has data, stream nouns/verbs back in. Idempotent and safe to call from
// every query path — disable_auto_rebuild skips the eager call at Open
// and defers this to the first Find, Similar, or write call instead; Get
// reads storage directly and does not trigger it.
func (db *Database) ensureRebuilt(ctx context.Context) error {
	return db.rebuildGate.run(ctx, func(ctx context.Context) error {
		if err := db.storageEng.RecoverCounts(ctx); err != nil {
			return err
		}
		if err := db.hnswIdx.Rebuild(ctx, db.storageEng); err != nil {
			return err
		}
		if err := db.rebuildMetaIndex(ctx); err != nil {
			return err
		}
		return db.rebuildGraphIndex(ctx)
	})
}

// scanAllPagination asks ScanNouns for every page in one call; cold-start
// rebuild reads the whole branch once, unlike the query coordinator's
// paginated reads.
func scanAllPagination() storage.Pagination {
	return storage.Pagination{Limit: 1 << 30, Offset: 0}
}

func (db *Database) rebuildMetaIndex(ctx context.Context) error {
	for t := 0; t < types.NounTypeCount(); t++ {
		nt := types.NounType(t)
		page, err := db.storageEng.ScanNouns(ctx, nt, scanAllPagination(), nil)
		if err != nil {
			return err
		}
		for _, n := range page.Items {
			db.metaIdx.AddToIndex(n.ID, n.Type, n.Metadata)
			db.rememberType(n.ID, n.Type)
		}
	}
	return nil
}

func (db *Database) rebuildGraphIndex(ctx context.Context) error {
	return db.storageEng.ScanVerbs(ctx, func(v *types.Verb) error {
		db.graphIdx.AddEdge(v.ID, v.Source, v.Target, v.Type)
		return nil
	})
}

// --- process-wide shutdown hooks ---

type shutdownRegistry struct {
	mu       sync.Mutex
	targets  map[*Database]struct{}
	once     sync.Once
}

var globalShutdown = &shutdownRegistry{targets: make(map[*Database]struct{})}

// registerShutdownTarget adds db to the process-wide set flushed on
// SIGTERM/SIGINT, installing the signal handler itself exactly once per
// process even though many Database instances may come and go.
func registerShutdownTarget(db *Database) {
	globalShutdown.mu.Lock()
	globalShutdown.targets[db] = struct{}{}
	globalShutdown.mu.Unlock()

	globalShutdown.once.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-ch
			globalShutdown.flushAll()
		}()
	})
}

func unregisterShutdownTarget(db *Database) {
	globalShutdown.mu.Lock()
	delete(globalShutdown.targets, db)
	globalShutdown.mu.Unlock()
}

func (r *shutdownRegistry) flushAll() {
	r.mu.Lock()
	dbs := make([]*Database, 0, len(r.targets))
	for db := range r.targets {
		dbs = append(dbs, db)
	}
	r.mu.Unlock()

	ctx := context.Background()
	for _, db := range dbs {
		_ = db.Flush(ctx)
	}
}
