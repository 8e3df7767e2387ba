package cow

import (
	"context"
	"fmt"
	"time"

	"synapsedb.dev/synapsedb/blob"
	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/types"
)

// StateSource lets Manager.Commit capture a full snapshot of a branch's
// live data without the cow package needing to know about nouns, verbs,
// or any other engine concept. The engine implements this by scanning
// its branch's stored records; cow only needs stable ids and serialized
// bytes to build content-addressed tree entries from.
type StateSource interface {
	// EachEntity yields (id, serialized bytes) for every live entity.
	EachEntity(ctx context.Context, yield func(id string, data []byte) error) error
	// EachRelation yields (source, target, verbType, serialized bytes)
	// for every live relationship.
	EachRelation(ctx context.Context, yield func(source, target, verbType string, data []byte) error) error
	EntityCount() int
	RelationCount() int
}

// Manager owns the commit-layer surface exposed to the engine: refs,
// the object store, branch state tracking, and the fork/checkout/commit/
// as_of operations described for the commit layer. It does not know how
// to rebuild HNSW or metadata indexes after a checkout or fork — that is
// the engine's job, triggered by the hooks Manager calls back into.
type Manager struct {
	backend objstore.ObjectBackend
	store   *blob.Store
	refs    *RefManager
	state   *StateTracker

	current string
}

// Config bundles the knobs Manager needs to bind itself to a particular
// backend and initial branch.
type Config struct {
	Backend       objstore.ObjectBackend
	InitialBranch string
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: cow manager requires a backend", types.ErrValidation)
	}
	branch := cfg.InitialBranch
	if branch == "" {
		branch = "main"
	}
	store := blob.NewStore(cfg.Backend, "_cow")
	return &Manager{
		backend: cfg.Backend,
		store:   store,
		refs:    NewRefManager(cfg.Backend, "_cow/refs"),
		state:   NewStateTracker(),
		current: branch,
	}, nil
}

func (m *Manager) CurrentBranch() string { return m.current }

func (m *Manager) Store() *blob.Store { return m.store }

// Head returns the branch's current commit hash (null for Unborn).
func (m *Manager) Head(ctx context.Context, branch string) (blob.Hash, error) {
	return m.refs.GetRef(ctx, branch)
}

// EnsureInitialCommit creates an empty (NULL_HASH tree) commit on branch
// if it has never been committed to, so fork() always has something to
// copy_ref from. Returns the (possibly pre-existing) head commit.
func (m *Manager) EnsureInitialCommit(ctx context.Context, branch, author string) (blob.Hash, error) {
	head, err := m.refs.GetRef(ctx, branch)
	if err != nil {
		return blob.Hash{}, err
	}
	if !head.IsNull() {
		return head, nil
	}
	h, err := NewCommitBuilder().
		Tree(blob.NullHash).
		Author(author).
		Message("initial commit").
		Timestamp(time.Now()).
		Build(ctx, m.store)
	if err != nil {
		return blob.Hash{}, fmt.Errorf("cow: creating initial commit on %s: %w", branch, err)
	}
	if err := m.refs.SetRef(ctx, branch, h, nil); err != nil {
		return blob.Hash{}, err
	}
	if err := m.state.Activate(branch, h); err != nil {
		return blob.Hash{}, err
	}
	return h, nil
}

// Fork implements the four documented fork steps: ensure an initial
// commit exists on the source branch, copy_ref it to newBranch, verify
// the new ref landed, and hand back newBranch's head so the caller (the
// engine) can spin up a sibling bound to it. The caller is responsible
// for making the sibling's HNSW COW-aware and rebuilding its metadata
// and graph indexes lazily from the shared backend.
func (m *Manager) Fork(ctx context.Context, newBranch, author string) (blob.Hash, error) {
	if newBranch == "" {
		return blob.Hash{}, fmt.Errorf("%w: fork requires a new branch name", types.ErrValidation)
	}
	existing, err := m.refs.GetRef(ctx, newBranch)
	if err != nil {
		return blob.Hash{}, err
	}
	if !existing.IsNull() {
		return blob.Hash{}, fmt.Errorf("cow: branch %s already exists", newBranch)
	}

	if _, err := m.EnsureInitialCommit(ctx, m.current, author); err != nil {
		return blob.Hash{}, fmt.Errorf("cow: fork failed ensuring initial commit: %w", err)
	}
	if err := m.refs.CopyRef(ctx, m.current, newBranch); err != nil {
		return blob.Hash{}, fmt.Errorf("cow: fork failed copying ref: %w", err)
	}
	head, err := m.refs.GetRef(ctx, newBranch)
	if err != nil || head.IsNull() {
		return blob.Hash{}, fmt.Errorf("cow: fork verification failed for %s", newBranch)
	}
	if err := m.state.Activate(newBranch, head); err != nil {
		return blob.Hash{}, err
	}
	return head, nil
}

// Checkout switches the manager's current branch. The engine calls this
// first and then rebuilds its own storage chain and indexes for the
// target branch; Manager itself holds no index state to reset.
func (m *Manager) Checkout(ctx context.Context, branch string) error {
	if st := m.state.Get(branch); st.Status == StatusFrozen {
		return fmt.Errorf("%w: %s is a frozen as_of snapshot, use AsOf instead", types.ErrReadOnlySnapshot, branch)
	}
	m.current = branch
	return nil
}

// CommitOptions configures a single commit() call.
type CommitOptions struct {
	Message      string
	Author       string
	CaptureState bool
	Meta         map[string]string
}

// Commit builds and records a new commit on the current branch. Without
// CaptureState the commit points at NULL_HASH (metadata-only history
// entry); with it, every live entity and relationship is serialized,
// deduplicated by content hash, and assembled into a tree keyed by
// stable identifiers before the commit is built.
func (m *Manager) Commit(ctx context.Context, src StateSource, opts CommitOptions) (blob.Hash, error) {
	if err := m.state.RequireWritable(m.current); err != nil {
		return blob.Hash{}, err
	}
	parent, err := m.refs.GetRef(ctx, m.current)
	if err != nil {
		return blob.Hash{}, err
	}

	treeHash := blob.NullHash
	entityCount, relationCount := 0, 0
	if opts.CaptureState {
		if src == nil {
			return blob.Hash{}, fmt.Errorf("%w: captureState commit requires a state source", types.ErrValidation)
		}
		tree := NewTree()
		if err := src.EachEntity(ctx, func(id string, data []byte) error {
			h, err := m.store.Put(ctx, blob.KindBlob, data)
			if err != nil {
				return err
			}
			tree.Set(fmt.Sprintf("entities/%s", id), TreeEntry{Hash: h, Size: int64(len(data)), Kind: EntryBlob})
			return nil
		}); err != nil {
			return blob.Hash{}, fmt.Errorf("cow: capturing entities: %w", err)
		}
		if err := src.EachRelation(ctx, func(source, target, verbType string, data []byte) error {
			h, err := m.store.Put(ctx, blob.KindBlob, data)
			if err != nil {
				return err
			}
			key := fmt.Sprintf("relations/%s-%s-%s", source, target, verbType)
			tree.Set(key, TreeEntry{Hash: h, Size: int64(len(data)), Kind: EntryBlob})
			return nil
		}); err != nil {
			return blob.Hash{}, fmt.Errorf("cow: capturing relations: %w", err)
		}
		treeHash, err = WriteTree(ctx, m.store, tree)
		if err != nil {
			return blob.Hash{}, err
		}
		entityCount, relationCount = src.EntityCount(), src.RelationCount()
	}

	builder := NewCommitBuilder().
		Tree(treeHash).
		Parent(parent).
		Author(opts.Author).
		Message(opts.Message).
		Timestamp(time.Now()).
		Counts(entityCount, relationCount)
	for k, v := range opts.Meta {
		builder.MetaField(k, v)
	}
	h, err := builder.Build(ctx, m.store)
	if err != nil {
		return blob.Hash{}, err
	}
	if err := m.refs.SetRef(ctx, m.current, h, nil); err != nil {
		return blob.Hash{}, err
	}
	if err := m.state.Activate(m.current, h); err != nil {
		return blob.Hash{}, err
	}
	return h, nil
}

// AsOf resolves commitHash into the Tree it points at, so the engine can
// build a read-only historical adapter over it. The returned branch name
// is synthetic, used only to register a Frozen state with the tracker.
func (m *Manager) AsOf(ctx context.Context, commitHash blob.Hash) (*Tree, *Commit, error) {
	c, err := ReadCommit(ctx, m.store, commitHash)
	if err != nil {
		return nil, nil, fmt.Errorf("cow: resolving as_of commit %s: %w", commitHash, err)
	}
	tree, err := ReadTree(ctx, m.store, c.TreeHash)
	if err != nil {
		return nil, nil, fmt.Errorf("cow: loading tree for as_of commit %s: %w", commitHash, err)
	}
	snapshotBranch := fmt.Sprintf("as_of/%s", commitHash)
	m.state.Freeze(snapshotBranch, commitHash)
	return tree, c, nil
}

// Log returns a CommitLog bound to this manager's object store, for
// walking a branch's history or resolving as_of by timestamp.
func (m *Manager) Log() *CommitLog { return NewCommitLog(m.store) }

func (m *Manager) Refs() *RefManager { return m.refs }

func (m *Manager) DeleteBranch(ctx context.Context, branch string) error {
	if branch == m.current {
		return fmt.Errorf("%w: cannot delete the current branch", types.ErrValidation)
	}
	return m.refs.DeleteRef(ctx, branch)
}
