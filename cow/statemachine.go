package cow

import (
	"fmt"
	"sync"

	"synapsedb.dev/synapsedb/blob"
	"synapsedb.dev/synapsedb/types"
)

// BranchStatus is the state a branch occupies. Unborn means the branch
// has a ref entry (or none yet) but no commit has ever been made on it;
// Active tracks the latest commit; Frozen is the state an as_of snapshot
// is pinned to and never leaves — writes against it are rejected.
type BranchStatus int

const (
	StatusUnborn BranchStatus = iota
	StatusActive
	StatusFrozen
)

func (s BranchStatus) String() string {
	switch s {
	case StatusUnborn:
		return "unborn"
	case StatusActive:
		return "active"
	case StatusFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// BranchState is one branch's position in the commit/fork state machine.
type BranchState struct {
	Branch string
	Status BranchStatus
	Commit blob.Hash
}

// StateTracker holds the in-memory BranchState for every branch this
// engine instance knows about. It follows the bounded
// in-memory operation registry: a small map guarded by one mutex, with
// no persistence of its own — durable truth lives in RefManager, this is
// just a cache of "what state is each branch in right now" so callers
// don't have to re-derive it from a ref read on every check.
type StateTracker struct {
	mu     sync.RWMutex
	states map[string]*BranchState
}

func NewStateTracker() *StateTracker {
	return &StateTracker{states: make(map[string]*BranchState)}
}

// Get returns the tracked state for branch, defaulting to Unborn with
// the null commit if the branch has never been observed.
func (t *StateTracker) Get(branch string) BranchState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.states[branch]; ok {
		return *s
	}
	return BranchState{Branch: branch, Status: StatusUnborn, Commit: blob.NullHash}
}

// Activate transitions branch to Active(commit), legal from Unborn or
// another Active state (the normal post-commit transition).
func (t *StateTracker) Activate(branch string, commit blob.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.states[branch]
	if cur != nil && cur.Status == StatusFrozen {
		return fmt.Errorf("cow: branch %s is frozen, cannot activate", branch)
	}
	t.states[branch] = &BranchState{Branch: branch, Status: StatusActive, Commit: commit}
	return nil
}

// Freeze pins branch (normally a synthetic as_of branch name) to
// Frozen(commit). Frozen states never transition further.
func (t *StateTracker) Freeze(branch string, commit blob.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[branch] = &BranchState{Branch: branch, Status: StatusFrozen, Commit: commit}
}

// RequireWritable returns ErrReadOnlySnapshot-flavored error if branch is
// frozen; commit() calls this before doing any work.
func (t *StateTracker) RequireWritable(branch string) error {
	st := t.Get(branch)
	if st.Status == StatusFrozen {
		return fmt.Errorf("%w: branch %s is a frozen as_of snapshot", types.ErrReadOnlySnapshot, branch)
	}
	return nil
}
