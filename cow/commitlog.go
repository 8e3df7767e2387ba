package cow

import (
	"context"
	"fmt"
	"time"

	"synapsedb.dev/synapsedb/blob"
)

// LogEntry pairs a commit with the hash it was read from, since Commit
// itself doesn't carry its own hash.
type LogEntry struct {
	Hash   blob.Hash
	Commit *Commit
}

// CommitLog walks a branch's history by following ParentHash links,
// oldest commit last. It streams one object read at a time rather than
// materializing the whole chain, so as_of() on a million-commit branch
// doesn't pull the entire history into memory just to find one entry.
type CommitLog struct {
	store *blob.Store
}

func NewCommitLog(store *blob.Store) *CommitLog {
	return &CommitLog{store: store}
}

// Walk calls visit(hash, commit) for head and each ancestor in turn,
// newest first, stopping early if visit returns false or an error.
func (l *CommitLog) Walk(ctx context.Context, head blob.Hash, visit func(blob.Hash, *Commit) (bool, error)) error {
	cur := head
	for !cur.IsNull() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := ReadCommit(ctx, l.store, cur)
		if err != nil {
			return fmt.Errorf("cow: walking history at %s: %w", cur, err)
		}
		cont, err := visit(cur, c)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		cur = c.ParentHash
	}
	return nil
}

// History materializes the full ancestor chain from head, newest first.
// Intended for small branches or bounded queries; Walk is preferred for
// anything that can stop early.
func (l *CommitLog) History(ctx context.Context, head blob.Hash) ([]LogEntry, error) {
	var out []LogEntry
	err := l.Walk(ctx, head, func(h blob.Hash, c *Commit) (bool, error) {
		out = append(out, LogEntry{Hash: h, Commit: c})
		return true, nil
	})
	return out, err
}

// AsOf returns the most recent commit at or before timestamp t, walking
// back from head. Returns the null hash (and a nil commit) if every
// commit in the branch's history postdates t.
func (l *CommitLog) AsOf(ctx context.Context, head blob.Hash, t time.Time) (blob.Hash, *Commit, error) {
	var (
		foundHash blob.Hash
		foundC    *Commit
	)
	err := l.Walk(ctx, head, func(h blob.Hash, c *Commit) (bool, error) {
		if c.Timestamp.After(t) {
			return true, nil
		}
		foundHash, foundC = h, c
		return false, nil
	})
	if err != nil {
		return blob.Hash{}, nil, err
	}
	return foundHash, foundC, nil
}
