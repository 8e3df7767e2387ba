package cow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"synapsedb.dev/synapsedb/blob"
	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/types"
)

// refRecord is what's actually persisted per branch: the commit hash
// plus free-form metadata (e.g. "forked_from", "created_at").
type refRecord struct {
	CommitHash string            `json:"commitHash"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// RefManager maps branch names to commit hashes. CopyRef is the single
// primitive that makes fork() instantaneous: it duplicates a ref entry
// without touching any blob, tree, or commit object.
type RefManager struct {
	backend objstore.ObjectBackend
	prefix  string // "_cow/refs"
}

func NewRefManager(backend objstore.ObjectBackend, prefix string) *RefManager {
	return &RefManager{backend: backend, prefix: prefix}
}

func (r *RefManager) path(branch string) string {
	return fmt.Sprintf("%s/%s", r.prefix, branch)
}

// GetRef returns the commit hash a branch currently points at. An unborn
// branch (never committed) returns the null hash and no error.
func (r *RefManager) GetRef(ctx context.Context, branch string) (blob.Hash, error) {
	data, err := r.backend.Read(ctx, r.path(branch))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return blob.NullHash, nil
		}
		return blob.Hash{}, fmt.Errorf("%w: reading ref %s: %v", types.ErrStorage, branch, err)
	}
	var rec refRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return blob.Hash{}, fmt.Errorf("%w: decoding ref %s: %v", types.ErrStorage, branch, err)
	}
	if rec.CommitHash == "" {
		return blob.NullHash, nil
	}
	return blob.ParseHash(rec.CommitHash)
}

// SetRef points branch at commitHash, overwriting any prior value.
func (r *RefManager) SetRef(ctx context.Context, branch string, commitHash blob.Hash, meta map[string]string) error {
	rec := refRecord{CommitHash: commitHash.String(), Meta: meta}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.backend.Write(ctx, r.path(branch), data); err != nil {
		return fmt.Errorf("%w: writing ref %s: %v", types.ErrStorage, branch, err)
	}
	return nil
}

// CopyRef duplicates src's ref entry onto dst. Together with the new
// branch's parent marker this is all fork() writes — no node tables,
// vectors, or indexes are copied; the forked branch reads through to
// its parent's records until a write diverges them.
func (r *RefManager) CopyRef(ctx context.Context, src, dst string) error {
	data, err := r.backend.Read(ctx, r.path(src))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			data, err = json.Marshal(refRecord{CommitHash: blob.NullHash.String()})
			if err != nil {
				return err
			}
		} else {
			return fmt.Errorf("%w: reading source ref %s: %v", types.ErrStorage, src, err)
		}
	}
	if err := r.backend.Write(ctx, r.path(dst), data); err != nil {
		return fmt.Errorf("%w: writing dest ref %s: %v", types.ErrStorage, dst, err)
	}
	return nil
}

func (r *RefManager) DeleteRef(ctx context.Context, branch string) error {
	return r.backend.Delete(ctx, r.path(branch))
}

// ListRefs returns all branch names currently tracked.
func (r *RefManager) ListRefs(ctx context.Context) ([]string, error) {
	paths, err := r.backend.List(ctx, r.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: listing refs: %v", types.ErrStorage, err)
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p[len(r.prefix)+1:]
	}
	return out, nil
}
