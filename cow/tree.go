package cow

import (
	"context"
	"encoding/json"
	"sort"

	"synapsedb.dev/synapsedb/blob"
	"synapsedb.dev/synapsedb/types"
)

// EntryKind distinguishes a tree entry that points at a raw blob from one
// that points at another tree (a nested directory-like grouping).
type EntryKind string

const (
	EntryBlob EntryKind = "blob"
	EntryTree EntryKind = "tree"
)

// TreeEntry is one (path component → object) binding inside a Tree.
type TreeEntry struct {
	Hash blob.Hash `json:"hash"`
	Size int64     `json:"size"`
	Kind EntryKind `json:"kind"`
}

// Tree is an ordered map from path component to entry. captureState
// commits key entries "entities/<id>" and "relations/<src>-<tgt>-<verb>"
// directly — there is no real directory nesting, just a flat namespace
// under those two prefixes.
type Tree struct {
	Entries map[string]TreeEntry `json:"entries"`
}

func NewTree() *Tree {
	return &Tree{Entries: make(map[string]TreeEntry)}
}

func (t *Tree) Set(path string, entry TreeEntry) {
	t.Entries[path] = entry
}

func (t *Tree) Get(path string) (TreeEntry, bool) {
	e, ok := t.Entries[path]
	return e, ok
}

// Paths returns the tree's keys in sorted order, so canonical encoding
// (and therefore the tree's content hash) is deterministic regardless of
// insertion order.
func (t *Tree) Paths() []string {
	out := make([]string, 0, len(t.Entries))
	for k := range t.Entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// canonicalBytes serializes the tree with sorted keys so two trees with
// identical entries always hash identically regardless of build order.
func (t *Tree) canonicalBytes() ([]byte, error) {
	paths := t.Paths()
	ordered := make([]struct {
		Path  string    `json:"path"`
		Entry TreeEntry `json:"entry"`
	}, len(paths))
	for i, p := range paths {
		ordered[i].Path = p
		ordered[i].Entry = t.Entries[p]
	}
	return json.Marshal(ordered)
}

func decodeTree(data []byte) (*Tree, error) {
	var ordered []struct {
		Path  string    `json:"path"`
		Entry TreeEntry `json:"entry"`
	}
	if err := json.Unmarshal(data, &ordered); err != nil {
		return nil, err
	}
	t := NewTree()
	for _, e := range ordered {
		t.Entries[e.Path] = e.Entry
	}
	return t, nil
}

// WriteTree stores the tree as a tree-kind object and returns its hash.
func WriteTree(ctx context.Context, store *blob.Store, t *Tree) (blob.Hash, error) {
	data, err := t.canonicalBytes()
	if err != nil {
		return blob.Hash{}, err
	}
	return store.Put(ctx, blob.KindTree, data)
}

// ReadTree loads and decodes the tree stored at h.
func ReadTree(ctx context.Context, store *blob.Store, h blob.Hash) (*Tree, error) {
	if h.IsNull() {
		return NewTree(), nil
	}
	data, err := store.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	t, err := decodeTree(data)
	if err != nil {
		return nil, types.ErrStorage
	}
	return t, nil
}
