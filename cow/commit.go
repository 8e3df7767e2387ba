package cow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"synapsedb.dev/synapsedb/blob"
)

// Commit is the unit of history: a pointer to a tree (or NULL_HASH for a
// metadata-only commit), an optional parent, and provenance. Its hash is
// the hash of its own canonical serialization, so two commits with
// identical fields (including timestamp) collide — callers that want
// distinct commits should let timestamps differ naturally.
type Commit struct {
	TreeHash      blob.Hash         `json:"treeHash"`
	ParentHash    blob.Hash         `json:"parentHash"`
	Author        string            `json:"author"`
	Message       string            `json:"message"`
	Timestamp     time.Time         `json:"timestamp"`
	Meta          map[string]string `json:"meta,omitempty"`
	EntityCount   int               `json:"entityCount"`
	RelationCount int               `json:"relationCount"`
}

func (c *Commit) hasParent() bool { return !c.ParentHash.IsNull() }

// CommitBuilder assembles a Commit and writes it to the object store.
// Follows the fluent-configure-then-build object
// construction style rather than a single large constructor.
type CommitBuilder struct {
	c Commit
}

func NewCommitBuilder() *CommitBuilder {
	return &CommitBuilder{c: Commit{Meta: make(map[string]string)}}
}

func (b *CommitBuilder) Tree(h blob.Hash) *CommitBuilder         { b.c.TreeHash = h; return b }
func (b *CommitBuilder) Parent(h blob.Hash) *CommitBuilder       { b.c.ParentHash = h; return b }
func (b *CommitBuilder) Author(a string) *CommitBuilder          { b.c.Author = a; return b }
func (b *CommitBuilder) Message(m string) *CommitBuilder         { b.c.Message = m; return b }
func (b *CommitBuilder) Timestamp(t time.Time) *CommitBuilder    { b.c.Timestamp = t; return b }
func (b *CommitBuilder) Counts(entities, relations int) *CommitBuilder {
	b.c.EntityCount = entities
	b.c.RelationCount = relations
	return b
}
func (b *CommitBuilder) MetaField(k, v string) *CommitBuilder {
	b.c.Meta[k] = v
	return b
}

// Build writes the assembled commit as a blob and returns its hash.
func (b *CommitBuilder) Build(ctx context.Context, store *blob.Store) (blob.Hash, error) {
	if b.c.Timestamp.IsZero() {
		return blob.Hash{}, fmt.Errorf("cow: commit timestamp is required")
	}
	data, err := json.Marshal(b.c)
	if err != nil {
		return blob.Hash{}, err
	}
	return store.Put(ctx, blob.KindCommit, data)
}

// ReadCommit loads and decodes the commit stored at h.
func ReadCommit(ctx context.Context, store *blob.Store, h blob.Hash) (*Commit, error) {
	data, err := store.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cow: decoding commit %s: %w", h, err)
	}
	return &c, nil
}
