package txn

import (
	"context"

	"synapsedb.dev/synapsedb/graphidx"
	"synapsedb.dev/synapsedb/metaindex"
	"synapsedb.dev/synapsedb/types"
)

// storageOps is the narrow slice of storage.Engine this package depends
// on, kept as an interface so txn doesn't import storage directly (the
// engine package wires concrete *storage.Engine values in).
type storageOps interface {
	SaveNoun(ctx context.Context, n *types.Noun) error
	DeleteNoun(ctx context.Context, nounType types.NounType, id string) error
	SaveNounMetadata(ctx context.Context, n *types.Noun) error
	DeleteNounMetadata(ctx context.Context, nounType types.NounType, id string) error
	SaveVerb(ctx context.Context, v *types.Verb) error
	DeleteVerb(ctx context.Context, id string) error
	SaveVerbMetadata(ctx context.Context, v *types.Verb) error
	DeleteVerbMetadata(ctx context.Context, id string) error
}

// --- noun vector / metadata ---

type SaveNounOp struct {
	Storage  storageOps
	Noun     *types.Noun
	Prev     *types.Noun // nil if the noun did not previously exist
	HadPrev  bool
}

func (op *SaveNounOp) Name() string { return "save_noun" }
func (op *SaveNounOp) Apply(ctx context.Context) error {
	return op.Storage.SaveNoun(ctx, op.Noun)
}
func (op *SaveNounOp) Rollback(ctx context.Context) error {
	if op.HadPrev {
		return op.Storage.SaveNoun(ctx, op.Prev)
	}
	return op.Storage.DeleteNoun(ctx, op.Noun.Type, op.Noun.ID)
}

type DeleteNounOp struct {
	Storage storageOps
	Prev    *types.Noun
}

func (op *DeleteNounOp) Name() string { return "delete_noun" }
func (op *DeleteNounOp) Apply(ctx context.Context) error {
	return op.Storage.DeleteNoun(ctx, op.Prev.Type, op.Prev.ID)
}
func (op *DeleteNounOp) Rollback(ctx context.Context) error {
	return op.Storage.SaveNoun(ctx, op.Prev)
}

type SaveNounMetadataOp struct {
	Storage storageOps
	Noun    *types.Noun
	Prev    *types.Noun
	HadPrev bool
}

func (op *SaveNounMetadataOp) Name() string { return "save_noun_metadata" }
func (op *SaveNounMetadataOp) Apply(ctx context.Context) error {
	return op.Storage.SaveNounMetadata(ctx, op.Noun)
}
func (op *SaveNounMetadataOp) Rollback(ctx context.Context) error {
	if op.HadPrev {
		return op.Storage.SaveNounMetadata(ctx, op.Prev)
	}
	return op.Storage.DeleteNounMetadata(ctx, op.Noun.Type, op.Noun.ID)
}

// --- HNSW (typed) ---

type hnswWriter interface {
	Add(ctx context.Context, t types.NounType, id string, vec []float32) error
	Delete(ctx context.Context, t types.NounType, id string) error
}

type AddHNSWOp struct {
	Index  hnswWriter
	Type   types.NounType
	ID     string
	Vector []float32
}

func (op *AddHNSWOp) Name() string { return "add_hnsw" }
func (op *AddHNSWOp) Apply(ctx context.Context) error {
	return op.Index.Add(ctx, op.Type, op.ID, op.Vector)
}
func (op *AddHNSWOp) Rollback(ctx context.Context) error {
	return op.Index.Delete(ctx, op.Type, op.ID)
}

type RemoveHNSWOp struct {
	Index  hnswWriter
	Type   types.NounType
	ID     string
	Vector []float32 // needed to re-insert on rollback
}

func (op *RemoveHNSWOp) Name() string { return "remove_hnsw" }
func (op *RemoveHNSWOp) Apply(ctx context.Context) error {
	return op.Index.Delete(ctx, op.Type, op.ID)
}
func (op *RemoveHNSWOp) Rollback(ctx context.Context) error {
	return op.Index.Add(ctx, op.Type, op.ID, op.Vector)
}

// --- metadata index ---

type AddMetaIndexOp struct {
	Index    *metaindex.Index
	ID       string
	NounType types.NounType
	Meta     map[string]types.MetadataValue
}

func (op *AddMetaIndexOp) Name() string { return "add_metaindex" }
func (op *AddMetaIndexOp) Apply(ctx context.Context) error {
	op.Index.AddToIndex(op.ID, op.NounType, op.Meta)
	return nil
}
func (op *AddMetaIndexOp) Rollback(ctx context.Context) error {
	op.Index.RemoveFromIndex(op.ID, op.NounType, op.Meta)
	return nil
}

type RemoveMetaIndexOp struct {
	Index    *metaindex.Index
	ID       string
	NounType types.NounType
	Meta     map[string]types.MetadataValue
}

func (op *RemoveMetaIndexOp) Name() string { return "remove_metaindex" }
func (op *RemoveMetaIndexOp) Apply(ctx context.Context) error {
	op.Index.RemoveFromIndex(op.ID, op.NounType, op.Meta)
	return nil
}
func (op *RemoveMetaIndexOp) Rollback(ctx context.Context) error {
	op.Index.AddToIndex(op.ID, op.NounType, op.Meta)
	return nil
}

// --- verb / verb metadata ---

type SaveVerbOp struct {
	Storage storageOps
	Verb    *types.Verb
	Prev    *types.Verb
	HadPrev bool
}

func (op *SaveVerbOp) Name() string { return "save_verb" }
func (op *SaveVerbOp) Apply(ctx context.Context) error {
	return op.Storage.SaveVerb(ctx, op.Verb)
}
func (op *SaveVerbOp) Rollback(ctx context.Context) error {
	if op.HadPrev {
		return op.Storage.SaveVerb(ctx, op.Prev)
	}
	return op.Storage.DeleteVerb(ctx, op.Verb.ID)
}

type DeleteVerbOp struct {
	Storage storageOps
	Prev    *types.Verb
}

func (op *DeleteVerbOp) Name() string { return "delete_verb" }
func (op *DeleteVerbOp) Apply(ctx context.Context) error {
	return op.Storage.DeleteVerb(ctx, op.Prev.ID)
}
func (op *DeleteVerbOp) Rollback(ctx context.Context) error {
	return op.Storage.SaveVerb(ctx, op.Prev)
}

type SaveVerbMetadataOp struct {
	Storage storageOps
	Verb    *types.Verb
	Prev    *types.Verb
	HadPrev bool
}

func (op *SaveVerbMetadataOp) Name() string { return "save_verb_metadata" }
func (op *SaveVerbMetadataOp) Apply(ctx context.Context) error {
	return op.Storage.SaveVerbMetadata(ctx, op.Verb)
}
func (op *SaveVerbMetadataOp) Rollback(ctx context.Context) error {
	if op.HadPrev {
		return op.Storage.SaveVerbMetadata(ctx, op.Prev)
	}
	return op.Storage.DeleteVerbMetadata(ctx, op.Verb.ID)
}

// --- graph adjacency index ---

type AddGraphIndexOp struct {
	Index    *graphidx.Index
	VerbID   string
	Source   string
	Target   string
	VerbType types.VerbType
}

func (op *AddGraphIndexOp) Name() string { return "add_graphindex" }
func (op *AddGraphIndexOp) Apply(ctx context.Context) error {
	op.Index.AddEdge(op.VerbID, op.Source, op.Target, op.VerbType)
	return nil
}
func (op *AddGraphIndexOp) Rollback(ctx context.Context) error {
	op.Index.RemoveEdge(op.VerbID)
	return nil
}

type RemoveGraphIndexOp struct {
	Index    *graphidx.Index
	VerbID   string
	Source   string
	Target   string
	VerbType types.VerbType
}

func (op *RemoveGraphIndexOp) Name() string { return "remove_graphindex" }
func (op *RemoveGraphIndexOp) Apply(ctx context.Context) error {
	op.Index.RemoveEdge(op.VerbID)
	return nil
}
func (op *RemoveGraphIndexOp) Rollback(ctx context.Context) error {
	op.Index.AddEdge(op.VerbID, op.Source, op.Target, op.VerbType)
	return nil
}
