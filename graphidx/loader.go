package graphidx

import (
	"context"

	"synapsedb.dev/synapsedb/types"
)

// VerbBatchLoader is the storage-layer collaborator GetVerbsBatchCached
// materializes verbs through; storage.Engine satisfies it via
// GetVerbBatch.
type VerbBatchLoader interface {
	GetVerbBatch(ctx context.Context, ids []string) (map[string]*types.Verb, error)
}

// GetVerbsBatchCached materializes the verbs named by ids using the
// storage engine's batch-read API, letting callers turn a
// set of adjacency-index verb ids into full Verb records in one round
// trip instead of one Get per id.
func (ix *Index) GetVerbsBatchCached(ctx context.Context, loader VerbBatchLoader, ids []string) (map[string]*types.Verb, error) {
	return loader.GetVerbBatch(ctx, ids)
}
