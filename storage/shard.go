// Package storage implements the engine's sharded key/value layout over
// a pluggable objstore.ObjectBackend: branch-scoped paths for noun/verb
// vectors and metadata, system objects (counts, HNSW bookkeeping), batch
// reads/writes, and paginated scans: a repository layered over a
// backend, generalized from SQL rows to content-addressed paths.
package storage

import (
	"fmt"
	"hash/fnv"

	"synapsedb.dev/synapsedb/types"
)

// ShardCount bounds directory/bucket listing cost: every noun and verb
// id is sharded into one of this many buckets by the low bits of a hash
// of its UUID.
const ShardCount = 256

// ShardFor returns the two-hex-digit shard bucket for id.
func ShardFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return fmt.Sprintf("%02x", h.Sum32()%ShardCount)
}

// Paths centralizes the branch-scoped layout described in the storage
// engine's contract. Every path the engine touches is
// built through one of these helpers so the on-disk/on-bucket shape
// stays consistent and in one place.
type Paths struct {
	Branch string
}

func (p Paths) branchRoot() string { return fmt.Sprintf("branches/%s", p.Branch) }

func (p Paths) NounVector(nounType types.NounType, id string) string {
	return fmt.Sprintf("%s/entities/nouns/%s/vectors/%s/%s.json", p.branchRoot(), nounType, ShardFor(id), id)
}

func (p Paths) NounMetadata(nounType types.NounType, id string) string {
	return fmt.Sprintf("%s/entities/nouns/%s/metadata/%s/%s.json", p.branchRoot(), nounType, ShardFor(id), id)
}

func (p Paths) NounVectorPrefix(nounType types.NounType) string {
	return fmt.Sprintf("%s/entities/nouns/%s/vectors/", p.branchRoot(), nounType)
}

func (p Paths) NounMetadataPrefix(nounType types.NounType) string {
	return fmt.Sprintf("%s/entities/nouns/%s/metadata/", p.branchRoot(), nounType)
}

func (p Paths) VerbVector(id string) string {
	return fmt.Sprintf("%s/entities/verbs/vectors/%s/%s.json", p.branchRoot(), ShardFor(id), id)
}

func (p Paths) VerbMetadata(id string) string {
	return fmt.Sprintf("%s/entities/verbs/metadata/%s/%s.json", p.branchRoot(), ShardFor(id), id)
}

func (p Paths) VerbVectorPrefix() string {
	return fmt.Sprintf("%s/entities/verbs/vectors/", p.branchRoot())
}

func (p Paths) VerbMetadataPrefix() string {
	return fmt.Sprintf("%s/entities/verbs/metadata/", p.branchRoot())
}

func (p Paths) CountsObject() string {
	return fmt.Sprintf("%s/_system/counts.json", p.branchRoot())
}

func (p Paths) HNSWSystemObject() string {
	return fmt.Sprintf("%s/_system/hnsw-system.json", p.branchRoot())
}

// ParentObject records which branch a forked branch reads through to;
// absent for root branches.
func (p Paths) ParentObject() string {
	return fmt.Sprintf("%s/_system/parent.json", p.branchRoot())
}

// LegacyIndexPrefix is the historical location (pre-_system/) that
// readers fall back to per the documented backward-compat layout;
// writers never target it.
func (p Paths) LegacyIndexPrefix() string {
	return fmt.Sprintf("%s/index", p.branchRoot())
}

func (p Paths) LegacyCountsObject() string {
	return fmt.Sprintf("%s/counts.json", p.LegacyIndexPrefix())
}
