package metaindex

import (
	"fmt"
	"sort"
	"sync"

	"synapsedb.dev/synapsedb/types"
)

// valueBucket pairs the typed value a group of ids were indexed under
// with the id set itself, so range predicates can compare against the
// original value rather than its string encoding.
type valueBucket struct {
	value types.MetadataValue
	ids   *IDSet
}

// fieldIndex is one field's value -> IDSet mapping.
type fieldIndex struct {
	values map[string]*valueBucket // stringified MetadataValue -> (value, ids)
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{values: make(map[string]*valueBucket)}
}

// Index is the metadata inverted index: field -> value -> entity-id set,
// plus the ordinal bookkeeping behind the count/affinity statistics.
// Entity ids (strings, typically UUIDs) are mapped to dense uint32
// ordinals so IDSet can stay a flat sorted-slice set instead of a map
// keyed by string.
type Index struct {
	mu sync.RWMutex

	fields map[string]*fieldIndex

	idToOrdinal map[string]uint32
	ordinalToID []string
	freeList    []uint32

	// lastMeta remembers each id's last-indexed metadata: AddToIndex uses
	// it to tell a new id from a re-indexed one for the entity counts, and
	// it backs GetFieldValueForEntity and sorted reads. RemoveFromIndex
	// works only from the prevMeta its caller passes.
	lastMeta map[string]map[string]types.MetadataValue

	totalEntities int
	perTypeCounts []int // indexed by NounType ordinal

	// affinity[nounType][field] counts how many entities of that type
	// carry that field, for the per-type-per-field affinity stat.
	affinity []map[string]int
}

func NewIndex() *Index {
	return &Index{
		fields:        make(map[string]*fieldIndex),
		idToOrdinal:   make(map[string]uint32),
		lastMeta:      make(map[string]map[string]types.MetadataValue),
		perTypeCounts: make([]int, types.NounTypeCount()),
		affinity:      make([]map[string]int, types.NounTypeCount()),
	}
}

func (ix *Index) ordinalFor(id string) uint32 {
	if ord, ok := ix.idToOrdinal[id]; ok {
		return ord
	}
	var ord uint32
	if n := len(ix.freeList); n > 0 {
		ord = ix.freeList[n-1]
		ix.freeList = ix.freeList[:n-1]
		ix.ordinalToID[ord] = id
	} else {
		ord = uint32(len(ix.ordinalToID))
		ix.ordinalToID = append(ix.ordinalToID, id)
	}
	ix.idToOrdinal[id] = ord
	return ord
}

func valueKey(v types.MetadataValue) string {
	switch v.Kind {
	case types.MetaBool:
		return fmt.Sprintf("%d:%v", v.Kind, v.Bool)
	case types.MetaInt:
		return fmt.Sprintf("%d:%v", v.Kind, v.Int)
	case types.MetaFloat:
		return fmt.Sprintf("%d:%v", v.Kind, v.Float)
	case types.MetaStr:
		return fmt.Sprintf("%d:%v", v.Kind, v.Str)
	case types.MetaBytes:
		return fmt.Sprintf("%d:%x", v.Kind, v.Bytes)
	default:
		return fmt.Sprintf("%d:%v", v.Kind, v)
	}
}

// AddToIndex indexes id's metadata fields, updating counts and affinity
// for nounType.
func (ix *Index) AddToIndex(id string, nounType types.NounType, meta map[string]types.MetadataValue) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ord := ix.ordinalFor(id)
	for field, val := range meta {
		fi, ok := ix.fields[field]
		if !ok {
			fi = newFieldIndex()
			ix.fields[field] = fi
		}
		key := valueKey(val)
		bucket, ok := fi.values[key]
		if !ok {
			bucket = &valueBucket{value: val, ids: NewIDSet()}
			fi.values[key] = bucket
		}
		bucket.ids.Add(ord)
	}

	if _, existed := ix.lastMeta[id]; !existed {
		ix.totalEntities++
		if int(nounType) < len(ix.perTypeCounts) {
			ix.perTypeCounts[nounType]++
		}
	}
	if ix.affinity[nounType] == nil {
		ix.affinity[nounType] = make(map[string]int)
	}
	for field := range meta {
		ix.affinity[nounType][field]++
	}
	ix.lastMeta[id] = meta
}

// RemoveFromIndex undoes AddToIndex for id using prevMeta (the metadata
// it was indexed under), matching the documented
// remove_from_index(id, prev_meta) signature.
func (ix *Index) RemoveFromIndex(id string, nounType types.NounType, prevMeta map[string]types.MetadataValue) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ord, ok := ix.idToOrdinal[id]
	if !ok {
		return
	}
	for field, val := range prevMeta {
		if fi, ok := ix.fields[field]; ok {
			if bucket, ok := fi.values[valueKey(val)]; ok {
				bucket.ids.Remove(ord)
				if bucket.ids.Len() == 0 {
					delete(fi.values, valueKey(val))
				}
			}
		}
		if ix.affinity[nounType] != nil {
			ix.affinity[nounType][field]--
		}
	}

	delete(ix.idToOrdinal, id)
	delete(ix.lastMeta, id)
	ix.ordinalToID[ord] = ""
	ix.freeList = append(ix.freeList, ord)

	ix.totalEntities--
	if int(nounType) < len(ix.perTypeCounts) {
		ix.perTypeCounts[nounType]--
	}
}

func (ix *Index) idsFromOrdinals(set *IDSet) []string {
	out := make([]string, 0, set.Len())
	for _, ord := range set.Slice() {
		if int(ord) < len(ix.ordinalToID) {
			if id := ix.ordinalToID[ord]; id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// Cardinality returns the number of distinct values indexed for field.
func (ix *Index) Cardinality(field string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	fi, ok := ix.fields[field]
	if !ok {
		return 0
	}
	return len(fi.values)
}

// TotalEntities, PerTypeCount, and Affinity expose the maintained stats.
func (ix *Index) TotalEntities() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.totalEntities
}

func (ix *Index) PerTypeCount(t types.NounType) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if int(t) >= len(ix.perTypeCounts) {
		return 0
	}
	return ix.perTypeCounts[t]
}

func (ix *Index) Affinity(t types.NounType, field string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.affinity[t] == nil {
		return 0
	}
	return ix.affinity[t][field]
}

func (ix *Index) GetFieldValueForEntity(id, field string) (types.MetadataValue, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	meta, ok := ix.lastMeta[id]
	if !ok {
		return types.MetadataValue{}, false
	}
	v, ok := meta[field]
	return v, ok
}

// GetSortedIDsForFilter evaluates filter, then sorts the resulting ids
// by field in dir ("asc"/"desc"), nulls last for asc / first for desc,
// matching the engine-wide sort convention used by the query coordinator.
func (ix *Index) GetSortedIDsForFilter(filter *Filter, field string, dir string) ([]string, error) {
	ids, err := ix.GetIDsForFilter(filter)
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		id    string
		value types.MetadataValue
		has   bool
	}
	rows := make([]scored, len(ids))
	for i, id := range ids {
		v, ok := ix.lastMeta[id][field]
		rows[i] = scored{id: id, value: v, has: ok}
	}

	desc := dir == "desc"
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].has != rows[j].has {
			if desc {
				return !rows[i].has // nulls first on desc
			}
			return rows[i].has // nulls last on asc
		}
		if !rows[i].has {
			return false
		}
		cmp, err := types.Compare(rows[i].value, rows[j].value)
		if err != nil {
			return false
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.id
	}
	return out, nil
}
